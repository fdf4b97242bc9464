/*
 *
 * Copyright 2020 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package grpclog provides the structured event sink consumed throughout
// the engine (spec §6, Logger). The default implementation is backed by
// github.com/golang/glog's leveled verbosity, matching its V(n) semantics.
package grpclog

import (
	"fmt"

	"github.com/golang/glog"
)

// Logger mirrors the subset of glog's API the engine depends on: leveled
// Info/Warning/Error plus a V(level) gate for chatty diagnostics such as
// "ConnectionRequestedInNonIdleState" (spec §4.5).
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Warning(args ...any)
	Warningf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	V(l int) bool
}

type componentLogger struct {
	component string
}

// Component returns a Logger that prefixes every line with "[component]",
// the way the teacher's internal/serviceconfig.go pairs
// `grpclog.Component("core")` with its package-level logger var.
func Component(component string) Logger {
	return &componentLogger{component: component}
}

func (c *componentLogger) prefix(args []any) []any {
	return append([]any{"[" + c.component + "]"}, args...)
}

func (c *componentLogger) Info(args ...any) {
	glog.InfoDepth(1, c.prefix(args)...)
}

func (c *componentLogger) Infof(format string, args ...any) {
	glog.InfoDepth(1, fmt.Sprintf("[%s] "+format, append([]any{c.component}, args...)...))
}

func (c *componentLogger) Warning(args ...any) {
	glog.WarningDepth(1, c.prefix(args)...)
}

func (c *componentLogger) Warningf(format string, args ...any) {
	glog.WarningDepth(1, fmt.Sprintf("[%s] "+format, append([]any{c.component}, args...)...))
}

func (c *componentLogger) Error(args ...any) {
	glog.ErrorDepth(1, c.prefix(args)...)
}

func (c *componentLogger) Errorf(format string, args ...any) {
	glog.ErrorDepth(1, fmt.Sprintf("[%s] "+format, append([]any{c.component}, args...)...))
}

func (c *componentLogger) V(l int) bool {
	return bool(glog.V(glog.Level(l)))
}
