/*
 *
 * Copyright 2021 gRPC authors.
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

// Package childhandler implements the outer ChildHandlerLoadBalancer
// (spec §4.4): it resolves a balancer name from the service config and
// delegates to the selected policy, installing pick_first when no
// recognized policy is named. Switching children tears the old child
// down only after it is replaced, so a service config update can never
// leave the Channel without an active Balancer.
package childhandler

import (
	"strings"
	"sync"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/internal/grpclog"
)

var logger = grpclog.Component("core")

// DefaultName is installed when the service config names no recognized
// policy.
const DefaultName = "pick_first"

// Balancer wraps a ClientConn so the child's updates flow straight
// through, while this type owns which concrete balancer.Balancer is
// currently active.
type Balancer struct {
	cc   balancer.ClientConn
	opts balancer.BuildOptions

	mu        sync.Mutex
	name      string
	child     balancer.Balancer
}

// New constructs a ChildHandlerLoadBalancer bound to cc.
func New(cc balancer.ClientConn, opts balancer.BuildOptions) *Balancer {
	return &Balancer{cc: cc, opts: opts}
}

// SwitchTo installs the named policy as the active child, tearing down
// the previous one only once the new one is built (spec §4.4).
func (b *Balancer) SwitchTo(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.EqualFold(b.name, name) && b.child != nil {
		return
	}
	builder := balancer.Get(name)
	if builder == nil {
		logger.Warningf("childhandler: no balancer registered for %q; falling back to %q", name, DefaultName)
		name = DefaultName
		builder = balancer.Get(DefaultName)
	}
	if builder == nil {
		// pick_first always registers itself via init(); this only trips
		// if that package was never imported.
		logger.Errorf("childhandler: default balancer %q is not registered", DefaultName)
		return
	}
	old := b.child
	b.child = builder.Build(b.cc, b.opts)
	b.name = name
	if old != nil {
		old.Close()
	}
}

// UpdateClientConnState forwards to the currently active child, which
// the Connection Manager selects beforehand via SwitchTo once it has
// parsed the resolver's service config (spec §3, §4.4). If no child has
// ever been installed yet, the default policy is built first.
func (b *Balancer) UpdateClientConnState(s balancer.ClientConnState) error {
	b.mu.Lock()
	child := b.child
	b.mu.Unlock()
	if child == nil {
		b.SwitchTo(DefaultName)
		b.mu.Lock()
		child = b.child
		b.mu.Unlock()
	}
	if child == nil {
		return balancer.ErrBadResolverState
	}
	return child.UpdateClientConnState(s)
}

func (b *Balancer) ResolverError(err error) {
	b.mu.Lock()
	child := b.child
	b.mu.Unlock()
	if child == nil {
		b.SwitchTo(DefaultName)
		b.mu.Lock()
		child = b.child
		b.mu.Unlock()
	}
	if child != nil {
		child.ResolverError(err)
	}
}

func (b *Balancer) UpdateSubConnState(sc balancer.SubConn, s balancer.SubConnState) {
	b.mu.Lock()
	child := b.child
	b.mu.Unlock()
	if child != nil {
		child.UpdateSubConnState(sc, s)
	}
}

func (b *Balancer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.child != nil {
		b.child.Close()
		b.child = nil
	}
}
