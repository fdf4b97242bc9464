/*
 *
 * Copyright 2014 gRPC authors.
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

// Package metadata defines the structure of the header and trailer metadata
// carried alongside RPCs.
package metadata

import (
	"context"
	"strings"
)

// MD is a mapping from metadata keys to values. Keys are lowercased on
// insertion, matching HTTP/2's case-insensitive header field names.
type MD map[string][]string

// New creates an MD from a given key-value map, lowercasing all keys.
func New(m map[string]string) MD {
	md := make(MD, len(m))
	for k, v := range m {
		key := strings.ToLower(k)
		md[key] = append(md[key], v)
	}
	return md
}

// Pairs returns an MD formed from the mapping of key, value pairs.
func Pairs(kv ...string) MD {
	if len(kv)%2 == 1 {
		panic("metadata: Pairs got an odd number of input pairs")
	}
	md := make(MD, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := strings.ToLower(kv[i])
		md[key] = append(md[key], kv[i+1])
	}
	return md
}

// Get obtains the values for a given key.
func (md MD) Get(k string) []string {
	return md[strings.ToLower(k)]
}

// Set sets the value of a given key, overwriting any previous values.
func (md MD) Set(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	md[strings.ToLower(k)] = vals
}

// Append adds the values to key k, not overwriting what was already there.
func (md MD) Append(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	key := strings.ToLower(k)
	md[key] = append(md[key], vals...)
}

// Copy returns a copy of md.
func (md MD) Copy() MD {
	out := make(MD, len(md))
	for k, v := range md {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

type mdOutgoingKey struct{}
type mdIncomingKey struct{}

// NewOutgoingContext creates a new context with outgoing md attached.
func NewOutgoingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, mdOutgoingKey{}, md)
}

// FromOutgoingContext returns the outgoing metadata in ctx, if any.
func FromOutgoingContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(mdOutgoingKey{}).(MD)
	return md, ok
}

// NewIncomingContext creates a new context with incoming md attached.
func NewIncomingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, mdIncomingKey{}, md)
}

// FromIncomingContext returns the incoming metadata in ctx, if any.
func FromIncomingContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(mdIncomingKey{}).(MD)
	return md, ok
}

// AppendToOutgoingContext returns a new context with the given key/value
// pairs merged into any outgoing metadata already present.
func AppendToOutgoingContext(ctx context.Context, kv ...string) context.Context {
	if len(kv)%2 == 1 {
		panic("metadata: AppendToOutgoingContext got an odd number of input pairs")
	}
	md, _ := FromOutgoingContext(ctx)
	md = md.Copy()
	for i := 0; i < len(kv); i += 2 {
		md.Append(kv[i], kv[i+1])
	}
	return NewOutgoingContext(ctx, md)
}
