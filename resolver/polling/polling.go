/*
 *
 * Copyright 2017 gRPC authors.
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

// Package polling implements the scheme-driven Polling resolver variant
// (spec §4.1): a Lookup function is invoked on a background goroutine,
// failures are retried on an exponential-with-jitter backoff schedule,
// and a ResolveNow that arrives while a resolution is already in flight
// is coalesced into it rather than starting a second one.
package polling

import (
	"context"
	"time"

	"github.com/relaygrpc/grpc/internal/backoff"
	"github.com/relaygrpc/grpc/internal/grpclog"
	"github.com/relaygrpc/grpc/resolver"
)

var logger = grpclog.Component("polling")

// LookupFunc resolves a target's endpoint into a set of addresses and an
// optional raw service config JSON document. Implementations of a
// concrete scheme (DNS, an internal naming service, ...) supply this.
type LookupFunc func(ctx context.Context, target resolver.Target) ([]resolver.Address, string, error)

// Builder constructs Resolvers for one scheme, delegating the actual
// name lookup to Lookup.
type Builder struct {
	Scm     string
	Lookup  LookupFunc
	Backoff backoff.Strategy
}

// NewBuilder returns a Builder for the polling resolver variant under
// the given scheme. If bo is nil, internal/backoff's DefaultConfig
// strategy is used.
func NewBuilder(scheme string, lookup LookupFunc, bo backoff.Strategy) *Builder {
	if bo == nil {
		bo = backoff.Exponential{Config: backoff.DefaultConfig}
	}
	return &Builder{Scm: scheme, Lookup: lookup, Backoff: bo}
}

func (b *Builder) Scheme() string { return b.Scm }

func (b *Builder) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &pollingResolver{
		target:  target,
		cc:      cc,
		lookup:  b.Lookup,
		backoff: b.Backoff,
		ctx:     ctx,
		cancel:  cancel,
		resolveNow: make(chan struct{}, 1),
	}
	go r.watcher()
	r.scheduleNow()
	return r, nil
}

type pollingResolver struct {
	target  resolver.Target
	cc      resolver.ClientConn
	lookup  LookupFunc
	backoff backoff.Strategy

	ctx    context.Context
	cancel context.CancelFunc

	resolveNow chan struct{}
}

// ResolveNow coalesces concurrent hints: a buffered, capacity-1 channel
// means a pending-but-unconsumed hint absorbs any further ones until the
// watcher goroutine picks it up (spec §4.1).
func (r *pollingResolver) ResolveNow(resolver.ResolveNowOptions) {
	r.scheduleNow()
}

func (r *pollingResolver) scheduleNow() {
	select {
	case r.resolveNow <- struct{}{}:
	default:
	}
}

func (r *pollingResolver) Close() {
	r.cancel()
}

func (r *pollingResolver) watcher() {
	var failures int
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.resolveNow:
		}

		addrs, scJSON, err := r.lookup(r.ctx, r.target)
		if r.ctx.Err() != nil {
			return
		}
		// A hint that arrived while this lookup was in flight is coalesced
		// into it rather than starting another lookup.
		select {
		case <-r.resolveNow:
		default:
		}
		if err != nil {
			failures++
			logger.Warningf("polling: lookup for target %v failed: %v", r.target, err)
			r.cc.ReportError(err)
			r.sleep(failures)
			r.scheduleNow()
			continue
		}
		failures = 0

		state := resolver.State{Addresses: addrs}
		if scJSON != "" {
			state.ServiceConfig = r.cc.ParseServiceConfig(scJSON)
		}
		r.cc.UpdateState(state)
	}
}

func (r *pollingResolver) sleep(failures int) {
	d := r.backoff.Backoff(failures - 1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
	case <-t.C:
	}
}
