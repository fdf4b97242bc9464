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

// Package pickfirst implements the PickFirst load balancing policy (spec
// §4.4): one SubConn covering the whole address list. When a refresh
// keeps at least one address in common with the current list, the
// existing SubConn's address list is updated in place rather than torn
// down, so an established connection survives an address-list reorder.
package pickfirst

import (
	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/internal/grpclog"
	"github.com/relaygrpc/grpc/resolver"
)

// Name is the name this policy is registered as, and the one the outer
// ChildHandlerLoadBalancer installs when the service config names no
// recognized policy (spec §4.4).
const Name = "pick_first"

var logger = grpclog.Component("pickfirst")

func init() {
	balancer.Register(builder{})
}

type builder struct{}

func (builder) Name() string { return Name }

func (builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	return &pickfirstBalancer{cc: cc}
}

type pickfirstBalancer struct {
	cc              balancer.ClientConn
	sc              balancer.SubConn
	pendingShutdown balancer.SubConn
	addrs           []resolver.Address
	state           connectivity.State
}

func (b *pickfirstBalancer) ResolverError(err error) {
	if b.sc == nil {
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &picker{err: err},
		})
	}
}

func (b *pickfirstBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	if len(s.ResolverState.Addresses) == 0 {
		b.ResolverError(balancer.ErrBadResolverState)
		return balancer.ErrBadResolverState
	}

	if b.sc != nil && overlap(b.addrs, s.ResolverState.Addresses) {
		// The endpoint sets overlap: keep the existing SubConn and let it
		// absorb the new address ordering without a reconnect (spec §4.4).
		b.addrs = s.ResolverState.Addresses
		b.sc.UpdateAddresses(b.addrs)
		return nil
	}

	old := b.sc
	var sc balancer.SubConn
	sc, err := b.cc.NewSubConn(s.ResolverState.Addresses, balancer.NewSubConnOptions{
		// Bind the listener to this call's SubConn explicitly: the
		// callback fires asynchronously, by which point b.sc may already
		// point at a newer SubConn from a subsequent UpdateClientConnState,
		// so reading b.sc inside the listener would misattribute a stale
		// event from this SubConn to whatever is current at fire time.
		StateListener: func(scs balancer.SubConnState) { b.UpdateSubConnState(sc, scs) },
	})
	if err != nil {
		logger.Warningf("pickfirst: failed to create new SubConn: %v", err)
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.TransientFailure, Picker: &picker{err: err}})
		return balancer.ErrBadResolverState
	}
	b.addrs = s.ResolverState.Addresses
	b.sc = sc
	b.state = connectivity.Connecting
	b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &picker{err: balancer.ErrNoSubConnAvailable}})
	sc.Connect()
	if old != nil {
		// Defer teardown of the old SubConn until the new one reports
		// Ready, so an in-flight call keeps a usable connection
		// throughout the switch.
		b.pendingShutdown = old
	}
	return nil
}

func overlap(old, new []resolver.Address) bool {
	for _, o := range old {
		for _, n := range new {
			if o.Equal(n) {
				return true
			}
		}
	}
	return false
}

func (b *pickfirstBalancer) UpdateSubConnState(sc balancer.SubConn, s balancer.SubConnState) {
	if sc != b.sc {
		return
	}
	b.state = s.ConnectivityState
	switch s.ConnectivityState {
	case connectivity.Ready:
		if b.pendingShutdown != nil {
			b.pendingShutdown.Shutdown()
			b.pendingShutdown = nil
		}
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Ready, Picker: &picker{result: balancer.PickResult{SubConn: sc}}})
	case connectivity.TransientFailure:
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.TransientFailure, Picker: &picker{err: s.ConnectionError}})
	case connectivity.Connecting, connectivity.Idle:
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &picker{err: balancer.ErrNoSubConnAvailable}})
	case connectivity.Shutdown:
	}
}

func (b *pickfirstBalancer) Close() {
	if b.sc != nil {
		b.sc.Shutdown()
	}
	if b.pendingShutdown != nil {
		b.pendingShutdown.Shutdown()
	}
}

// picker always returns the one SubConn PickFirst holds, or the
// terminal/queued outcome recorded at construction time (spec §4.4: the
// Picker returns the one Subchannel; queued if Connecting, error if
// TransientFailure).
type picker struct {
	result balancer.PickResult
	err    error
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	if p.err != nil {
		return balancer.PickResult{}, p.err
	}
	return p.result, nil
}
