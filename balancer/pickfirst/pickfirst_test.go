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

package pickfirst

import (
	"testing"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/resolver"
)

type fakeSubConn struct {
	shutdown bool
}

func (*fakeSubConn) UpdateAddresses([]resolver.Address) {}
func (*fakeSubConn) Connect()                           {}
func (f *fakeSubConn) Shutdown()                        { f.shutdown = true }

type fakeClientConn struct {
	subConns []*fakeSubConn
	states   []balancer.State
}

func (f *fakeClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &fakeSubConn{}
	f.subConns = append(f.subConns, sc)
	return sc, nil
}
func (f *fakeClientConn) UpdateState(s balancer.State)          { f.states = append(f.states, s) }
func (f *fakeClientConn) ResolveNow(resolver.ResolveNowOptions) {}
func (f *fakeClientConn) Target() string                        { return "fake" }

func addrs(hosts ...string) []resolver.Address {
	out := make([]resolver.Address, len(hosts))
	for i, h := range hosts {
		out[i] = resolver.Address{Addr: h}
	}
	return out
}

func TestPickFirstKeepsSubConnOnOverlappingUpdate(t *testing.T) {
	fcc := &fakeClientConn{}
	b := &pickfirstBalancer{cc: fcc}

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		ResolverState: resolver.State{Addresses: addrs("a", "b")},
	}); err != nil {
		t.Fatalf("first UpdateClientConnState: %v", err)
	}
	if len(fcc.subConns) != 1 {
		t.Fatalf("expected exactly one SubConn created, got %d", len(fcc.subConns))
	}
	first := b.sc

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		ResolverState: resolver.State{Addresses: addrs("b", "c")},
	}); err != nil {
		t.Fatalf("second UpdateClientConnState: %v", err)
	}
	if len(fcc.subConns) != 1 {
		t.Fatalf("overlapping address update should not create a new SubConn, got %d total", len(fcc.subConns))
	}
	if b.sc != first {
		t.Fatal("overlapping address update should keep the existing SubConn")
	}
}

func TestPickFirstReplacesSubConnOnDisjointUpdate(t *testing.T) {
	fcc := &fakeClientConn{}
	b := &pickfirstBalancer{cc: fcc}

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		ResolverState: resolver.State{Addresses: addrs("a")},
	}); err != nil {
		t.Fatalf("first UpdateClientConnState: %v", err)
	}
	firstSC := fcc.subConns[0]

	// Promote the first SubConn to Ready so pendingShutdown has something
	// to defer against on the next disjoint update.
	b.UpdateSubConnState(b.sc, balancer.SubConnState{ConnectivityState: connectivity.Ready})

	if err := b.UpdateClientConnState(balancer.ClientConnState{
		ResolverState: resolver.State{Addresses: addrs("z")},
	}); err != nil {
		t.Fatalf("second UpdateClientConnState: %v", err)
	}
	if len(fcc.subConns) != 2 {
		t.Fatalf("disjoint address update should create a new SubConn, got %d total", len(fcc.subConns))
	}
	if b.pendingShutdown == nil {
		t.Fatal("the replaced SubConn should be pending shutdown until the new one is Ready")
	}

	// The new SubConn reaching Ready should shut the old one down.
	b.UpdateSubConnState(b.sc, balancer.SubConnState{ConnectivityState: connectivity.Ready})
	if !firstSC.shutdown {
		t.Error("old SubConn should be shut down once the replacement is Ready")
	}
	if b.pendingShutdown != nil {
		t.Error("pendingShutdown should be cleared once acted upon")
	}
}

func TestPickFirstRejectsEmptyAddressList(t *testing.T) {
	fcc := &fakeClientConn{}
	b := &pickfirstBalancer{cc: fcc}
	err := b.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{}})
	if err != balancer.ErrBadResolverState {
		t.Fatalf("empty address list: err = %v, want ErrBadResolverState", err)
	}
}
