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

package roundrobin

import (
	"testing"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/balancer/base"
	"github.com/relaygrpc/grpc/resolver"
)

type fakeSubConn struct{ id int }

func (*fakeSubConn) UpdateAddresses([]resolver.Address) {}
func (*fakeSubConn) Connect()                           {}
func (*fakeSubConn) Shutdown()                          {}

func TestRoundRobinCyclesThroughReadySubConns(t *testing.T) {
	scs := []balancer.SubConn{&fakeSubConn{1}, &fakeSubConn{2}, &fakeSubConn{3}}
	ready := make(map[balancer.SubConn]base.SubConnInfo, len(scs))
	for _, sc := range scs {
		ready[sc] = base.SubConnInfo{}
	}

	p := (&rrPickerBuilder{}).Build(base.PickerBuildInfo{ReadySCs: ready})

	seen := make(map[balancer.SubConn]int)
	for i := 0; i < len(scs)*3; i++ {
		res, err := p.Pick(balancer.PickInfo{})
		if err != nil {
			t.Fatalf("Pick returned error: %v", err)
		}
		seen[res.SubConn]++
	}
	for _, sc := range scs {
		if seen[sc] != 3 {
			t.Errorf("SubConn %v picked %d times, want 3", sc, seen[sc])
		}
	}
}

func TestRoundRobinNoReadySubConnsReturnsErrPicker(t *testing.T) {
	p := (&rrPickerBuilder{}).Build(base.PickerBuildInfo{})
	if _, err := p.Pick(balancer.PickInfo{}); err != balancer.ErrNoSubConnAvailable {
		t.Fatalf("Pick with no ready SubConns returned err=%v, want ErrNoSubConnAvailable", err)
	}
}
