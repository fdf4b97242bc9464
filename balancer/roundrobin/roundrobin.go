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

// Package roundrobin implements a round-robin load balancing policy
// (spec §4.4): every Pick advances to the next Ready SubConn in the
// current snapshot, wrapping around.
package roundrobin

import (
	"math/rand"
	"sync"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/balancer/base"
	"github.com/relaygrpc/grpc/internal/grpclog"
)

// Name is the name this policy is registered under.
const Name = "round_robin"

var logger = grpclog.Component("roundrobin")

func init() {
	balancer.Register(base.NewBalancerBuilder(Name, &rrPickerBuilder{}, base.Config{}))
}

type rrPickerBuilder struct{}

func (*rrPickerBuilder) Build(info base.PickerBuildInfo) balancer.Picker {
	logger.Infof("roundrobin: Build called with %d ready SubConns", len(info.ReadySCs))
	if len(info.ReadySCs) == 0 {
		return base.NewErrPicker(balancer.ErrNoSubConnAvailable)
	}
	scs := make([]balancer.SubConn, 0, len(info.ReadySCs))
	for sc := range info.ReadySCs {
		scs = append(scs, sc)
	}
	return &rrPicker{
		subConns: scs,
		// Start at a random index so that when a new Picker is built on
		// every SubConn state change, load does not pile onto scs[0].
		next: rand.Intn(len(scs)),
	}
}

type rrPicker struct {
	subConns []balancer.SubConn

	mu   sync.Mutex
	next int
}

func (p *rrPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	p.mu.Lock()
	sc := p.subConns[p.next]
	p.next = (p.next + 1) % len(p.subConns)
	p.mu.Unlock()
	return balancer.PickResult{SubConn: sc}, nil
}
