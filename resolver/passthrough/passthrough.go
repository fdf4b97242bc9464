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

// Package passthrough implements the Static resolver (spec §4.1): the
// target's endpoint is used verbatim as the sole backend address, with
// no name lookup of any kind. It is the default scheme and the one used
// by the static-pick-first happy path test (spec §8, scenario 1).
package passthrough

import (
	"github.com/relaygrpc/grpc/resolver"
)

const scheme = "passthrough"

func init() {
	resolver.Register(&passthroughBuilder{})
}

type passthroughBuilder struct{}

func (*passthroughBuilder) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	r := &passthroughResolver{
		target: target,
		cc:     cc,
	}
	r.start()
	return r, nil
}

func (*passthroughBuilder) Scheme() string { return scheme }

type passthroughResolver struct {
	target resolver.Target
	cc     resolver.ClientConn
}

func (r *passthroughResolver) start() {
	r.cc.UpdateState(resolver.State{Addresses: []resolver.Address{{Addr: r.target.Endpoint}}})
}

// ResolveNow is a no-op: the address set for a passthrough target can
// never change, so there is nothing to refresh.
func (*passthroughResolver) ResolveNow(resolver.ResolveNowOptions) {}

func (*passthroughResolver) Close() {}
