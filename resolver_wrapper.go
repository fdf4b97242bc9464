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

package grpc

import (
	"sync"

	internalserviceconfig "github.com/relaygrpc/grpc/internal/serviceconfig"
	"github.com/relaygrpc/grpc/resolver"
	"github.com/relaygrpc/grpc/serviceconfig"
)

// ccResolverWrapper sits between the Channel and its Resolver, applying
// every UpdateState/ReportError callback on the balancer's serial worker
// so resolver and subchannel events never interleave unpredictably (spec
// §4.1, §4.5).
type ccResolverWrapper struct {
	cc   *ClientConn
	mu   sync.Mutex
	resolver resolver.Resolver
	closed   bool
}

func newCCResolverWrapper(cc *ClientConn, b resolver.Builder, opts resolver.BuildOptions) (*ccResolverWrapper, error) {
	ccr := &ccResolverWrapper{cc: cc}
	r, err := b.Build(cc.parsedTarget, ccr, opts)
	if err != nil {
		return nil, err
	}
	ccr.mu.Lock()
	ccr.resolver = r
	ccr.mu.Unlock()
	return ccr, nil
}

func (ccr *ccResolverWrapper) resolveNow(o resolver.ResolveNowOptions) {
	ccr.mu.Lock()
	r := ccr.resolver
	ccr.mu.Unlock()
	if r != nil {
		r.ResolveNow(o)
	}
}

func (ccr *ccResolverWrapper) close() {
	ccr.mu.Lock()
	ccr.closed = true
	r := ccr.resolver
	ccr.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// UpdateState implements resolver.ClientConn. It is invoked directly by
// the Resolver's own goroutine, so it hands the update to the balancer's
// CallbackSerializer rather than touching balancer state itself (spec
// §4.5).
func (ccr *ccResolverWrapper) UpdateState(s resolver.State) {
	ccr.mu.Lock()
	closed := ccr.closed
	ccr.mu.Unlock()
	if closed {
		return
	}
	ccr.cc.updateResolverState(s, nil)
}

// ReportError implements resolver.ClientConn.
func (ccr *ccResolverWrapper) ReportError(err error) {
	ccr.mu.Lock()
	closed := ccr.closed
	ccr.mu.Unlock()
	if closed {
		return
	}
	ccr.cc.updateResolverState(resolver.State{}, err)
}

// ParseServiceConfig implements resolver.ClientConn, using the registry of
// balancer.ConfigParsers to resolve each loadBalancingConfig entry (spec
// §3: "ordered policy preferences, first recognized wins").
func (ccr *ccResolverWrapper) ParseServiceConfig(js string) *serviceconfig.ParseResult {
	return internalserviceconfig.Parse(js)
}
