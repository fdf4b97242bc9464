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
	"context"
	"fmt"
	"sync"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/internal/balancer/childhandler"
	"github.com/relaygrpc/grpc/internal/grpcsync"
	"github.com/relaygrpc/grpc/resolver"
)

// ccBalancerWrapper sits between the Channel and the ChildHandlerLoadBalancer.
// It serializes every call into the balancer on a single logical worker
// (spec §4.5: "serializing balancer updates on a single logical worker so
// that a Picker change and a state change are published atomically"),
// and it implements balancer.ClientConn so the balancer can call back
// into the Channel without ever taking the Channel's lock itself.
type ccBalancerWrapper struct {
	cc         *ClientConn
	serializer *grpcsync.CallbackSerializer
	cancel     context.CancelFunc
	child      *childhandler.Balancer

	mu     sync.Mutex
	closed bool
}

func newCCBalancerWrapper(cc *ClientConn) *ccBalancerWrapper {
	ctx, cancel := context.WithCancel(context.Background())
	ccb := &ccBalancerWrapper{
		cc:         cc,
		serializer: grpcsync.NewCallbackSerializer(ctx),
		cancel:     cancel,
	}
	opts := balancer.BuildOptions{
		DialCreds:   cc.dopts.creds,
		CredsBundle: cc.dopts.credsBundle,
		Dialer:      cc.dopts.dialer,
		Target:      cc.parsedTarget,
	}
	ccb.child = childhandler.New(ccb, opts)
	return ccb
}

func (ccb *ccBalancerWrapper) updateClientConnState(ccs *balancer.ClientConnState) error {
	errCh := make(chan error, 1)
	ok := ccb.serializer.Schedule(func(ctx context.Context) {
		if ctx.Err() != nil {
			errCh <- nil
			return
		}
		errCh <- ccb.child.UpdateClientConnState(*ccs)
	})
	if !ok {
		return nil
	}
	return <-errCh
}

func (ccb *ccBalancerWrapper) resolverError(err error) {
	ccb.serializer.Schedule(func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		ccb.child.ResolverError(err)
	})
}

// switchTo instructs the wrapper to make name the active load balancing
// policy, resolved from the service config's first recognized
// loadBalancingConfig entry (spec §3, §4.4).
func (ccb *ccBalancerWrapper) switchTo(name string) {
	ccb.serializer.Schedule(func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		ccb.child.SwitchTo(name)
	})
}

func (ccb *ccBalancerWrapper) close() {
	ccb.mu.Lock()
	ccb.closed = true
	ccb.mu.Unlock()
	ccb.serializer.Schedule(func(context.Context) { ccb.child.Close() })
	ccb.cancel()
}

func (ccb *ccBalancerWrapper) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	ccb.mu.Lock()
	if ccb.closed {
		ccb.mu.Unlock()
		return nil, fmt.Errorf("grpc: balancer is closed; no new SubConns allowed")
	}
	ccb.mu.Unlock()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("grpc: cannot create a SubConn with an empty address list")
	}
	return ccb.cc.newSubConn(addrs, opts)
}

func (ccb *ccBalancerWrapper) UpdateState(s balancer.State) {
	ccb.mu.Lock()
	closed := ccb.closed
	ccb.mu.Unlock()
	if closed {
		return
	}
	ccb.cc.pickerWrapper.updatePicker(s.Picker)
	ccb.cc.csMgr.updateState(s.ConnectivityState)
}

func (ccb *ccBalancerWrapper) ResolveNow(o resolver.ResolveNowOptions) {
	ccb.cc.resolveNow(o)
}

func (ccb *ccBalancerWrapper) Target() string {
	return ccb.cc.target
}
