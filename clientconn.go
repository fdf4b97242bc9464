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

package grpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/internal/grpclog"
	internalserviceconfig "github.com/relaygrpc/grpc/internal/serviceconfig"
	"github.com/relaygrpc/grpc/internal/subchannel"
	"github.com/relaygrpc/grpc/internal/transport"
	"github.com/relaygrpc/grpc/resolver"
	"github.com/relaygrpc/grpc/status"
)

var logger = grpclog.Component("core")

// ClientConn is the Connection Manager (spec §4.5): it owns the Resolver,
// the outer ChildHandlerLoadBalancer, and the Picker the Call Runtime
// reads for every RPC. ChannelForAddress is the only constructor.
type ClientConn struct {
	target       string
	parsedTarget resolver.Target
	authority    string
	dopts        dialOptions

	csMgr         *connectivityStateManager
	pickerWrapper *pickerWrapper
	balancerWrapper *ccBalancerWrapper
	resolverWrapper *ccResolverWrapper

	mu              sync.Mutex
	sc              *internalserviceconfig.ServiceConfig
	throttler       *retryThrottler
	conns           map[*acBalancerWrapper]struct{}
	closed          bool
	retryBufferSize int64
}

// ChannelForAddress constructs a Channel for target, applying opts in
// order (spec §6). It validates the scheme-to-TLS rules before returning,
// but never blocks waiting for a connection: that is ConnectAsync's job.
func ChannelForAddress(target string, opts ...DialOption) (*ClientConn, error) {
	dopts := defaultDialOptions()
	for _, opt := range opts {
		opt.apply(&dopts)
	}

	cc := &ClientConn{
		target: target,
		dopts:  dopts,
		conns:  make(map[*acBalancerWrapper]struct{}),
	}
	cc.parsedTarget = parseTarget(target)
	cc.csMgr = newConnectivityStateManager()
	cc.pickerWrapper = newPickerWrapper()

	scheme := cc.parsedTarget.Scheme
	if resolver.Get(scheme) == nil && dopts.resolverBuilder == nil {
		// Unknown scheme: treat the whole target string as a bare
		// endpoint under the default scheme, per resolver.Target's
		// documented fallback (spec §3).
		cc.parsedTarget = resolver.Target{Scheme: resolver.GetDefaultScheme(), Endpoint: target}
		scheme = cc.parsedTarget.Scheme
	}

	if err := credentials.CheckSecurityLevel(cc.parsedTarget.Scheme, dopts.creds, dopts.credsExplicit); err != nil {
		return nil, err
	}

	cc.authority = cc.parsedTarget.Authority
	if cc.authority == "" {
		cc.authority = cc.parsedTarget.Endpoint
	}

	if dopts.defaultServiceConfig != "" {
		res := internalserviceconfig.Parse(dopts.defaultServiceConfig)
		if res.Err != nil {
			return nil, fmt.Errorf("grpc: invalid default service config: %v", res.Err)
		}
		if sc, ok := res.Config.(*internalserviceconfig.ServiceConfig); ok {
			cc.sc = sc
		}
	}

	cc.balancerWrapper = newCCBalancerWrapper(cc)

	var rb resolver.Builder = dopts.resolverBuilder
	if rb == nil {
		rb = resolver.Get(scheme)
	}
	if rb == nil {
		return nil, fmt.Errorf("grpc: no resolver registered for scheme %q", scheme)
	}

	rw, err := newCCResolverWrapper(cc, rb, resolver.BuildOptions{
		DisableServiceConfig: dopts.disableServiceConfig,
		DialCreds:            dopts.creds,
		CredsBundle:          dopts.credsBundle,
		Dialer:               dopts.dialer,
	})
	if err != nil {
		cc.balancerWrapper.close()
		return nil, fmt.Errorf("grpc: failed to build resolver: %v", err)
	}
	cc.resolverWrapper = rw

	return cc, nil
}

// updateResolverState applies one resolver.ClientConn callback (spec
// §4.1, §4.5): service config selection (or the dial-time default, or
// keeping the prior one, per precedence), forwarded to the balancer on
// its serial worker.
func (cc *ClientConn) updateResolverState(s resolver.State, err error) {
	if err != nil {
		cc.balancerWrapper.resolverError(err)
		return
	}

	var sc *internalserviceconfig.ServiceConfig
	switch {
	case cc.dopts.disableServiceConfig:
		sc = cc.sc
	case s.ServiceConfig != nil && s.ServiceConfig.Err == nil:
		if parsed, ok := s.ServiceConfig.Config.(*internalserviceconfig.ServiceConfig); ok {
			sc = parsed
		}
	default:
		sc = cc.sc
	}

	cc.mu.Lock()
	cc.sc = sc
	if sc != nil && sc.RetryThrottling != nil {
		cc.throttler = newRetryThrottler(sc.RetryThrottling.MaxTokens, sc.RetryThrottling.TokenRatio)
	} else {
		cc.throttler = nil
	}
	cc.mu.Unlock()

	name := childHandlerDefaultName(sc)
	cc.balancerWrapper.switchTo(name)

	ccs := &balancer.ClientConnState{ResolverState: s}
	if sc != nil && sc.LBConfig != nil {
		ccs.BalancerConfig = sc.LBConfig.Config
	}
	if err := cc.balancerWrapper.updateClientConnState(ccs); err == balancer.ErrBadResolverState {
		cc.resolverWrapper.resolveNow(resolver.ResolveNowOptions{})
	}
}

// childHandlerDefaultName returns the balancer name the service config
// names, or the childhandler default when sc names none (spec §4.4).
func childHandlerDefaultName(sc *internalserviceconfig.ServiceConfig) string {
	if sc != nil && sc.LBConfig != nil && sc.LBConfig.Name != "" {
		return sc.LBConfig.Name
	}
	return "pick_first"
}

func (cc *ClientConn) resolveNow(o resolver.ResolveNowOptions) {
	if cc.resolverWrapper != nil {
		cc.resolverWrapper.resolveNow(o)
	}
}

// newSubConn implements balancer.ClientConn.NewSubConn: it wraps a fresh
// internal/subchannel.Subchannel as an acBalancerWrapper, driven by a
// Subchannel Transport built from the Channel's dial options: active by
// default, passive under WithPassiveTransport (spec §4.2, §4.3). State
// changes reach opts.StateListener on the balancer's serial worker.
func (cc *ClientConn) newSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return nil, fmt.Errorf("grpc: the Channel has been closed")
	}
	cc.mu.Unlock()

	listener := opts.StateListener
	acbw := &acBalancerWrapper{stateListener: func(s balancer.SubConnState) {
		cc.balancerWrapper.serializer.Schedule(func(ctx context.Context) {
			if ctx.Err() == nil && listener != nil {
				listener(s)
			}
		})
	}}
	creds := cc.dopts.creds
	if opts.CredsBundle != nil {
		creds = opts.CredsBundle.TransportCredentials()
	}
	authority := cc.authority
	tf := func() transport.Transport {
		if cc.dopts.passiveTransport {
			return transport.NewPassive()
		}
		return transport.NewActive(cc.dopts.dialer, creds, authority, cc.dopts.keepaliveParams)
	}
	acbw.sc = subchannel.New(addrs, tf, nil, acbw.onStateChange)

	cc.mu.Lock()
	cc.conns[acbw] = struct{}{}
	cc.mu.Unlock()
	return acbw, nil
}

// reserveRetryBuffer charges n bytes against the per-call and
// channel-wide retry buffer caps (spec §3's exact-accounting invariant,
// §4.7 Buffering) before a retryable or hedged call begins. The caller
// must release the same n via releaseRetryBuffer exactly once, on
// commit or abort, so the channel-wide total always equals the sum of
// what every in-flight retryable call currently holds.
func (cc *ClientConn) reserveRetryBuffer(n int) error {
	if cc.dopts.maxRetryBufferPerCallSize > 0 && int64(n) > cc.dopts.maxRetryBufferPerCallSize {
		return status.Errorf(codes.ResourceExhausted, "grpc: retry buffer: %d-byte request exceeds the %d-byte per-call retry buffer cap", n, cc.dopts.maxRetryBufferPerCallSize)
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.dopts.maxRetryBufferSize > 0 && cc.retryBufferSize+int64(n) > cc.dopts.maxRetryBufferSize {
		return status.Errorf(codes.ResourceExhausted, "grpc: retry buffer: channel-wide %d-byte retry buffer is exhausted", cc.dopts.maxRetryBufferSize)
	}
	cc.retryBufferSize += int64(n)
	return nil
}

// releaseRetryBuffer credits back n bytes once the call that reserved
// them commits (succeeds) or aborts (fails for good).
func (cc *ClientConn) releaseRetryBuffer(n int) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.retryBufferSize -= int64(n)
	if cc.retryBufferSize < 0 {
		cc.retryBufferSize = 0
	}
}

// methodConfig looks up the active service config's MethodConfig for
// (service, method), following the (svc,method) -> (svc,.) -> (.,.) ->
// none precedence (spec §3).
func (cc *ClientConn) methodConfig(service, method string) (internalserviceconfig.MethodConfig, bool) {
	cc.mu.Lock()
	sc := cc.sc
	cc.mu.Unlock()
	return sc.LookupMethodConfig(service, method)
}

// acBalancerWrapper adapts an internal/subchannel.Subchannel to the
// balancer.SubConn interface the ChildHandlerLoadBalancer drives (spec
// §4.3, §4.4).
type acBalancerWrapper struct {
	sc            *subchannel.Subchannel
	stateListener func(balancer.SubConnState)
}

func (acbw *acBalancerWrapper) onStateChange(s connectivity.State, err error) {
	if acbw.stateListener != nil {
		acbw.stateListener(balancer.SubConnState{ConnectivityState: s, ConnectionError: err})
	}
}

func (acbw *acBalancerWrapper) UpdateAddresses(addrs []resolver.Address) { acbw.sc.UpdateAddresses(addrs) }
func (acbw *acBalancerWrapper) Connect()                                 { acbw.sc.Connect() }
func (acbw *acBalancerWrapper) Shutdown()                                { acbw.sc.Shutdown() }

// ConnectAsync requests the Channel to begin connecting, then blocks
// until the aggregate state reaches Ready, or fails: TransientFailure
// without waitForReady is a failure, ctx ending is a failure, and
// Shutdown is always a failure (spec §4.5: "ConnectAsync(waitForReady,
// cancelToken) — returns when aggregate state reaches Ready (or
// fails)"). Called on an already-Ready channel, it returns immediately.
func (cc *ClientConn) ConnectAsync(ctx context.Context, waitForReady bool) error {
	cc.resolveNow(resolver.ResolveNowOptions{})
	for {
		s := cc.State()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("grpc: the Channel has been closed")
		case connectivity.TransientFailure:
			if !waitForReady {
				return status.Error(codes.Unavailable, "grpc: channel is in TransientFailure")
			}
		}
		if !cc.WaitForStateChange(ctx, s) {
			return ctx.Err()
		}
	}
}

// PickAsync implements the Call Runtime's entry point into the Picker
// (spec §4.5): Complete/Queue/Drop, gated by waitForReady and ctx.
func (cc *ClientConn) PickAsync(ctx context.Context, waitForReady bool, info balancer.PickInfo) (balancer.PickResult, error) {
	return cc.pickerWrapper.pick(ctx, waitForReady, info)
}

// State returns the Channel's current aggregate connectivity state (spec
// §3).
func (cc *ClientConn) State() connectivity.State {
	return cc.csMgr.getState()
}

// WaitForStateChange blocks until cc's state differs from sourceState or
// ctx is done, returning false only in the latter case (spec §4.5,
// WaitForStateChangedAsync).
func (cc *ClientConn) WaitForStateChange(ctx context.Context, sourceState connectivity.State) bool {
	return cc.csMgr.waitForStateChange(ctx, sourceState)
}

// Close tears the Channel down: the Resolver, the Balancer (and every
// SubConn it owns), and releases any Call blocked in PickAsync (spec
// §4.5).
func (cc *ClientConn) Close() error {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return nil
	}
	cc.closed = true
	conns := make([]*acBalancerWrapper, 0, len(cc.conns))
	for acbw := range cc.conns {
		conns = append(conns, acbw)
	}
	cc.mu.Unlock()

	if cc.resolverWrapper != nil {
		cc.resolverWrapper.close()
	}
	if cc.balancerWrapper != nil {
		cc.balancerWrapper.close()
	}
	for _, acbw := range conns {
		acbw.Shutdown()
	}
	cc.pickerWrapper.close()
	cc.csMgr.updateState(connectivity.Shutdown)
	return nil
}

// connectivityStateManager tracks the Channel's aggregate connectivity
// state and lets callers block until it changes (spec §3, §4.5).
type connectivityStateManager struct {
	mu      sync.Mutex
	state   connectivity.State
	notify  chan struct{}
}

func newConnectivityStateManager() *connectivityStateManager {
	return &connectivityStateManager{notify: make(chan struct{})}
}

func (csm *connectivityStateManager) updateState(s connectivity.State) {
	csm.mu.Lock()
	defer csm.mu.Unlock()
	if csm.state == connectivity.Shutdown {
		return
	}
	if csm.state == s {
		return
	}
	csm.state = s
	close(csm.notify)
	csm.notify = make(chan struct{})
}

func (csm *connectivityStateManager) getState() connectivity.State {
	csm.mu.Lock()
	defer csm.mu.Unlock()
	return csm.state
}

func (csm *connectivityStateManager) waitForStateChange(ctx context.Context, sourceState connectivity.State) bool {
	csm.mu.Lock()
	if csm.state != sourceState {
		csm.mu.Unlock()
		return true
	}
	ch := csm.notify
	csm.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-ch:
		return true
	}
}
