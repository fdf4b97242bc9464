/*
 *
 * Copyright 2016 gRPC authors.
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
	"net"

	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/keepalive"
	"github.com/relaygrpc/grpc/metadata"
	"github.com/relaygrpc/grpc/resolver"
)

// DialOption configures how ChannelForAddress constructs a Channel
// (spec §1(b) names the channel builder as an external, out-of-scope
// surface; DialOption is the narrow configuration interface the engine
// itself consumes from it).
type DialOption interface {
	apply(*dialOptions)
}

type dialOptions struct {
	creds                credentials.TransportCredentials
	credsExplicit        bool
	credsBundle          credentials.Bundle
	dialer               func(context.Context, string) (net.Conn, error)
	userAgent            string
	defaultServiceConfig string
	disableServiceConfig bool
	disableRetry         bool
	maxCallRecvMsgSize   int
	maxCallSendMsgSize   int
	keepaliveParams      keepalive.ClientParameters
	perRPCCreds          []credentials.PerRPCCredentials
	resolverBuilder      resolver.Builder
	balancerName         string
	defaultCallOptions   []CallOption
	passiveTransport     bool

	// maxRetryAttempts clamps the attempt count any single call's
	// RetryPolicy or HedgingPolicy may use, regardless of a larger
	// MaxAttempts the service config names (spec §4.7).
	maxRetryAttempts int
	// maxRetryBufferSize caps, channel-wide, the bytes of outbound
	// message data held for possible replay across every call currently
	// inside a RetryPolicy or HedgingPolicy (spec §3, §4.7).
	maxRetryBufferSize int64
	// maxRetryBufferPerCallSize caps how much of that channel-wide
	// budget a single call may hold at once.
	maxRetryBufferPerCallSize int64
}

func defaultDialOptions() dialOptions {
	return dialOptions{
		maxCallRecvMsgSize:        1024 * 1024 * 4,
		maxCallSendMsgSize:        1024 * 1024 * 4,
		keepaliveParams:           keepalive.DefaultClientParameters,
		maxRetryAttempts:          5,
		maxRetryBufferSize:        1 << 24, // 16 MiB
		maxRetryBufferPerCallSize: 1 << 18, // 256 KiB
	}
}

type funcDialOption struct {
	f func(*dialOptions)
}

func (o *funcDialOption) apply(do *dialOptions) { o.f(do) }

func newFuncDialOption(f func(*dialOptions)) *funcDialOption {
	return &funcDialOption{f: f}
}

// WithTransportCredentials returns a DialOption that configures the
// Channel's TransportCredentials, enforcing the scheme-to-TLS rules of
// spec §6.
func WithTransportCredentials(creds credentials.TransportCredentials) DialOption {
	return newFuncDialOption(func(o *dialOptions) {
		o.creds = creds
		o.credsExplicit = true
	})
}

// WithCredentialsBundle returns a DialOption configuring both transport
// and per-RPC credentials as one Bundle (spec §6).
func WithCredentialsBundle(b credentials.Bundle) DialOption {
	return newFuncDialOption(func(o *dialOptions) {
		o.credsBundle = b
		o.credsExplicit = true
		if tc := b.TransportCredentials(); tc != nil {
			o.creds = tc
		}
		if pc := b.PerRPCCredentials(); pc != nil {
			o.perRPCCreds = append(o.perRPCCreds, pc)
		}
	})
}

// WithPerRPCCredentials attaches creds's metadata to every outgoing
// call.
func WithPerRPCCredentials(creds credentials.PerRPCCredentials) DialOption {
	return newFuncDialOption(func(o *dialOptions) {
		o.perRPCCreds = append(o.perRPCCreds, creds)
	})
}

// WithContextDialer sets a custom dialer for the Subchannel Transport.
func WithContextDialer(f func(context.Context, string) (net.Conn, error)) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.dialer = f })
}

// WithUserAgent sets the User-Agent header value the Channel attaches to
// every call.
func WithUserAgent(ua string) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.userAgent = ua })
}

// WithDefaultServiceConfig sets the JSON service config used when the
// resolver's is absent, or when DisableServiceConfig has been set (spec
// §6).
func WithDefaultServiceConfig(s string) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.defaultServiceConfig = s })
}

// WithDisableServiceConfig ignores any service config the resolver
// provides, always using WithDefaultServiceConfig's document instead
// (spec §6, DisableResolverServiceConfig).
func WithDisableServiceConfig() DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.disableServiceConfig = true })
}

// WithDisableRetry disables the Retry/Hedging Controller entirely,
// regardless of what any MethodConfig requests (spec §6).
func WithDisableRetry() DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.disableRetry = true })
}

// WithKeepaliveParams configures the active Subchannel Transport's
// liveness probing (spec §4.2).
func WithKeepaliveParams(kp keepalive.ClientParameters) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.keepaliveParams = kp })
}

// WithResolvers registers a Builder to use for this Channel only,
// bypassing the global resolver.Register registry.
func WithResolvers(b resolver.Builder) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.resolverBuilder = b })
}

// WithDefaultCallOptions configures CallOptions applied to every call on
// the Channel before any per-call options.
func WithDefaultCallOptions(cos ...CallOption) DialOption {
	return newFuncDialOption(func(o *dialOptions) {
		o.defaultCallOptions = append(o.defaultCallOptions, cos...)
	})
}

// WithPassiveTransport configures every Subchannel Transport the Channel
// builds to defer connection ownership to the Call Runtime's HTTP driver
// instead of dialing proactively: TryConnect becomes an optimistic no-op
// that always succeeds, so a Subchannel reaches Ready as soon as it
// connects, before any request has been made on it. Its NewStream
// returns an error, so calls cannot be carried over it. Useful when the
// host process already pools HTTP/2 connections outside the Subchannel's
// control (spec §4.2).
func WithPassiveTransport() DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.passiveTransport = true })
}

// WithMaxRetryAttempts caps the number of attempts (including the
// original) any single call's RetryPolicy or HedgingPolicy may use,
// regardless of a larger MaxAttempts the service config names (spec
// §4.7). A value <= 0 disables the cap.
func WithMaxRetryAttempts(n int) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.maxRetryAttempts = n })
}

// WithRetryBufferSize caps, in bytes and channel-wide, the outbound
// message data held for possible replay across every call currently
// inside a RetryPolicy or HedgingPolicy (spec §3, §4.7). A value <= 0
// disables the cap.
func WithRetryBufferSize(bytes int) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.maxRetryBufferSize = int64(bytes) })
}

// WithRetryBufferPerCallSize caps, in bytes, how much of the
// channel-wide retry buffer a single call may hold at once (spec §3,
// §4.7). A value <= 0 disables the per-call cap.
func WithRetryBufferPerCallSize(bytes int) DialOption {
	return newFuncDialOption(func(o *dialOptions) { o.maxRetryBufferPerCallSize = int64(bytes) })
}

// CallOption configures a Call (spec §1(b)).
type CallOption interface {
	applyCall(*callOptions)
}

type callOptions struct {
	waitForReady     *bool
	maxRecvMsgSize   *int
	maxSendMsgSize   *int
	creds            credentials.PerRPCCredentials
	headers          *metadata.MD
	trailers         *metadata.MD
	compressorName   string
}

type funcCallOption struct {
	f func(*callOptions)
}

func (o funcCallOption) applyCall(c *callOptions) { o.f(c) }

// WaitForReady configures whether RPCs should queue during transient
// channel failures (wait-for-ready, spec §4.6 / GLOSSARY) rather than
// failing fast with Unavailable.
func WaitForReady(wait bool) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.waitForReady = &wait }}
}

// MaxCallRecvMsgSize caps the serialized size of any single message this
// call may receive.
func MaxCallRecvMsgSize(n int) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.maxRecvMsgSize = &n }}
}

// MaxCallSendMsgSize caps the serialized size of any single message this
// call may send.
func MaxCallSendMsgSize(n int) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.maxSendMsgSize = &n }}
}

// PerRPCCredentials attaches creds to this call only, in addition to any
// configured at dial time.
func PerRPCCredentials(creds credentials.PerRPCCredentials) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.creds = creds }}
}

// Header captures the response header metadata into *md once received.
func Header(md *metadata.MD) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.headers = md }}
}

// Trailer captures the response trailer metadata into *md once the call
// completes.
func Trailer(md *metadata.MD) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.trailers = md }}
}

// UseCompressor sets the grpc-encoding this call's outbound messages use
// (spec §1, "observes ... compression").
func UseCompressor(name string) CallOption {
	return funcCallOption{f: func(c *callOptions) { c.compressorName = name }}
}

func defaultCallOptions() callOptions {
	return callOptions{}
}
