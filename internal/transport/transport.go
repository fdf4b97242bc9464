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

// Package transport implements the Subchannel Transport (spec §4.2): the
// thing that actually owns a connection to one backend address and
// carries HTTP/2 streams for the Call Runtime. Two forms are provided:
// an active transport that dials proactively and probes the connection
// with periodic pings, and a passive transport that defers connection
// ownership to the HTTP driver and reports Ready without dialing.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/http2"

	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/keepalive"
)

// Outcome is the result of one TryConnect attempt.
type Outcome int

const (
	// Success indicates the transport is now Ready.
	Success Outcome = iota
	// Timeout indicates TryConnect did not complete before ctx expired.
	Timeout
	// Failure indicates the dial or handshake failed.
	Failure
)

// StateChange is published asynchronously by a live transport after
// TryConnect has returned Success, e.g. when the connection goes idle or
// is lost.
type StateChange int

const (
	// Idle means the connection is eligible to be considered idle by the
	// owning Subchannel; it does not itself tear anything down.
	Idle StateChange = iota
	// Lost means the established connection failed; the Subchannel must
	// transition to TransientFailure and reconnect.
	Lost
)

// Transport is the common surface the Subchannel drives, regardless of
// whether the underlying implementation is active or passive.
type Transport interface {
	// TryConnect attempts to establish (or confirm) connectivity to
	// addr. It must not block past ctx's deadline.
	TryConnect(ctx context.Context, addr string) (Outcome, error)
	// NewStream opens an HTTP/2 stream on an established connection. Only
	// valid after TryConnect has returned Success.
	NewStream(ctx context.Context, method string) (*http2.ClientConn, error)
	// OnStateChange registers the callback invoked with asynchronous
	// StateChange events. The active transport calls this from its probe
	// goroutine in a context cleared of any ambient call-scoped values, so
	// that per-call state never bleeds into transport-internal plumbing
	// (spec §4.2).
	OnStateChange(func(StateChange))
	// AuthInfo returns the security information negotiated during the
	// handshake, or nil on an insecure transport. The Call Runtime
	// forwards this to PerRPCCredentials so they can enforce
	// RequireTransportSecurity.
	AuthInfo() credentials.AuthInfo
	// Close tears down the transport's connection, if any.
	Close() error
}

// Dialer opens the raw network connection a transport will negotiate
// HTTP/2 and, if configured, TLS on top of.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// DefaultDialer dials TCP with no special options, the same dialer the
// engine uses unless a DialOption overrides it.
func DefaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", addr)
}

// activeTransport proactively dials and holds a TCP/TLS connection,
// running periodic pings per the configured keepalive.ClientParameters
// (spec §4.2, "active transport").
type activeTransport struct {
	dial       Dialer
	creds      credentials.TransportCredentials
	authority  string
	keepalive  keepalive.ClientParameters
	onState    func(StateChange)

	conn     net.Conn
	framer   *http2.Transport
	authInfo credentials.AuthInfo
}

// NewActive constructs an active Subchannel Transport.
func NewActive(dial Dialer, creds credentials.TransportCredentials, authority string, ka keepalive.ClientParameters) Transport {
	if dial == nil {
		dial = DefaultDialer
	}
	return &activeTransport{dial: dial, creds: creds, authority: authority, keepalive: ka}
}

func (t *activeTransport) OnStateChange(f func(StateChange)) { t.onState = f }

func (t *activeTransport) TryConnect(ctx context.Context, addr string) (Outcome, error) {
	// Run the dial and handshake in a context cleared of any ambient,
	// call-scoped values: only the deadline/cancellation from ctx
	// propagates, nothing else rides along (spec §4.2).
	dctx, cancel := clearedContext(ctx)
	defer cancel()

	rawConn, err := t.dial(dctx, addr)
	if err != nil {
		if dctx.Err() != nil {
			return Timeout, err
		}
		return Failure, err
	}

	conn := rawConn
	if t.creds != nil {
		authority := t.authority
		if authority == "" {
			authority = addr
		}
		secured, authInfo, err := t.creds.ClientHandshake(dctx, authority, rawConn)
		if err != nil {
			rawConn.Close()
			return Failure, err
		}
		conn = secured
		t.authInfo = authInfo
	}

	t.conn = conn
	t.framer = &http2.Transport{
		DialTLSContext: func(context.Context, string, string, *tls.Config) (net.Conn, error) {
			return conn, nil
		},
		AllowHTTP: t.creds == nil,
	}
	if t.keepalive.Time > 0 {
		go t.probe()
	}
	return Success, nil
}

func (t *activeTransport) NewStream(ctx context.Context, method string) (*http2.ClientConn, error) {
	return t.framer.NewClientConn(t.conn)
}

func (t *activeTransport) probe() {
	ticker := time.NewTicker(t.keepalive.Time)
	defer ticker.Stop()
	for range ticker.C {
		cc, err := t.framer.NewClientConn(t.conn)
		if err != nil || !cc.CanTakeNewRequest() {
			if t.onState != nil {
				t.onState(Lost)
			}
			return
		}
	}
}

func (t *activeTransport) AuthInfo() credentials.AuthInfo { return t.authInfo }

func (t *activeTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// passiveTransport defers all connection ownership to the channel's HTTP
// driver, used when that driver exposes no connect hooks (spec §4.2).
// TryConnect reports Success without dialing, so the Subchannel is
// Ready before any request on addr has succeeded.
type passiveTransport struct {
	onState func(StateChange)
}

// NewPassive constructs a passive Subchannel Transport.
func NewPassive() Transport {
	return &passiveTransport{}
}

func (t *passiveTransport) OnStateChange(f func(StateChange)) { t.onState = f }

func (t *passiveTransport) TryConnect(ctx context.Context, addr string) (Outcome, error) {
	// A passive transport never dials proactively: TryConnect is a
	// connectivity-agnostic no-op that always succeeds optimistically,
	// mirroring grpc's HTTP client treating every idle connection as
	// usable.
	return Success, nil
}

// ReportSuccess is for reporting a request on this transport that
// completed without a transport-level error; it changes no state. No
// code in this module calls it.
func (t *passiveTransport) ReportSuccess() {}

// ReportFailure is for reporting a request on this transport that failed
// at the transport level; it publishes Lost. No code in this module
// calls it.
func (t *passiveTransport) ReportFailure() {
	if t.onState != nil {
		t.onState(Lost)
	}
}

func (t *passiveTransport) NewStream(ctx context.Context, method string) (*http2.ClientConn, error) {
	// A passive transport has no *http2.ClientConn of its own to hand
	// back; the host process's HTTP driver owns the actual connection.
	// Callers that need a usable stream must go through that driver
	// directly rather than through the Subchannel Transport.
	return nil, fmt.Errorf("grpc: passive transport does not expose a stream; use the host HTTP driver directly")
}

func (t *passiveTransport) AuthInfo() credentials.AuthInfo { return nil }

func (t *passiveTransport) Close() error { return nil }

type clearedContextKey struct{}

// clearedContext returns a new context carrying only ctx's deadline and
// cancellation, with no values attached — the mechanism by which
// TryConnect avoids leaking ambient, call-scoped state into the
// transport's own connect/probe goroutines (spec §4.2).
func clearedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	clean := context.Background()
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(clean, dl)
	}
	return context.WithCancel(clean)
}
