/*
 *
 * Copyright 2018 gRPC authors.
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

// Package subchannel implements the Subchannel state machine (spec
// §4.3): the stateful handle bound to one address list that a Balancer
// drives through Connect/UpdateAddresses/Shutdown, backed by a
// transport.Transport.
package subchannel

import (
	"context"
	"sync"
	"time"

	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/internal/backoff"
	"github.com/relaygrpc/grpc/internal/grpcsync"
	"github.com/relaygrpc/grpc/internal/transport"
	"github.com/relaygrpc/grpc/resolver"
)

// Listener receives every state transition for one Subchannel. Calls for
// a single Subchannel are serialized; calls across different Subchannels
// may interleave (spec §4.3).
type Listener func(connectivity.State, error)

// TransportFactory constructs the transport.Transport a Subchannel will
// drive. Exists so the Connection Manager can choose active vs. passive
// per spec §4.2 without this package depending on the concrete Channel.
type TransportFactory func() transport.Transport

// Subchannel implements the table in spec §4.3.
type Subchannel struct {
	newTransport TransportFactory
	backoff      backoff.Strategy
	listener     Listener
	serializer   *grpcsync.CallbackSerializer
	cancel       context.CancelFunc

	mu        sync.Mutex
	state     connectivity.State
	addrs     []resolver.Address
	addrIdx   int
	failures  int
	transport transport.Transport
	connectGen uint64
}

// New creates a Subchannel bound to addrs, starting Idle. It does not
// dial until Connect is called or UpdateAddresses supplies a different
// endpoint set (spec §4.3).
func New(addrs []resolver.Address, tf TransportFactory, bo backoff.Strategy, l Listener) *Subchannel {
	ctx, cancel := context.WithCancel(context.Background())
	if bo == nil {
		bo = backoff.Exponential{Config: backoff.DefaultConfig}
	}
	return &Subchannel{
		newTransport: tf,
		backoff:      bo,
		listener:     l,
		serializer:   grpcsync.NewCallbackSerializer(ctx),
		cancel:       cancel,
		state:        connectivity.Idle,
		addrs:        addrs,
	}
}

// Connect is idempotent: a Subchannel already Connecting or beyond does
// nothing (spec §4.3, RequestConnection).
func (sc *Subchannel) Connect() {
	sc.mu.Lock()
	switch sc.state {
	case connectivity.Idle:
		sc.setStateLocked(connectivity.Connecting, nil)
		sc.addrIdx = 0
		gen := sc.bumpGenLocked()
		sc.mu.Unlock()
		sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
	case connectivity.TransientFailure:
		// Backoff already scheduled the next Connecting transition; a
		// redundant Connect call here is a no-op per spec §4.3.
		sc.mu.Unlock()
	default:
		sc.mu.Unlock()
	}
}

func (sc *Subchannel) bumpGenLocked() uint64 {
	sc.connectGen++
	return sc.connectGen
}

// UpdateAddresses replaces the address list. An Idle, Connecting or
// TransientFailure Subchannel whose new list names a different endpoint
// set starts a fresh attempt from the first address; a Connecting one
// discards the result of its in-flight attempt. An equivalent set
// changes nothing. A Ready Subchannel keeps its current connection
// whatever the new list holds (spec §4.3).
func (sc *Subchannel) UpdateAddresses(addrs []resolver.Address) {
	sc.mu.Lock()
	equivalent := sameEndpoints(sc.addrs, addrs)
	sc.addrs = addrs
	switch sc.state {
	case connectivity.Idle:
		if !equivalent {
			sc.setStateLocked(connectivity.Connecting, nil)
			sc.addrIdx = 0
			gen := sc.bumpGenLocked()
			sc.mu.Unlock()
			sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
			return
		}
	case connectivity.Connecting:
		if !equivalent {
			sc.addrIdx = 0
			gen := sc.bumpGenLocked()
			sc.mu.Unlock()
			sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
			return
		}
	case connectivity.TransientFailure:
		if !equivalent {
			sc.addrIdx = 0
			sc.setStateLocked(connectivity.Connecting, nil)
			gen := sc.bumpGenLocked()
			sc.mu.Unlock()
			sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
			return
		}
	}
	sc.mu.Unlock()
}

// Shutdown irreversibly tears the Subchannel down. Idempotent.
func (sc *Subchannel) Shutdown() {
	sc.mu.Lock()
	if sc.state == connectivity.Shutdown {
		sc.mu.Unlock()
		return
	}
	sc.setStateLocked(connectivity.Shutdown, nil)
	t := sc.transport
	sc.mu.Unlock()
	sc.cancel()
	if t != nil {
		t.Close()
	}
}

func (sc *Subchannel) tryConnect(ctx context.Context, gen uint64) {
	sc.mu.Lock()
	if sc.connectGen != gen || len(sc.addrs) == 0 {
		sc.mu.Unlock()
		return
	}
	addr := sc.addrs[sc.addrIdx%len(sc.addrs)]
	sc.mu.Unlock()

	t := sc.newTransport()
	t.OnStateChange(func(ev transport.StateChange) { sc.onTransportStateChange(gen, ev) })

	connectCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	outcome, err := t.TryConnect(connectCtx, addr.Addr)

	sc.mu.Lock()
	if sc.connectGen != gen {
		sc.mu.Unlock()
		t.Close()
		return
	}
	switch outcome {
	case transport.Success:
		sc.failures = 0
		sc.transport = t
		sc.setStateLocked(connectivity.Ready, nil)
		sc.mu.Unlock()
	default:
		sc.addrIdx++
		if sc.addrIdx < len(sc.addrs) {
			sc.mu.Unlock()
			sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
			return
		}
		sc.failures++
		delay := sc.backoff.Backoff(sc.failures - 1)
		sc.setStateLocked(connectivity.TransientFailure, err)
		sc.mu.Unlock()
		sc.scheduleReconnect(gen, delay)
	}
}

func (sc *Subchannel) scheduleReconnect(gen uint64, delay time.Duration) {
	// The callback checks the generation and state itself, so a timer
	// that fires after Shutdown or a restarted attempt does nothing.
	time.AfterFunc(delay, func() {
		sc.mu.Lock()
		if sc.connectGen != gen || sc.state != connectivity.TransientFailure {
			sc.mu.Unlock()
			return
		}
		sc.addrIdx = 0
		sc.setStateLocked(connectivity.Connecting, nil)
		sc.mu.Unlock()
		sc.serializer.Schedule(func(ctx context.Context) { sc.tryConnect(ctx, gen) })
	})
}

func (sc *Subchannel) onTransportStateChange(gen uint64, ev transport.StateChange) {
	sc.mu.Lock()
	if sc.connectGen != gen {
		sc.mu.Unlock()
		return
	}
	switch ev {
	case transport.Idle:
		sc.setStateLocked(connectivity.Idle, nil)
	case transport.Lost:
		sc.addrIdx = 0
		sc.failures++
		delay := sc.backoff.Backoff(sc.failures - 1)
		sc.setStateLocked(connectivity.TransientFailure, nil)
		sc.mu.Unlock()
		sc.scheduleReconnect(gen, delay)
		return
	}
	sc.mu.Unlock()
}

// setStateLocked updates the state and publishes it to the listener from
// the serializer, so listener invocations for this Subchannel are
// strictly ordered (spec §4.3). Callers must hold sc.mu.
func (sc *Subchannel) setStateLocked(s connectivity.State, err error) {
	sc.state = s
	if sc.listener == nil {
		return
	}
	sc.serializer.Schedule(func(context.Context) { sc.listener(s, err) })
}

// State returns the Subchannel's current connectivity state.
func (sc *Subchannel) State() connectivity.State {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// Transport returns the live transport backing this Subchannel, or nil
// if it is not currently Ready. The Call Runtime uses this to open a
// stream once a Picker has chosen this Subchannel (spec §4.6).
func (sc *Subchannel) Transport() transport.Transport {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.state != connectivity.Ready {
		return nil
	}
	return sc.transport
}

func sameEndpoints(a, b []resolver.Address) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x.Addr]++
	}
	for _, x := range b {
		seen[x.Addr]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
