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

package subchannel

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/internal/backoff"
	"github.com/relaygrpc/grpc/internal/transport"
	"github.com/relaygrpc/grpc/resolver"
)

type fakeTransport struct {
	outcome transport.Outcome
	err     error
	onState func(transport.StateChange)
	closed  bool
}

func (t *fakeTransport) TryConnect(ctx context.Context, addr string) (transport.Outcome, error) {
	return t.outcome, t.err
}
func (t *fakeTransport) NewStream(ctx context.Context, method string) (*http2.ClientConn, error) {
	return nil, nil
}
func (t *fakeTransport) OnStateChange(f func(transport.StateChange)) { t.onState = f }
func (t *fakeTransport) AuthInfo() credentials.AuthInfo               { return nil }
func (t *fakeTransport) Close() error                                 { t.closed = true; return nil }

type stateEvent struct {
	state connectivity.State
	err   error
}

func waitForState(t *testing.T, ch <-chan stateEvent, want connectivity.State) stateEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.state == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestSubchannelConnectsToReady(t *testing.T) {
	ch := make(chan stateEvent, 16)
	var tr *fakeTransport
	sc := New(
		[]resolver.Address{{Addr: "127.0.0.1:1"}},
		func() transport.Transport {
			tr = &fakeTransport{outcome: transport.Success}
			return tr
		},
		backoff.Exponential{Config: backoff.DefaultConfig},
		func(s connectivity.State, err error) { ch <- stateEvent{s, err} },
	)

	if sc.State() != connectivity.Idle {
		t.Fatalf("new Subchannel state = %v, want Idle", sc.State())
	}

	sc.Connect()
	waitForState(t, ch, connectivity.Connecting)
	waitForState(t, ch, connectivity.Ready)

	if sc.State() != connectivity.Ready {
		t.Fatalf("Subchannel.State() = %v, want Ready", sc.State())
	}
	if sc.Transport() == nil {
		t.Fatal("Transport() should be non-nil once Ready")
	}
}

func TestSubchannelFailureGoesTransientFailure(t *testing.T) {
	ch := make(chan stateEvent, 16)
	sc := New(
		[]resolver.Address{{Addr: "127.0.0.1:1"}},
		func() transport.Transport {
			return &fakeTransport{outcome: transport.Failure, err: errors.New("dial refused")}
		},
		backoff.Exponential{Config: backoff.DefaultConfig},
		func(s connectivity.State, err error) { ch <- stateEvent{s, err} },
	)

	sc.Connect()
	waitForState(t, ch, connectivity.Connecting)
	ev := waitForState(t, ch, connectivity.TransientFailure)
	if ev.err == nil {
		t.Error("TransientFailure event should carry the connect error")
	}
	if sc.Transport() != nil {
		t.Error("Transport() must be nil while not Ready")
	}
}

func TestSubchannelConnectIsIdempotentWhileConnecting(t *testing.T) {
	started := make(chan struct{}, 4)
	sc := New(
		[]resolver.Address{{Addr: "127.0.0.1:1"}},
		func() transport.Transport {
			started <- struct{}{}
			return &fakeTransport{outcome: transport.Success}
		},
		backoff.Exponential{Config: backoff.DefaultConfig},
		nil,
	)

	sc.Connect()
	sc.Connect()
	sc.Connect()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one connect attempt")
	}

	// Give any redundant attempts a chance to (incorrectly) fire.
	time.Sleep(50 * time.Millisecond)
	if len(started) != 0 {
		t.Errorf("Connect should be a no-op once already Connecting/Ready, got %d extra attempts", len(started))
	}
}

func TestSubchannelShutdownIsTerminal(t *testing.T) {
	sc := New(
		[]resolver.Address{{Addr: "127.0.0.1:1"}},
		func() transport.Transport { return &fakeTransport{outcome: transport.Success} },
		backoff.Exponential{Config: backoff.DefaultConfig},
		nil,
	)
	sc.Shutdown()
	if sc.State() != connectivity.Shutdown {
		t.Fatalf("State() after Shutdown = %v, want Shutdown", sc.State())
	}
	sc.Connect()
	if sc.State() != connectivity.Shutdown {
		t.Fatal("Connect after Shutdown must not reanimate the Subchannel")
	}
}
