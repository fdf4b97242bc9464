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

// Package balancer defines the APIs for load balancing in the engine (spec
// §4.4): how a Balancer maintains Subchannels from resolver results and
// publishes a Picker the Connection Manager uses for every call.
package balancer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/internal"
	"github.com/relaygrpc/grpc/metadata"
	"github.com/relaygrpc/grpc/resolver"
	"github.com/relaygrpc/grpc/serviceconfig"
	"github.com/relaygrpc/grpc/status"
)

var m = make(map[string]Builder)

// Register registers the balancer builder under strings.ToLower(b.Name()).
// If the Builder implements ConfigParser, ParseConfig is called when new
// service configs arrive from the resolver, and the result is passed to
// the Balancer in UpdateClientConnState.
//
// Must only be called during initialization (e.g. an init() function); not
// thread safe. Registering the same name twice makes the later one win.
func Register(b Builder) {
	m[strings.ToLower(b.Name())] = b
}

func unregisterForTesting(name string) {
	delete(m, name)
}

func init() {
	internal.BalancerUnregister = unregisterForTesting
}

// Get returns the balancer builder registered with the given name
// (case-insensitive), or nil if none is registered.
func Get(name string) Builder {
	if b, ok := m[strings.ToLower(name)]; ok {
		return b
	}
	return nil
}

// SubConn represents one Subchannel (spec §3/§4.3): a stateful handle
// bound to an address list. All SubConns start Idle and do not try to
// connect until Connect is called or UpdateAddresses supplies a
// different endpoint set; on TransientFailure they reconnect
// automatically, gated by backoff.
//
// This interface is implemented by the engine; balancer authors should
// not implement it themselves. New methods may be added to it, so any
// test double must embed SubConn.
type SubConn interface {
	// UpdateAddresses replaces the address list backing this SubConn. A
	// SubConn that is not Ready and receives a different endpoint set
	// restarts its connection attempt from the first new address. A Ready
	// SubConn keeps its current connection whatever the new list holds;
	// it is not closed or re-created.
	UpdateAddresses([]resolver.Address)
	// Connect starts connecting this SubConn, if it is not already
	// connecting or connected.
	Connect()
	// Shutdown irreversibly tears down this SubConn.
	Shutdown()
}

// NewSubConnOptions contains options for ClientConn.NewSubConn.
type NewSubConnOptions struct {
	// CredsBundle is the credentials bundle used for the created SubConn.
	// If nil, the channel's own credentials are used.
	CredsBundle credentials.Bundle
	// StateListener is invoked on every state transition of the created
	// SubConn; it is always set by the engine.
	StateListener func(SubConnState)
}

// State contains the balancer's state relevant to the Connection Manager.
type State struct {
	ConnectivityState connectivity.State
	Picker            Picker
}

// ClientConn is the Connection Manager's surface, as seen by a Balancer.
type ClientConn interface {
	// NewSubConn is called by the balancer to create a new SubConn. It
	// never blocks waiting for a connection; the SubConn's behavior is
	// governed by opts.
	NewSubConn([]resolver.Address, NewSubConnOptions) (SubConn, error)
	// UpdateState notifies the engine that the balancer's internal state
	// has changed: the engine updates the Channel's ConnectivityState and
	// starts using the new Picker for subsequent calls.
	UpdateState(State)
	// ResolveNow is called by the balancer to hint that the resolver
	// should refresh.
	ResolveNow(resolver.ResolveNowOptions)
	// Target returns the dial target this ClientConn was created for.
	Target() string
}

// BuildOptions contains additional information for Build.
type BuildOptions struct {
	DialCreds       credentials.TransportCredentials
	CredsBundle     credentials.Bundle
	Dialer          func(context.Context, string) (net.Conn, error)
	CustomUserAgent string
	Target          resolver.Target
}

// Builder creates a balancer.
type Builder interface {
	// Build creates a new balancer bound to cc.
	Build(cc ClientConn, opts BuildOptions) Balancer
	// Name returns the name under which this Builder is registered, used
	// to select it from a service config's loadBalancingConfig.
	Name() string
}

// ConfigParser parses a balancer's loadBalancingConfig JSON blob into its
// internal form.
type ConfigParser interface {
	// ParseConfig parses the given JSON into a LoadBalancingConfig. To
	// remain forward compatible, implementations should ignore unknown
	// fields.
	ParseConfig(loadBalancingConfigJSON json.RawMessage) (serviceconfig.LoadBalancingConfig, error)
}

// PickInfo carries additional information for a Pick operation.
type PickInfo struct {
	// FullMethodName is "/service/Method", as passed to NewClientStream.
	FullMethodName string
	// Ctx is the RPC's context, and may carry outgoing metadata relevant
	// to the balancing decision.
	Ctx context.Context
}

// DoneInfo carries additional information about a completed RPC.
type DoneInfo struct {
	Err           error
	Trailer       metadata.MD
	BytesSent     bool
	BytesReceived bool
}

// ErrNoSubConnAvailable indicates no SubConn is available for Pick. The
// Connection Manager blocks a wait-for-ready call until a new Picker
// arrives and fails any other call with Unavailable.
var ErrNoSubConnAvailable = errors.New("no SubConn is available")

// DropError is returned by Pick to realize the first-class Drop outcome
// from spec §4.4: "a picker decision that terminates the call with a
// given status without retry." The Connection Manager's pick turns a
// *DropError into a terminal error that the retry/hedging controller
// never retries or hedges, regardless of wait-for-ready (spec §8).
type DropError struct {
	Status *status.Status
}

func (e *DropError) Error() string {
	return "balancer: dropped, status: " + e.Status.Message()
}

// Drop returns a PickResult error value realizing the Drop outcome.
func Drop(s *status.Status) error {
	return &DropError{Status: s}
}

// PickResult holds information related to a connection chosen for an RPC.
type PickResult struct {
	// SubConn is the connection to use for this pick, valid only when
	// Pick returns a nil error and SubConn's state is Ready.
	SubConn SubConn
	// Done is called when the RPC completes, if non-nil.
	Done func(DoneInfo)
}

// Picker is used by the engine to choose a SubConn to send an RPC on. A
// Balancer generates a new Picker from a snapshot of its state whenever
// that state changes; the Connection Manager installs it via
// ClientConn.UpdateState.
type Picker interface {
	// Pick returns the connection and related information for the next
	// RPC.
	//
	// Pick MUST NOT block. If the balancer needs I/O or other blocking
	// work to service this call, it returns ErrNoSubConnAvailable, and
	// Pick will be called again once a new Picker is available.
	//
	// If an error is returned:
	//   - If the error is ErrNoSubConnAvailable, wait-for-ready RPCs block
	//     until a new Picker is available; other RPCs fail with
	//     Unavailable.
	//   - If the error is a *DropError, the engine fails the RPC with
	//     that status unconditionally (spec §4.4, §8).
	//   - For any other error, wait-for-ready RPCs will queue, but
	//     non-wait-for-ready RPCs fail immediately with that error's
	//     Error() string and an Unavailable code.
	Pick(info PickInfo) (PickResult, error)
}

// Balancer takes input from the engine, manages SubConns, and collects and
// aggregates connectivity state. It produces an updated Picker for every
// state change.
//
// UpdateClientConnState, ResolverError, UpdateSubConnState, and Close are
// called from the same serial worker (spec §4.5, §5); Pick is not
// similarly serialized and may be called concurrently at any time.
type Balancer interface {
	// UpdateClientConnState is called by the engine when the ClientConn
	// state changes. If it returns ErrBadResolverState, the engine calls
	// ResolveNow on the resolver once; it does not repeat the call or
	// back off.
	UpdateClientConnState(ClientConnState) error
	// ResolverError is called by the engine when the resolver reports an
	// error.
	ResolverError(error)
	// UpdateSubConnState is called by the engine when a SubConn's state
	// changes.
	UpdateSubConnState(SubConn, SubConnState)
	// Close shuts down the balancer. It need not shut down its existing
	// SubConns: the engine shuts down every SubConn it created when the
	// Channel closes.
	Close()
}

// SubConnState describes the state of a SubConn.
type SubConnState struct {
	ConnectivityState connectivity.State
	// ConnectionError is the error observed if ConnectivityState is
	// TransientFailure; nil otherwise.
	ConnectionError error
}

// ClientConnState describes the state of a ClientConn relevant to a
// Balancer.
type ClientConnState struct {
	ResolverState  resolver.State
	BalancerConfig serviceconfig.LoadBalancingConfig
}

// ErrBadResolverState may be returned by UpdateClientConnState to
// indicate a problem with the provided resolver state.
var ErrBadResolverState = errors.New("bad resolver state")

// ConnectivityStateEvaluator aggregates the connectivity states of
// multiple SubConns into one state, per spec §4.4's RoundRobin rules. Not
// thread safe; callers serialize access.
type ConnectivityStateEvaluator struct {
	numReady      uint64
	numConnecting uint64
}

// RecordTransition records a SubConn's state change and returns the
// resulting aggregate state:
//   - Ready if at least one SubConn is Ready;
//   - else Connecting if at least one SubConn is Connecting;
//   - else TransientFailure.
//
// Idle and Shutdown do not contribute to the counters.
func (cse *ConnectivityStateEvaluator) RecordTransition(oldState, newState connectivity.State) connectivity.State {
	for idx, state := range []connectivity.State{oldState, newState} {
		updateVal := 2*int64(idx) - 1 // -1 for oldState, +1 for newState.
		switch state {
		case connectivity.Ready:
			cse.numReady = uint64(int64(cse.numReady) + updateVal)
		case connectivity.Connecting:
			cse.numConnecting = uint64(int64(cse.numConnecting) + updateVal)
		}
	}
	if cse.numReady > 0 {
		return connectivity.Ready
	}
	if cse.numConnecting > 0 {
		return connectivity.Connecting
	}
	return connectivity.TransientFailure
}
