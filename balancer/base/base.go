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

// Package base holds the boilerplate most picker-driven balancers share:
// a Balancer that tracks one SubConn per resolved address, aggregates
// their connectivity state with a balancer.ConnectivityStateEvaluator,
// and asks a PickerBuilder for a new Picker whenever the Ready set
// changes (spec §4.4). RoundRobin and any other policy that only needs
// to pick among the Ready SubConns builds on top of this.
package base

import (
	"errors"
	"fmt"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/connectivity"
	"github.com/relaygrpc/grpc/internal/grpclog"
	"github.com/relaygrpc/grpc/resolver"
)

var logger = grpclog.Component("balancer")

// PickerBuilder creates a Picker from a snapshot of the balancer's Ready
// SubConns.
type PickerBuilder interface {
	Build(info PickerBuildInfo) balancer.Picker
}

// PickerBuildInfo holds the information PickerBuilder needs to build a
// Picker.
type PickerBuildInfo struct {
	// ReadySCs maps every Ready SubConn to the resolver.Address it was
	// created with.
	ReadySCs map[balancer.SubConn]SubConnInfo
}

// SubConnInfo holds resolver-supplied data about a SubConn.
type SubConnInfo struct {
	Address resolver.Address
}

// Config configures a base balancer Builder.
type Config struct {
	// HealthCheck controls whether the balancer subscribes to per-SubConn
	// health checking. Unused here — health checking is one of the
	// out-of-scope ancillary surfaces (spec §1) — but kept as a Config
	// field because ConfigParsers that embed a base.Config in a JSON
	// loadBalancingConfig blob expect to find it.
	HealthCheck bool
}

// NewBalancerBuilder returns a balancer.Builder that wires pb into a base
// balancer registered under name.
func NewBalancerBuilder(name string, pb PickerBuilder, config Config) balancer.Builder {
	return &builder{name: name, pickerBuilder: pb, config: config}
}

type builder struct {
	name          string
	pickerBuilder PickerBuilder
	config        Config
}

func (b *builder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	bal := &baseBalancer{
		cc:            cc,
		pickerBuilder: b.pickerBuilder,
		subConns:      make(map[resolver.Address]balancer.SubConn),
		scStates:      make(map[balancer.SubConn]connectivity.State),
		csEvltr:       &balancer.ConnectivityStateEvaluator{},
		config:        b.config,
		state:         connectivity.Connecting,
	}
	bal.picker = NewErrPicker(balancer.ErrNoSubConnAvailable)
	return bal
}

func (b *builder) Name() string { return b.name }

// NewErrPicker returns a Picker that always fails Pick with err. Useful
// as the initial Picker before the balancer has any SubConns, and after
// UpdateClientConnState reports ErrBadResolverState.
func NewErrPicker(err error) balancer.Picker {
	return &errPicker{err: err}
}

type errPicker struct {
	err error
}

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}

type baseBalancer struct {
	cc            balancer.ClientConn
	pickerBuilder PickerBuilder
	config        Config

	csEvltr *balancer.ConnectivityStateEvaluator
	state   connectivity.State

	subConns map[resolver.Address]balancer.SubConn
	scStates map[balancer.SubConn]connectivity.State
	picker   balancer.Picker

	resolverErr error
	connErr     error
}

func (b *baseBalancer) UpdateClientConnState(s balancer.ClientConnState) error {
	b.resolverErr = nil
	addrsSet := make(map[resolver.Address]bool, len(s.ResolverState.Addresses))
	for _, a := range s.ResolverState.Addresses {
		a := a // capture this iteration's address, not the loop variable
		addrsSet[a] = true
		if _, ok := b.subConns[a]; ok {
			continue
		}
		sc, err := b.cc.NewSubConn([]resolver.Address{a}, balancer.NewSubConnOptions{
			StateListener: func(scs balancer.SubConnState) { b.updateSubConnState(a, scs) },
		})
		if err != nil {
			logger.Warningf("base: failed to create new SubConn for address %v: %v", a, err)
			continue
		}
		b.subConns[a] = sc
		b.scStates[sc] = connectivity.Idle
		sc.Connect()
	}
	for a, sc := range b.subConns {
		if !addrsSet[a] {
			sc.Shutdown()
			delete(b.subConns, a)
		}
	}
	if len(s.ResolverState.Addresses) == 0 {
		b.ResolverError(errors.New("produced zero addresses"))
		return balancer.ErrBadResolverState
	}
	b.regeneratePicker()
	return nil
}

func (b *baseBalancer) ResolverError(err error) {
	b.resolverErr = err
	if len(b.subConns) == 0 {
		b.state = connectivity.TransientFailure
	}
	if b.state != connectivity.TransientFailure {
		return
	}
	b.regeneratePicker()
	b.cc.UpdateState(balancer.State{ConnectivityState: b.state, Picker: b.picker})
}

func (b *baseBalancer) updateSubConnState(addr resolver.Address, s balancer.SubConnState) {
	sc, ok := b.subConns[addr]
	if !ok {
		return
	}
	b.UpdateSubConnState(sc, s)
}

func (b *baseBalancer) UpdateSubConnState(sc balancer.SubConn, s balancer.SubConnState) {
	oldS, ok := b.scStates[sc]
	if !ok {
		return
	}
	if oldS == connectivity.TransientFailure && s.ConnectivityState == connectivity.Connecting {
		return
	}
	b.scStates[sc] = s.ConnectivityState
	switch s.ConnectivityState {
	case connectivity.Shutdown:
		delete(b.scStates, sc)
	case connectivity.TransientFailure:
		b.connErr = s.ConnectionError
	}

	b.state = b.csEvltr.RecordTransition(oldS, s.ConnectivityState)
	b.regeneratePicker()
	b.cc.UpdateState(balancer.State{ConnectivityState: b.state, Picker: b.picker})
}

func (b *baseBalancer) Close() {}

func (b *baseBalancer) regeneratePicker() {
	if b.state == connectivity.TransientFailure {
		b.picker = NewErrPicker(b.mergeErrors())
		return
	}
	readySCs := make(map[balancer.SubConn]SubConnInfo)
	for a, sc := range b.subConns {
		if st, ok := b.scStates[sc]; ok && st == connectivity.Ready {
			readySCs[sc] = SubConnInfo{Address: a}
		}
	}
	b.picker = b.pickerBuilder.Build(PickerBuildInfo{ReadySCs: readySCs})
}

func (b *baseBalancer) mergeErrors() error {
	if b.connErr == nil {
		return fmt.Errorf("last resolver error: %v", b.resolverErr)
	}
	if b.resolverErr == nil {
		return fmt.Errorf("last connection error: %v", b.connErr)
	}
	return fmt.Errorf("last connection error: %v; last resolver error: %v", b.connErr, b.resolverErr)
}
