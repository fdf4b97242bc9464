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

// Package resolver defines the APIs for name resolution in the engine
// (spec §4.1): producing and refreshing a set of backend addresses, plus
// an optional service config, for a dial target.
package resolver

import (
	"context"
	"net"

	"github.com/relaygrpc/grpc/attributes"
	"github.com/relaygrpc/grpc/credentials"
	"github.com/relaygrpc/grpc/internal"
	"github.com/relaygrpc/grpc/serviceconfig"
)

var (
	m             = make(map[string]Builder)
	defaultScheme = "passthrough"
)

// Register registers the resolver builder under b.Scheme(). Must only be
// called during initialization; not thread safe. Registering the same
// scheme twice makes the later one win.
func Register(b Builder) {
	m[b.Scheme()] = b
}

func unregisterForTesting(scheme string) {
	delete(m, scheme)
}

func init() {
	internal.ResolverUnregister = unregisterForTesting
}

// Get returns the resolver builder registered with the given scheme, or
// nil if none is registered.
func Get(scheme string) Builder {
	if b, ok := m[scheme]; ok {
		return b
	}
	return nil
}

// SetDefaultScheme sets the scheme used for targets with no scheme. The
// default is "passthrough". Must only be called during initialization.
func SetDefaultScheme(scheme string) {
	defaultScheme = scheme
}

// GetDefaultScheme returns the scheme used for targets with no scheme.
func GetDefaultScheme() string {
	return defaultScheme
}

// Address represents a server the Channel may establish a connection to
// (spec §3, BalancerAddress). Two Addresses compare equal by Addr and
// ServerName (see Equal);
// Attributes may change across resolutions without forcing a Subchannel
// to be re-created (spec §3, §8).
type Address struct {
	// Addr is the server address a connection will be established to.
	Addr string
	// ServerName, if non-empty, overrides the TLS authority used for this
	// address instead of the target's host.
	//
	// WARNING: ServerName must only be populated with trusted values — an
	// untrusted value can be used to bypass TLS authority checks.
	ServerName string
	// Attributes holds typed, arbitrary data about this address for the
	// load balancing policy to consume.
	Attributes *attributes.Attributes
}

// Equal reports whether a and o name the same endpoint, ignoring
// Attributes (spec §3: two addresses compare equal by endpoint only).
func (a Address) Equal(o Address) bool {
	return a.Addr == o.Addr && a.ServerName == o.ServerName
}

// BuildOptions contains additional information for a Builder to use when
// constructing a Resolver.
type BuildOptions struct {
	// DisableServiceConfig indicates the resolver should not fetch service
	// config data (spec §6, DisableResolverServiceConfig).
	DisableServiceConfig bool
	// DialCreds and Dialer mirror the Channel's own configuration, for
	// resolvers that need to reach a naming service securely.
	DialCreds credentials.TransportCredentials
	// CredsBundle mirrors the Channel's own credentials.Bundle, for
	// resolvers that authenticate with the same bundle as RPCs.
	CredsBundle credentials.Bundle
	Dialer      func(context.Context, string) (net.Conn, error)
}

// State contains the current state relevant to the Channel, produced by
// one resolution (spec §3, ResolverResult).
type State struct {
	// Addresses is the resolved set of addresses for the target.
	Addresses []Address
	// ServiceConfig is the parsed result of the latest service config, if
	// any was produced and DisableServiceConfig was not set.
	ServiceConfig *serviceconfig.ParseResult
	// Attributes holds resolver-produced data for the load balancing
	// policy to consume, distinct from any one Address's Attributes.
	Attributes *attributes.Attributes
}

// ClientConn is the callback surface a Resolver uses to report its
// results to the engine. Implemented by the engine; resolver
// implementations must not implement it themselves.
type ClientConn interface {
	// UpdateState reports a new set of addresses and/or service config. A
	// State with no addresses and no error is valid and means "empty
	// set" (spec §4.1): the balancer treats it as TransientFailure absent
	// a current Ready Subchannel.
	UpdateState(State)
	// ReportError notifies the engine the resolver hit an error. The
	// engine passes the error to the balancer; it does not call
	// ResolveNow in response.
	ReportError(error)
	// ParseServiceConfig parses the given JSON service config into a
	// ParseResult, using the registry of balancer ConfigParsers.
	ParseServiceConfig(serviceConfigJSON string) *serviceconfig.ParseResult
}

// Target represents a target as parsed from the string passed to
// ChannelForAddress (spec §3), following the naming convention
// scheme://authority/endpoint.
//
// If the target string has no scheme, the default scheme is applied and
// Endpoint holds the full target string. If the parsed scheme has no
// registered Builder, the default scheme is applied and Endpoint holds
// the full, unparsed target string.
type Target struct {
	Scheme    string
	Authority string
	Endpoint  string
}

// Builder creates a Resolver that watches the named Target.
type Builder interface {
	// Build creates a new Resolver for the given target. gRPC dial calls
	// Build synchronously; a non-nil error fails construction.
	Build(target Target, cc ClientConn, opts BuildOptions) (Resolver, error)
	// Scheme returns the scheme this Builder is registered under.
	Scheme() string
}

// ResolveNowOptions includes additional information for ResolveNow.
type ResolveNowOptions struct{}

// Resolver watches for updates on a target: address changes and service
// config changes (spec §4.1).
type Resolver interface {
	// ResolveNow is a hint that resolution should be attempted again as
	// soon as reasonable (spec §4.1, Refresh). It may be called
	// concurrently and may be ignored if unnecessary. Concurrent
	// ResolveNow calls that arrive while a resolution is outstanding are
	// coalesced into it.
	ResolveNow(ResolveNowOptions)
	// Close stops the Resolver from reporting further updates. Idempotent.
	Close()
}
