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

// Package credentials implements the authentication-metadata contracts the
// Call Runtime consumes (spec §1, §6): per-RPC credentials that attach
// metadata to every call, and the transport credential posture (scheme to
// TLS rules, spec §6) a Channel is built with.
package credentials

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// PerRPCCredentials defines the common interface for credentials that
// attach security/authentication metadata to every RPC (spec §6's
// "authentication metadata").
type PerRPCCredentials interface {
	// GetRequestMetadata gets the current request metadata, refreshing
	// tokens if required. uri is the URI of the entry point for the
	// request; ctx may carry a deadline for the refresh.
	GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error)
	// RequireTransportSecurity indicates whether these credentials require
	// a secure channel. UnsafeUseInsecureChannelCallCredentials (spec §6)
	// is the only sanctioned way to bypass this check.
	RequireTransportSecurity() bool
}

// Bundle is a combination of TransportCredentials and PerRPCCredentials.
// It allows a single type to be installed on both the BuildOptions of a
// balancer and the SubConn, matching spec §6's credential surface.
type Bundle interface {
	TransportCredentials() TransportCredentials
	PerRPCCredentials() PerRPCCredentials
}

// ProtocolInfo provides information about the gRPC wire protocol, security
// protocol, and security version in use, plus the user-configured server
// name.
type ProtocolInfo struct {
	ProtocolVersion  string
	SecurityProtocol string
	SecurityVersion  string
	ServerName       string
}

// AuthInfo defines the common interface for the auth information the
// negotiated transport credentials produce, e.g. the peer's certificate
// chain for mTLS.
type AuthInfo interface {
	AuthType() string
}

// TransportCredentials defines the common interface for all the live
// transport credentials (spec §6's Credentials option: Insecure or
// SecureSsl). Implementations MUST be thread safe.
type TransportCredentials interface {
	// ClientHandshake does the authentication handshake specified by the
	// corresponding authentication protocol on rawConn for clients.
	ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, AuthInfo, error)
	// Info provides the ProtocolInfo of this TransportCredentials.
	Info() ProtocolInfo
	// Clone makes a copy of this TransportCredentials.
	Clone() TransportCredentials
	// OverrideServerName overrides the server name used for the TLS
	// session handshake.
	OverrideServerName(string) error
}

// TLSInfo implements AuthInfo for TLS-secured connections.
type TLSInfo struct {
	State tls.ConnectionState
}

// AuthType returns the type of TLSInfo as a string.
func (TLSInfo) AuthType() string {
	return "tls"
}

// CheckSecurityLevel validates the scheme-to-TLS rules from spec §6:
// http:// requires insecure credentials (unless the caller explicitly
// opted in), https:// requires secure ones, and any other scheme requires
// credentials to be supplied explicitly. Returns a construction-time
// error on mismatch.
func CheckSecurityLevel(scheme string, creds TransportCredentials, explicit bool) error {
	secure := creds != nil && creds.Info().SecurityProtocol != "insecure"
	switch scheme {
	case "http":
		if secure && !explicit {
			return fmt.Errorf("credentials: secure TransportCredentials supplied for an http:// target without an explicit override")
		}
	case "https":
		if !secure {
			return fmt.Errorf("credentials: https:// target requires secure TransportCredentials")
		}
	default:
		if creds == nil {
			return fmt.Errorf("credentials: scheme %q requires TransportCredentials to be supplied explicitly", scheme)
		}
	}
	return nil
}
