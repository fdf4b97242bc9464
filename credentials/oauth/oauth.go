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

// Package oauth implements a credentials.PerRPCCredentials backed by
// golang.org/x/oauth2, giving spec §1's "authentication metadata" a
// concrete producer (SPEC_FULL, DOMAIN STACK).
package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/relaygrpc/grpc/credentials"
)

// TokenSource supplies PerRPCCredentials from an oauth2.TokenSource,
// attaching "authorization: Bearer <token>" to every call.
type TokenSource struct {
	oauth2.TokenSource
}

// NewTokenSource constructs a TokenSource-backed PerRPCCredentials.
func NewTokenSource(src oauth2.TokenSource) credentials.PerRPCCredentials {
	return TokenSource{TokenSource: src}
}

// GetRequestMetadata fetches a (possibly cached, possibly refreshed) token
// from the underlying oauth2.TokenSource and renders it as a bearer
// authorization header.
func (ts TokenSource) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := ts.Token()
	if err != nil {
		return nil, err
	}
	ri, _ := RequestInfoFromContext(ctx)
	if ri.AuthInfo == nil || ri.AuthInfo.AuthType() != "tls" {
		return nil, fmt.Errorf("oauth: unable to transfer TokenSource PerRPCCredentials on insecure transport; set UnsafeUseInsecureChannelCallCredentials to override")
	}
	return map[string]string{
		"authorization": token.Type() + " " + token.AccessToken,
	}, nil
}

// RequireTransportSecurity indicates that the oauth2 bearer token must
// only travel over a secure transport.
func (ts TokenSource) RequireTransportSecurity() bool {
	return true
}

type requestInfoKey struct{}

// RequestInfo carries the transport's negotiated AuthInfo so
// PerRPCCredentials implementations can enforce RequireTransportSecurity.
type RequestInfo struct {
	AuthInfo credentials.AuthInfo
}

// NewContextWithRequestInfo attaches ri to ctx.
func NewContextWithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, ri)
}

// RequestInfoFromContext extracts the RequestInfo attached to ctx, if any.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	ri, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return ri, ok
}
