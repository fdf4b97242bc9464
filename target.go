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

package grpc

import (
	"strings"

	"github.com/relaygrpc/grpc/resolver"
)

// split2 returns the two values from strings.SplitN(s, sep, 2), or
// ("", "", false) if sep does not occur in s.
func split2(s, sep string) (string, string, bool) {
	spl := strings.SplitN(s, sep, 2)
	if len(spl) < 2 {
		return "", "", false
	}
	return spl[0], spl[1], true
}

// parseTarget splits a dial target into scheme, authority, and endpoint
// (spec §3, Target), following the naming convention
// scheme://authority/endpoint. A target with no "://" is treated as a
// bare endpoint under the default scheme.
func parseTarget(target string) resolver.Target {
	scheme, rest, ok := split2(target, "://")
	if !ok {
		return resolver.Target{Endpoint: target}
	}
	authority, endpoint, ok := split2(rest, "/")
	if !ok {
		return resolver.Target{Endpoint: target}
	}
	return resolver.Target{Scheme: scheme, Authority: authority, Endpoint: endpoint}
}
