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
	"testing"

	"github.com/relaygrpc/grpc/resolver"
)

func TestParseTargetWithSchemeAndAuthority(t *testing.T) {
	got := parseTarget("dns://8.8.8.8/example.com:443")
	want := resolver.Target{Scheme: "dns", Authority: "8.8.8.8", Endpoint: "example.com:443"}
	if got != want {
		t.Fatalf("parseTarget = %+v, want %+v", got, want)
	}
}

func TestParseTargetBareEndpoint(t *testing.T) {
	got := parseTarget("localhost:50051")
	want := resolver.Target{Endpoint: "localhost:50051"}
	if got != want {
		t.Fatalf("parseTarget = %+v, want %+v", got, want)
	}
}

func TestSplit2(t *testing.T) {
	if a, b, ok := split2("a://b", "://"); !ok || a != "a" || b != "b" {
		t.Fatalf("split2 = %q, %q, %v", a, b, ok)
	}
	if _, _, ok := split2("noseparator", "://"); ok {
		t.Fatal("split2 should report ok=false when sep is absent")
	}
}
