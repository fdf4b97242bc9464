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

package grpc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/status"
)

// fixedSizeCodec stands in for the "proto" Codec in tests that only care
// about the marshaled byte count, not real wire compatibility.
type fixedSizeCodec struct{ size int }

func (c fixedSizeCodec) Marshal(v any) ([]byte, error)    { return make([]byte, c.size), nil }
func (c fixedSizeCodec) Unmarshal(data []byte, v any) error { return nil }
func (c fixedSizeCodec) Name() string                     { return "fixed" }

func TestEncodeTimeoutPicksSmallestUnitUnderThreshold(t *testing.T) {
	// encodeTimeout walks units from finest (n) to coarsest (H) and
	// returns the first whose integer value stays under 1e8, so most
	// everyday deadlines come back in microseconds.
	cases := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500000u"},
		{3 * time.Second, "3000000u"},
		{90 * time.Second, "90000000u"},
		{0, "0n"},
		{-time.Second, "0n"},
	}
	for _, c := range cases {
		got := encodeTimeout(c.d)
		if got != c.want {
			t.Errorf("encodeTimeout(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestEncodeTimeoutLargeDurationFallsBackToHours(t *testing.T) {
	got := encodeTimeout(2000000 * time.Hour)
	if got != "2000000H" {
		t.Fatalf("encodeTimeout(large) = %q, want %q", got, "2000000H")
	}
}

func TestHTTPStatusToCode(t *testing.T) {
	cases := map[int]codes.Code{
		http.StatusBadRequest:          codes.Internal,
		http.StatusUnauthorized:        codes.Unauthenticated,
		http.StatusForbidden:           codes.PermissionDenied,
		http.StatusNotFound:            codes.Unimplemented,
		http.StatusTooManyRequests:     codes.Unavailable,
		http.StatusBadGateway:          codes.Unavailable,
		http.StatusServiceUnavailable:  codes.Unavailable,
		http.StatusGatewayTimeout:      codes.Unavailable,
		http.StatusInternalServerError: codes.Unknown,
	}
	for status, want := range cases {
		if got := httpStatusToCode(status); got != want {
			t.Errorf("httpStatusToCode(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestSplitFullMethod(t *testing.T) {
	svc, m := splitFullMethod("/pkg.Service/Method")
	if svc != "pkg.Service" || m != "Method" {
		t.Fatalf("splitFullMethod = %q, %q", svc, m)
	}
	svc, m = splitFullMethod("nosecondslash")
	if svc != "" || m != "" {
		t.Fatalf("splitFullMethod without a second slash = %q, %q, want empty", svc, m)
	}
}

func TestMethodFamilyStripsPath(t *testing.T) {
	if got := methodFamily("/pkg.Service/Method"); got != "Method" {
		t.Fatalf("methodFamily = %q, want %q", got, "Method")
	}
}

func TestMaxSendSizeFallsBackToDialOption(t *testing.T) {
	cs := &clientStream{cc: &ClientConn{dopts: dialOptions{maxCallSendMsgSize: 42}}}
	if got := cs.maxSendSize(); got != 42 {
		t.Fatalf("maxSendSize() = %d, want the dial option's 42", got)
	}
	n := 7
	cs.opts = callOptions{maxSendMsgSize: &n}
	if got := cs.maxSendSize(); got != 7 {
		t.Fatalf("maxSendSize() with a per-call override = %d, want 7", got)
	}
}

func TestSendMsgRejectsOversizedMessage(t *testing.T) {
	cs := &clientStream{
		ctx:    context.Background(),
		cancel: func() {},
		cc:     &ClientConn{dopts: dialOptions{maxCallSendMsgSize: 10}},
		codec:  fixedSizeCodec{size: 11},
		desc:   &StreamDesc{},
	}
	err := cs.SendMsg(struct{}{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("SendMsg with an 11-byte message over a 10-byte cap = %v, want ResourceExhausted", err)
	}
}
