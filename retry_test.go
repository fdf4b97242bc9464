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

package grpc

import (
	"testing"
	"time"

	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/status"
)

func TestRetryThrottlerAllowsAboveHalfCeiling(t *testing.T) {
	th := newRetryThrottler(4, 0.1)
	// Starts full (4 tokens); each allow() charges one token first, then
	// checks tokens > max/2 (2).
	if !th.allow() { // 4 -> 3, 3>2
		t.Fatal("first attempt with full bucket should be allowed")
	}
	if th.allow() { // 3 -> 2, 2>2 is false
		t.Fatal("attempt should be refused once tokens drop to the ceiling's half")
	}
	if th.allow() { // 2 -> 1, 1>2 is false
		t.Fatal("attempt should remain refused below the ceiling's half")
	}
}

func TestRetryThrottlerCreditCapsAtCeiling(t *testing.T) {
	th := newRetryThrottler(4, 10)
	th.allow() // drains toward 0
	th.onSuccess()
	th.onSuccess()
	if th.tokens != 4 {
		t.Fatalf("tokens = %v, want capped at max=4", th.tokens)
	}
}

func TestRetryThrottlerFloorsAtZero(t *testing.T) {
	th := newRetryThrottler(2, 0)
	for i := 0; i < 10; i++ {
		th.allow()
	}
	if th.tokens != 0 {
		t.Fatalf("tokens = %v, want floored at 0", th.tokens)
	}
}

func TestJitterIsBounded(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		j := jitter(d)
		if j < 0 || j >= d {
			t.Fatalf("jitter(%v) = %v, want in [0, %v)", d, j, d)
		}
	}
	if jitter(0) != 0 {
		t.Fatal("jitter of a non-positive duration should be 0")
	}
}

func TestRetryableStatus(t *testing.T) {
	codeSet := map[codes.Code]bool{codes.Unavailable: true, codes.DataLoss: true}
	if !retryableStatus(status.Error(codes.Unavailable, "x"), codeSet) {
		t.Error("Unavailable should be retryable per codeSet")
	}
	if retryableStatus(status.Error(codes.NotFound, "x"), codeSet) {
		t.Error("NotFound should not be retryable")
	}
	if retryableStatus(status.Error(codes.Unavailable, "x"), nil) {
		t.Error("an empty codeSet should never be retryable")
	}
}

func TestNonFatalStatus(t *testing.T) {
	codeSet := map[codes.Code]bool{codes.Unavailable: true}
	if !nonFatalStatus(status.Error(codes.Unavailable, "x"), codeSet) {
		t.Error("Unavailable should be non-fatal per codeSet")
	}
	if nonFatalStatus(status.Error(codes.Internal, "x"), codeSet) {
		t.Error("Internal should be fatal (terminates hedging) when not in codeSet")
	}
}

func TestClampAttemptsAppliesChannelWideCeiling(t *testing.T) {
	cc := &ClientConn{dopts: dialOptions{maxRetryAttempts: 3}}
	if got := clampAttempts(cc, 5); got != 3 {
		t.Fatalf("clampAttempts(5) with ceiling 3 = %d, want 3", got)
	}
	if got := clampAttempts(cc, 2); got != 2 {
		t.Fatalf("clampAttempts(2) with ceiling 3 = %d, want 2 (below the ceiling)", got)
	}
}

func TestClampAttemptsUncappedWhenCeilingDisabled(t *testing.T) {
	cc := &ClientConn{dopts: dialOptions{maxRetryAttempts: 0}}
	if got := clampAttempts(cc, 100); got != 100 {
		t.Fatalf("clampAttempts with a disabled ceiling = %d, want the policy's own 100", got)
	}
}

func TestReserveRetryBufferRejectsOversizeSingleCall(t *testing.T) {
	cc := &ClientConn{dopts: dialOptions{maxRetryBufferPerCallSize: 100, maxRetryBufferSize: 1000}}
	if err := cc.reserveRetryBuffer(101); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("reserveRetryBuffer(101) over a 100-byte per-call cap = %v, want ResourceExhausted", err)
	}
}

func TestReserveRetryBufferRejectsOverChannelWideCeiling(t *testing.T) {
	cc := &ClientConn{dopts: dialOptions{maxRetryBufferPerCallSize: 1000, maxRetryBufferSize: 150}}
	if err := cc.reserveRetryBuffer(100); err != nil {
		t.Fatalf("first reservation should succeed: %v", err)
	}
	if err := cc.reserveRetryBuffer(100); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second reservation pushing the channel-wide total over 150 = %v, want ResourceExhausted", err)
	}
}

func TestReleaseRetryBufferRestoresExactCapacity(t *testing.T) {
	cc := &ClientConn{dopts: dialOptions{maxRetryBufferPerCallSize: 1000, maxRetryBufferSize: 100}}
	if err := cc.reserveRetryBuffer(100); err != nil {
		t.Fatalf("reservation should succeed: %v", err)
	}
	if err := cc.reserveRetryBuffer(1); status.Code(err) != codes.ResourceExhausted {
		t.Fatal("the buffer should be fully committed and reject any further reservation")
	}
	cc.releaseRetryBuffer(100)
	if cc.retryBufferSize != 0 {
		t.Fatalf("retryBufferSize after release = %d, want 0 (bytes added on Send must equal bytes removed on commit/abort)", cc.retryBufferSize)
	}
	if err := cc.reserveRetryBuffer(100); err != nil {
		t.Fatalf("reservation after a full release should succeed again: %v", err)
	}
}
