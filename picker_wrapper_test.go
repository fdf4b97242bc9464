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
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/resolver"
	"github.com/relaygrpc/grpc/status"
)

type scriptedPicker struct {
	result balancer.PickResult
	err    error
}

func (p *scriptedPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return p.result, p.err
}

type dummySubConn struct{}

func (*dummySubConn) UpdateAddresses([]resolver.Address) {}
func (*dummySubConn) Connect()                           {}
func (*dummySubConn) Shutdown()                          {}

func TestPickerWrapperCompletesImmediately(t *testing.T) {
	pw := newPickerWrapper()
	sc := &dummySubConn{}
	pw.updatePicker(&scriptedPicker{result: balancer.PickResult{SubConn: sc}})

	res, err := pw.pick(context.Background(), false, balancer.PickInfo{})
	if err != nil {
		t.Fatalf("pick returned error: %v", err)
	}
	if res.SubConn != sc {
		t.Fatal("pick did not return the scripted SubConn")
	}
}

func TestPickerWrapperDropBypassesWaitForReady(t *testing.T) {
	pw := newPickerWrapper()
	dropStatus := status.New(codes.ResourceExhausted, "dropped by policy")
	pw.updatePicker(&scriptedPicker{err: balancer.Drop(dropStatus)})

	_, err := pw.pick(context.Background(), true, balancer.PickInfo{})
	if err == nil {
		t.Fatal("expected an error for a Drop outcome")
	}
	if !isDropped(err) {
		t.Fatalf("Drop outcome must be detectable via isDropped, got %v", err)
	}
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("status code = %v, want ResourceExhausted preserved through droppedError", status.Code(err))
	}
}

func TestPickerWrapperQueuesWithoutPickerUntilReleased(t *testing.T) {
	pw := newPickerWrapper()
	done := make(chan struct{})
	go func() {
		_, err := pw.pick(context.Background(), true, balancer.PickInfo{})
		if err != nil {
			t.Errorf("pick returned error after picker arrived: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("pick returned before any Picker was installed")
	case <-time.After(50 * time.Millisecond):
	}

	pw.updatePicker(&scriptedPicker{result: balancer.PickResult{SubConn: &dummySubConn{}}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pick did not unblock after updatePicker")
	}
}

func TestPickerWrapperFailsFastWithoutWaitForReady(t *testing.T) {
	pw := newPickerWrapper()
	_, err := pw.pick(context.Background(), false, balancer.PickInfo{})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("no picker, wait-for-ready=false: code = %v, want Unavailable", status.Code(err))
	}
}

func TestPickerWrapperDeadlineExceededWhileQueued(t *testing.T) {
	pw := newPickerWrapper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pw.pick(ctx, true, balancer.PickInfo{})
	if status.Code(err) != codes.DeadlineExceeded {
		t.Fatalf("code = %v, want DeadlineExceeded", status.Code(err))
	}
}

func TestPickerWrapperCloseUnblocksWaiters(t *testing.T) {
	pw := newPickerWrapper()
	errCh := make(chan error, 1)
	go func() {
		_, err := pw.pick(context.Background(), true, balancer.PickInfo{})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	pw.close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error once the pickerWrapper is closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pick did not return after close")
	}
}

func TestIsDroppedUnwrapsChain(t *testing.T) {
	base := &droppedError{error: errors.New("boom")}
	wrapped := fmt.Errorf("attempt failed: %w", base)
	if !isDropped(wrapped) {
		t.Fatal("isDropped should see through a %w-wrapped droppedError")
	}
	if isDropped(errors.New("not a drop")) {
		t.Fatal("isDropped must not misclassify an ordinary error")
	}
}
