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
	"sync"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/status"
)

// pickerWrapper implements the Connection Manager's PickAsync (spec
// §4.5): it holds the Balancer's current Picker and blocks Pick callers
// across a Picker change using a closed-channel signal, so waiters never
// need to poll.
type pickerWrapper struct {
	mu     sync.Mutex
	picker balancer.Picker
	done   bool
	blockingCh chan struct{}
}

func newPickerWrapper() *pickerWrapper {
	return &pickerWrapper{blockingCh: make(chan struct{})}
}

// updatePicker installs p as current and releases every PickAsync caller
// blocked on the previous one (spec §4.5: "a Picker change ... released
// on the next Picker change").
func (pw *pickerWrapper) updatePicker(p balancer.Picker) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.done {
		return
	}
	pw.picker = p
	close(pw.blockingCh)
	pw.blockingCh = make(chan struct{})
}

func (pw *pickerWrapper) close() {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.done {
		return
	}
	pw.done = true
	close(pw.blockingCh)
}

// pick implements the algorithm in spec §4.5: Complete, Queue
// (wait-for-ready gated), and Drop are the three outcomes a Picker can
// produce.
func (pw *pickerWrapper) pick(ctx context.Context, waitForReady bool, info balancer.PickInfo) (balancer.PickResult, error) {
	for {
		pw.mu.Lock()
		if pw.done {
			pw.mu.Unlock()
			return balancer.PickResult{}, status.Error(codes.Cancelled, "grpc: the channel has been closed")
		}
		p := pw.picker
		ch := pw.blockingCh
		pw.mu.Unlock()

		if p == nil {
			if !waitForReady {
				return balancer.PickResult{}, status.Error(codes.Unavailable, "grpc: no picker available and wait-for-ready is false")
			}
			if err := waitOnChannel(ctx, ch); err != nil {
				return balancer.PickResult{}, err
			}
			continue
		}

		result, err := p.Pick(info)
		if err == nil {
			return result, nil
		}

		if de, ok := err.(*balancer.DropError); ok {
			// Drop is a first-class terminal outcome: never queued, never
			// retried, regardless of waitForReady (spec §4.4, §4.5, §8).
			return balancer.PickResult{}, &droppedError{error: de.Status.Err()}
		}

		if err == balancer.ErrNoSubConnAvailable {
			if !waitForReady {
				return balancer.PickResult{}, status.Error(codes.Unavailable, err.Error())
			}
			if werr := waitOnChannel(ctx, ch); werr != nil {
				return balancer.PickResult{}, werr
			}
			continue
		}

		if !waitForReady {
			return balancer.PickResult{}, status.Error(codes.Unavailable, err.Error())
		}
		if werr := waitOnChannel(ctx, ch); werr != nil {
			return balancer.PickResult{}, werr
		}
	}
}

// droppedError marks a Pick outcome as a Drop (spec §4.4, §8): the
// Retry/Hedging Controller type-asserts for this and never retries or
// hedges a call that fails with it, regardless of the wrapped status
// code or wait-for-ready.
type droppedError struct {
	error
}

func (e *droppedError) Unwrap() error { return e.error }

func waitOnChannel(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ctx.Done():
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return status.Error(codes.DeadlineExceeded, ctx.Err().Error())
		default:
			return status.Error(codes.Cancelled, ctx.Err().Error())
		}
	case <-ch:
		return nil
	}
}
