/*
 *
 * Copyright 2022 gRPC authors.
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

// Package grpcsync implements additional synchronization primitives built
// on top of the ones provided by the standard library. The
// CallbackSerializer here is the "single logical worker" spec §4.5 and §5
// require for applying balancer updates (resolver results, subchannel
// state changes) in order, with external callbacks run outside any lock.
package grpcsync

import (
	"context"
	"sync"
)

// CallbackSerializer provides a mechanism to schedule callbacks in a
// synchronized manner. Callbacks are guaranteed to execute in the order
// they were scheduled, one at a time, and never concurrently with each
// other.
type CallbackSerializer struct {
	done chan struct{}

	callbacks *callbackQueue
	closedMu  sync.Mutex
	closed    bool
}

// NewCallbackSerializer returns a CallbackSerializer that stops processing
// callbacks as soon as ctx is cancelled. Callers must not rely on
// CallbackSerializer processing anything once ctx is done; they must
// instead rely on the Done channel.
func NewCallbackSerializer(ctx context.Context) *CallbackSerializer {
	cs := &CallbackSerializer{
		done:      make(chan struct{}),
		callbacks: newCallbackQueue(),
	}
	go cs.run(ctx)
	return cs
}

// Schedule adds a callback to be scheduled after existing callbacks are
// run. Callbacks are expected to honor the context when performing any
// blocking operations, and should return as soon as possible on context
// cancellation.
//
// Returns false if the serializer is closed and the callback will never
// be run.
func (cs *CallbackSerializer) Schedule(f func(ctx context.Context)) bool {
	cs.closedMu.Lock()
	defer cs.closedMu.Unlock()
	if cs.closed {
		return false
	}
	cs.callbacks.put(f)
	return true
}

// Done returns a channel that is closed after the serializer is closed and
// all scheduled callbacks have been run.
func (cs *CallbackSerializer) Done() <-chan struct{} {
	return cs.done
}

func (cs *CallbackSerializer) run(ctx context.Context) {
	defer close(cs.done)
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case cb := <-cs.callbacks.get():
			cs.callbacks.load()
			cb(ctx)
		}
	}
	cs.closedMu.Lock()
	cs.closed = true
	cs.closedMu.Unlock()

	// Drain the remaining callbacks that were scheduled before ctx was
	// cancelled, invoking each with ctx so they see it is already done.
	for {
		select {
		case cb := <-cs.callbacks.get():
			cs.callbacks.load()
			cb(ctx)
		default:
			return
		}
	}
}

// callbackQueue is an unbounded queue of callbacks, implemented as a
// growable slice guarded by a mutex, exposed through a buffered channel so
// that run() can select on it alongside ctx.Done().
type callbackQueue struct {
	mu      sync.Mutex
	buf     []func(ctx context.Context)
	ch      chan func(ctx context.Context)
}

func newCallbackQueue() *callbackQueue {
	return &callbackQueue{ch: make(chan func(ctx context.Context), 1)}
}

func (q *callbackQueue) put(f func(ctx context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.ch <- f:
		return
	default:
	}
	q.buf = append(q.buf, f)
}

func (q *callbackQueue) get() <-chan func(ctx context.Context) {
	return q.ch
}

// load refills ch from buf after a value has just been consumed from ch.
func (q *callbackQueue) load() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return
	}
	select {
	case q.ch <- q.buf[0]:
		q.buf = q.buf[1:]
	default:
	}
}
