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
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/encoding"
	internalserviceconfig "github.com/relaygrpc/grpc/internal/serviceconfig"
	"github.com/relaygrpc/grpc/status"
)

// retryThrottler implements the channel-wide token bucket from spec
// §4.7: a retry or hedge attempt is allowed only while tokens remain
// above half of the configured ceiling.
type retryThrottler struct {
	mu     sync.Mutex
	max    float64
	ratio  float64
	tokens float64
}

func newRetryThrottler(maxTokens, tokenRatio float64) *retryThrottler {
	return &retryThrottler{max: maxTokens, ratio: tokenRatio, tokens: maxTokens}
}

// allow reports whether a retry/hedge attempt may proceed, per spec §4.7:
// "allowed only when tokens > maxTokens/2". It also charges one token for
// the attempt being considered, matching the teacher corpus's
// charge-then-check token bucket idiom.
func (t *retryThrottler) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens--
	if t.tokens < 0 {
		t.tokens = 0
	}
	return t.tokens > t.max/2
}

// onSuccess credits the bucket by tokenRatio per successful attempt, up
// to the ceiling.
func (t *retryThrottler) onSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += t.ratio
	if t.tokens > t.max {
		t.tokens = t.max
	}
}

func (cc *ClientConn) throttlerAllow() bool {
	cc.mu.Lock()
	th := cc.throttler
	cc.mu.Unlock()
	if th == nil {
		return true
	}
	return th.allow()
}

func (cc *ClientConn) throttlerCreditSuccess() {
	cc.mu.Lock()
	th := cc.throttler
	cc.mu.Unlock()
	if th != nil {
		th.onSuccess()
	}
}

// retryBufferSize returns the marshaled size of args, the quantity
// reserved against the retry buffer caps for the life of a retryable or
// hedged call (spec §3, §4.7 Buffering): the bytes the channel would
// need to hold to replay args on a subsequent attempt.
func retryBufferSize(args any) int {
	codec := encoding.GetCodec("proto")
	if codec == nil {
		return 0
	}
	data, err := codec.Marshal(args)
	if err != nil {
		return 0
	}
	return len(data)
}

// clampAttempts applies the channel-wide MaxRetryAttempts cap (spec
// §4.7) on top of whatever a policy's own MaxAttempts requests.
func clampAttempts(cc *ClientConn, policyMax int) int {
	if cc.dopts.maxRetryAttempts > 0 && policyMax > cc.dopts.maxRetryAttempts {
		return cc.dopts.maxRetryAttempts
	}
	return policyMax
}

// isDropped reports whether err came from a Picker Drop decision — a
// first-class outcome that bypasses retry/hedging entirely regardless
// of policy or status code (spec §4.4, §8).
func isDropped(err error) bool {
	var de *droppedError
	for e := err; e != nil; {
		if d, ok := e.(*droppedError); ok {
			de = d
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return de != nil
}

// InvokeWithRetry is the Retry/Hedging Controller's entry point for a
// unary RPC (spec §4.7): it consults the active MethodConfig for method
// and applies whichever of RetryPolicy or HedgingPolicy (they are
// mutually exclusive) is configured, falling back to a single attempt
// via Invoke otherwise.
func InvokeWithRetry(ctx context.Context, method string, args, reply any, cc *ClientConn, opts ...CallOption) error {
	if cc.dopts.disableRetry {
		return Invoke(ctx, method, args, reply, cc, opts...)
	}

	service, m := splitFullMethod(method)
	mc, _ := cc.methodConfig(service, m)

	switch {
	case mc.RetryPolicy != nil:
		return invokeWithRetryPolicy(ctx, method, args, reply, cc, mc.RetryPolicy, opts...)
	case mc.HedgingPolicy != nil:
		return invokeWithHedging(ctx, method, args, reply, cc, mc.HedgingPolicy, opts...)
	default:
		return Invoke(ctx, method, args, reply, cc, opts...)
	}
}

func invokeWithRetryPolicy(ctx context.Context, method string, args, reply any, cc *ClientConn, rp *internalserviceconfig.RetryPolicy, opts ...CallOption) error {
	maxAttempts := clampAttempts(cc, rp.MaxAttempts)

	n := retryBufferSize(args)
	if err := cc.reserveRetryBuffer(n); err != nil {
		return err
	}
	defer cc.releaseRetryBuffer(n)

	var lastErr error
	backoff := rp.InitialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if !cc.throttlerAllow() {
				return lastErr
			}
			select {
			case <-ctx.Done():
				return toRPCErr(ctx.Err())
			case <-time.After(jitter(backoff)):
			}
			backoff = time.Duration(float64(backoff) * rp.BackoffMultiplier)
			if backoff > rp.MaxBackoff {
				backoff = rp.MaxBackoff
			}
		}

		err := Invoke(ctx, method, args, reply, cc, opts...)
		if err == nil {
			cc.throttlerCreditSuccess()
			return nil
		}
		lastErr = err
		if isDropped(err) {
			return err
		}
		if !retryableStatus(err, rp.RetryableStatusCodes) {
			return err
		}
	}
	return lastErr
}

// invokeWithHedging implements spec §4.7's hedging algorithm: fan out a
// new attempt every HedgingDelay while the call has not yet committed,
// tallying non-fatal statuses rather than failing the whole call on the
// first one, and cancelling every loser once a winner commits.
func invokeWithHedging(ctx context.Context, method string, args, reply any, cc *ClientConn, hp *internalserviceconfig.HedgingPolicy, opts ...CallOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxAttempts := clampAttempts(cc, hp.MaxAttempts)

	n := retryBufferSize(args)
	if err := cc.reserveRetryBuffer(n); err != nil {
		return err
	}
	defer cc.releaseRetryBuffer(n)

	type attemptResult struct {
		err error
	}
	results := make(chan attemptResult, maxAttempts)
	started := 0
	var mu sync.Mutex
	committed := false

	launch := func() {
		mu.Lock()
		if committed || started >= maxAttempts {
			mu.Unlock()
			return
		}
		if started > 0 && !cc.throttlerAllow() {
			mu.Unlock()
			return
		}
		started++
		mu.Unlock()
		go func() {
			err := Invoke(ctx, method, args, reply, cc, opts...)
			results <- attemptResult{err: err}
		}()
	}

	launch()
	timer := time.NewTimer(hp.HedgingDelay)
	defer timer.Stop()

	nonFatal := 0
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			return toRPCErr(ctx.Err())
		case <-timer.C:
			launch()
			timer.Reset(hp.HedgingDelay)
		case res := <-results:
			if res.err == nil {
				mu.Lock()
				committed = true
				mu.Unlock()
				cc.throttlerCreditSuccess()
				cancel()
				return nil
			}
			if isDropped(res.err) {
				mu.Lock()
				committed = true
				mu.Unlock()
				cancel()
				return res.err
			}
			lastErr = res.err
			if !nonFatalStatus(res.err, hp.NonFatalStatusCodes) {
				mu.Lock()
				committed = true
				mu.Unlock()
				cancel()
				return res.err
			}
			nonFatal++
			mu.Lock()
			allReturned := started >= maxAttempts && nonFatal >= started
			mu.Unlock()
			if allReturned {
				return lastErr
			}
		}
	}
}

func retryableStatus(err error, codeSet map[codes.Code]bool) bool {
	if len(codeSet) == 0 {
		return false
	}
	return codeSet[status.Code(err)]
}

func nonFatalStatus(err error, codeSet map[codes.Code]bool) bool {
	if len(codeSet) == 0 {
		return false
	}
	return codeSet[status.Code(err)]
}

// jitter returns a value uniformly distributed in [0, d), the
// randomization spec §4.7 specifies for the retry backoff delay:
// "random(0, min(InitialBackoff*BackoffMultiplier**(n-1), MaxBackoff))".
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
