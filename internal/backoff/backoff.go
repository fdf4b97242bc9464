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

// Package backoff implements the exponential-backoff-with-jitter schedule
// shared by the Polling Resolver (§4.1) and the Subchannel's
// TransientFailure reconnect gate (§4.3).
package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff strategies.
type Strategy interface {
	// Backoff returns the amount of time to wait before the next retry,
	// given the number of consecutive failed attempts so far (0-indexed).
	Backoff(retries int) time.Duration
}

// Config defines the configuration options for an exponential backoff.
type Config struct {
	// BaseDelay is the amount of time to wait before retrying after the
	// first failure.
	BaseDelay time.Duration
	// Multiplier is the factor by which the delay grows with each failed
	// attempt.
	Multiplier float64
	// Jitter is the factor by which delay varies randomly, e.g. 0.2 means
	// +/-20%.
	Jitter float64
	// MaxDelay is the upper bound of the backoff delay.
	MaxDelay time.Duration
}

// DefaultConfig is the reconnect backoff schedule every Subchannel the
// engine creates uses; no DialOption changes it. The polling resolver
// uses it when its Builder is given no Strategy.
var DefaultConfig = Config{
	BaseDelay:  1.0 * time.Second,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   120 * time.Second,
}

// Exponential implements exponential backoff algorithm as defined in
// https://github.com/grpc/grpc/blob/master/doc/connection-backoff.md.
type Exponential struct {
	Config Config
}

// Backoff returns the amount of time to wait before the next retry given
// the number of retries.
func (bc Exponential) Backoff(retries int) time.Duration {
	if retries == 0 {
		return bc.Config.BaseDelay
	}
	backoff, max := float64(bc.Config.BaseDelay), float64(bc.Config.MaxDelay)
	for backoff < max && retries > 0 {
		backoff *= bc.Config.Multiplier
		retries--
	}
	if backoff > max {
		backoff = max
	}
	// Randomize within [backoff*(1-jitter), backoff*(1+jitter)].
	backoff *= 1 + bc.Config.Jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}
	return time.Duration(backoff)
}
