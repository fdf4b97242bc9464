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

// Package keepalive defines the configurable parameters for the periodic
// liveness probes the active Subchannel Transport (spec §4.2) runs against
// an established connection. Server-side keepalive policy is part of the
// out-of-scope server dispatcher (spec §1) and is not defined here.
package keepalive

import "time"

// ClientParameters configures how a Channel's active transports probe a
// connection to notice it has gone quiet, and ping to keep intermediaries
// aware the connection is live.
type ClientParameters struct {
	// Time is the idle period after which the transport pings the peer to
	// check liveness. The zero value means the transport never pings
	// proactively.
	Time time.Duration
	// Timeout is how long the transport waits for a ping ack before
	// deciding the connection is dead and reporting TransientFailure.
	Timeout time.Duration
	// PermitWithoutStream, if true, keeps probing even when the
	// Subchannel has no outstanding CallAttempts.
	PermitWithoutStream bool
}

// DefaultClientParameters matches upstream gRPC's documented defaults:
// pings disabled by default, 20s ack timeout once enabled.
var DefaultClientParameters = ClientParameters{
	Time:    0,
	Timeout: 20 * time.Second,
}
