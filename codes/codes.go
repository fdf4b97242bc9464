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

// Package codes defines the canonical error codes used by the call runtime
// and the retry/hedging controller to classify terminal RPC status.
package codes

import "fmt"

// Code is the status code reported on a terminal Status. Only the codes
// named in spec §7 are produced by this module; the full gRPC code space is
// kept so that MethodConfig.RetryableStatusCodes can name any of them.
type Code uint32

const (
	// OK means the call completed without error.
	OK Code = 0
	// Cancelled means the call was cancelled, typically by the caller.
	Cancelled Code = 1
	// Unknown covers errors that don't fit another code, and errors raised
	// by APIs that do not return enough information.
	Unknown Code = 2
	// InvalidArgument means the client specified an invalid argument.
	InvalidArgument Code = 3
	// DeadlineExceeded means the deadline expired before the call could
	// complete.
	DeadlineExceeded Code = 4
	// NotFound means some requested entity was not found.
	NotFound Code = 5
	// AlreadyExists means an entity the client attempted to create already
	// exists.
	AlreadyExists Code = 6
	// PermissionDenied means the caller does not have permission.
	PermissionDenied Code = 7
	// ResourceExhausted means a resource has been exhausted, e.g. a
	// per-message size cap.
	ResourceExhausted Code = 8
	// FailedPrecondition means the operation was rejected because the
	// system is not in a state required for it.
	FailedPrecondition Code = 9
	// Aborted means the operation was aborted.
	Aborted Code = 10
	// OutOfRange means the operation was attempted past the valid range.
	OutOfRange Code = 11
	// Unimplemented means the operation is not implemented or not
	// supported/enabled.
	Unimplemented Code = 12
	// Internal means an internal invariant was violated.
	Internal Code = 13
	// Unavailable means the service is currently unavailable; the call is
	// safe to retry with backoff.
	Unavailable Code = 14
	// DataLoss means unrecoverable data loss or corruption occurred.
	DataLoss Code = 15
	// Unauthenticated means the request does not have valid authentication
	// credentials.
	Unauthenticated Code = 16
)

var strs = map[Code]string{
	OK:                 "OK",
	Cancelled:          "Cancelled",
	Unknown:            "Unknown",
	InvalidArgument:    "InvalidArgument",
	DeadlineExceeded:   "DeadlineExceeded",
	NotFound:           "NotFound",
	AlreadyExists:      "AlreadyExists",
	PermissionDenied:   "PermissionDenied",
	ResourceExhausted:  "ResourceExhausted",
	FailedPrecondition: "FailedPrecondition",
	Aborted:            "Aborted",
	OutOfRange:         "OutOfRange",
	Unimplemented:      "Unimplemented",
	Internal:           "Internal",
	Unavailable:        "Unavailable",
	DataLoss:           "DataLoss",
	Unauthenticated:    "Unauthenticated",
}

func (c Code) String() string {
	if s, ok := strs[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// HTTPStatusToCode maps the small table from spec §4.6/§7 keyed on HTTP
// status codes, used when a transport fails before any grpc-status trailer
// is received.
func HTTPStatusToCode(httpStatus int) Code {
	switch httpStatus {
	case 400:
		return Internal
	case 401:
		return Unauthenticated
	case 403:
		return PermissionDenied
	case 404:
		return Unimplemented
	case 429, 502, 503, 504:
		return Unavailable
	default:
		return Unknown
	}
}
