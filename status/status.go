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

// Package status implements errors returned by the call runtime and the
// retry/hedging controller. Every terminal error surfaced to an application
// is, or wraps, a *Status.
package status

import (
	"errors"
	"fmt"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/relaygrpc/grpc/codes"
)

// Status represents an RPC status, carried in the grpc-status/grpc-message
// trailers on the wire and reconstructed from a google.rpc.Status proto so
// that rich error details (if any) survive the trip.
type Status struct {
	s *spb.Status
}

// New returns a Status with the given code and message, no details.
func New(c codes.Code, msg string) *Status {
	return &Status{s: &spb.Status{Code: int32(c), Message: msg}}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(c codes.Code, format string, a ...any) *Status {
	return New(c, fmt.Sprintf(format, a...))
}

// FromProto wraps s, a google.rpc.Status wire representation, as a
// Status.
func FromProto(s *spb.Status) *Status {
	return &Status{s: s}
}

// Code returns the status code.
func (s *Status) Code() codes.Code {
	if s == nil || s.s == nil {
		return codes.OK
	}
	return codes.Code(s.s.GetCode())
}

// Message returns the status message.
func (s *Status) Message() string {
	if s == nil || s.s == nil {
		return ""
	}
	return s.s.GetMessage()
}

// Proto returns the wire representation of s, or nil if s is nil.
func (s *Status) Proto() *spb.Status {
	if s == nil {
		return nil
	}
	return s.s
}

// WithDetails attaches proto messages as rich error details, following the
// google.rpc.Status convention of packing each into an Any.
func (s *Status) WithDetails(details ...proto.Message) (*Status, error) {
	if s.Code() == codes.OK {
		return nil, errors.New("status: no error details for an OK status")
	}
	out := &spb.Status{Code: s.s.Code, Message: s.s.Message}
	for _, d := range details {
		any, err := anypb.New(d)
		if err != nil {
			return nil, err
		}
		out.Details = append(out.Details, any)
	}
	return &Status{s: out}, nil
}

// Details unpacks the rich error details attached to s.
func (s *Status) Details() []any {
	if s == nil || s.s == nil {
		return nil
	}
	out := make([]any, 0, len(s.s.Details))
	for _, any := range s.s.Details {
		m, err := any.UnmarshalNew()
		if err != nil {
			out = append(out, err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// Err returns an immutable error representing s, or nil if s.Code() is OK.
func (s *Status) Err() error {
	if s.Code() == codes.OK {
		return nil
	}
	return (*Error)(s)
}

// Error implements error on top of a Status.
type Error Status

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", (*Status)(e).Code(), (*Status)(e).Message())
}

// GRPCStatus returns the Status represented by e.
func (e *Error) GRPCStatus() *Status {
	return (*Status)(e)
}

// Error returns an error representing c and msg. If c is OK, returns nil.
func Error(c codes.Code, msg string) error {
	return New(c, msg).Err()
}

// Errorf is Error with fmt.Sprintf formatting.
func Errorf(c codes.Code, format string, a ...any) error {
	return Error(c, fmt.Sprintf(format, a...))
}

// FromError returns a Status representation of err. Any error that
// implements `GRPCStatus() *Status` is unwrapped; anything else is mapped
// to codes.Unknown; nil maps to an OK status.
func FromError(err error) (s *Status, ok bool) {
	if err == nil {
		return nil, true
	}
	var se interface{ GRPCStatus() *Status }
	if errors.As(err, &se) {
		return se.GRPCStatus(), true
	}
	return New(codes.Unknown, err.Error()), false
}

// Code returns the Code of the error if it is a Status error or wraps one,
// or codes.OK if err is nil, or codes.Unknown otherwise.
func Code(err error) codes.Code {
	s, _ := FromError(err)
	if s == nil {
		return codes.OK
	}
	return s.Code()
}

// Convert is FromError ignoring the ok return.
func Convert(err error) *Status {
	s, _ := FromError(err)
	return s
}
