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

	"github.com/relaygrpc/grpc/encoding"

	// link the default "proto" Codec into every binary that imports this
	// package, the way a generated *.pb.go file would.
	_ "github.com/relaygrpc/grpc/encoding/proto"
)

// MethodType classifies an RPC by which side streams messages (spec §1:
// "unary, client-streaming, server-streaming, and bidirectional-streaming
// calls").
type MethodType int

const (
	MethodTypeUnary MethodType = iota
	MethodTypeClientStreaming
	MethodTypeServerStreaming
	MethodTypeBidiStreaming
)

// StreamDesc describes an RPC method's streaming shape, analogous to the
// descriptor a generated client stub would supply.
type StreamDesc struct {
	StreamName    string
	ClientStreams bool
	ServerStreams bool
}

// Invoke performs a unary RPC: it is NewClientStream followed by exactly
// one SendMsg, CloseSend, and RecvMsg, matching the convenience wrapper a
// generated unary method calls into (spec §1(b)).
func Invoke(ctx context.Context, method string, args, reply any, cc *ClientConn, opts ...CallOption) error {
	cs, err := NewClientStream(ctx, &StreamDesc{}, cc, method, opts...)
	if err != nil {
		return err
	}
	if err := cs.SendMsg(args); err != nil {
		return err
	}
	if err := cs.CloseSend(); err != nil {
		return err
	}
	return cs.RecvMsg(reply)
}

// codecFor resolves the Codec this call uses: always "proto" unless a
// future CallOption names another registered subtype (none currently
// does; the hook exists because encoding.GetCodec is itself a registry).
func codecFor(co callOptions) encoding.Codec {
	return encoding.GetCodec("proto")
}
