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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/encoding"
	"github.com/relaygrpc/grpc/status"
)

// compressionType flags the one byte preceding every message's length
// prefix on the wire (spec §1, "length-prefixed protobuf message frames").
type compressionType byte

const (
	compressionNone compressionType = 0
	compressionMade compressionType = 1
)

// msgHeader builds the 5-byte frame header — a 1-byte compression flag
// followed by a 4-byte big-endian length — for a message whose on-wire
// payload is data (which is compData if compression applied, else the
// raw marshaled bytes).
func msgHeader(data, compData []byte) (hdr, payload []byte) {
	hdr = make([]byte, 5)
	payload = data
	if compData != nil {
		hdr[0] = byte(compressionMade)
		payload = compData
	} else {
		hdr[0] = byte(compressionNone)
	}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	return hdr, payload
}

// parser reads length-prefixed frames off r, one message at a time.
type parser struct {
	r io.Reader

	header [5]byte
}

// recvMsg reads one frame up to maxReceiveMessageSize. io.EOF is
// returned only if no bytes of the next header were read; a stream that
// ends partway through a frame yields io.ErrUnexpectedEOF, and any other
// read error is returned as it is.
func (p *parser) recvMsg(maxReceiveMessageSize int) (compressionType, []byte, error) {
	if _, err := io.ReadFull(p.r, p.header[:]); err != nil {
		return 0, nil, err
	}

	ct := compressionType(p.header[0])
	length := binary.BigEndian.Uint32(p.header[1:])
	if length == 0 {
		return ct, nil, nil
	}
	if int64(length) > int64(maxReceiveMessageSize) {
		return 0, nil, status.Errorf(codes.ResourceExhausted, "received message larger than max (%d vs. %d)", length, maxReceiveMessageSize)
	}
	msg := make([]byte, int(length))
	if _, err := io.ReadFull(p.r, msg); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return ct, msg, nil
}

// encode marshals v with codec c. It does not compress; compressFrame
// does that as a separate step.
func encode(c encoding.Codec, v any) ([]byte, error) {
	if c == nil {
		return nil, status.Errorf(codes.Internal, "grpc: no codec registered for message encoding")
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error while marshaling: %v", err.Error())
	}
	return data, nil
}

// compressFrame compresses in with comp, or returns nil if comp is nil
// (no compression requested for this message).
func compressFrame(in []byte, comp encoding.Compressor) ([]byte, error) {
	if comp == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	w, err := comp.Compress(&buf)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error compressing message: %v", err)
	}
	if _, err := w.Write(in); err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error compressing message: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error compressing message: %v", err)
	}
	return buf.Bytes(), nil
}

// decompressFrame reverses compressFrame using the compressor named by
// the incoming grpc-encoding header.
func decompressFrame(in []byte, comp encoding.Compressor) ([]byte, error) {
	if comp == nil {
		return nil, fmt.Errorf("grpc: received a compressed frame but no decompressor is configured")
	}
	r, err := comp.Decompress(bytes.NewReader(in))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error decompressing message: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "grpc: error decompressing message: %v", err)
	}
	return out, nil
}
