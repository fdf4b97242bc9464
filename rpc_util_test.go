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
	"io"
	"testing"

	_ "github.com/relaygrpc/grpc/encoding/gzip"
	"github.com/relaygrpc/grpc/encoding"
)

func TestMsgHeaderAndParserRoundTrip(t *testing.T) {
	data := []byte("hello world")
	hdr, payload := msgHeader(data, nil)
	if hdr[0] != byte(compressionNone) {
		t.Fatalf("hdr[0] = %d, want compressionNone", hdr[0])
	}

	buf := bytes.NewBuffer(nil)
	buf.Write(hdr)
	buf.Write(payload)

	p := &parser{r: buf}
	ct, got, err := p.recvMsg(1024)
	if err != nil {
		t.Fatalf("recvMsg returned error: %v", err)
	}
	if ct != compressionNone {
		t.Fatalf("ct = %v, want compressionNone", ct)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestParserReturnsEOFAtStreamEnd(t *testing.T) {
	p := &parser{r: bytes.NewReader(nil)}
	if _, _, err := p.recvMsg(1024); err != io.EOF {
		t.Fatalf("recvMsg on empty reader = %v, want io.EOF", err)
	}
}

func TestParserRejectsOversizedFrame(t *testing.T) {
	hdr, payload := msgHeader(make([]byte, 100), nil)
	buf := bytes.NewBuffer(nil)
	buf.Write(hdr)
	buf.Write(payload)
	p := &parser{r: buf}
	if _, _, err := p.recvMsg(10); err == nil {
		t.Fatal("recvMsg should reject a frame larger than maxReceiveMessageSize")
	}
}

func TestParserZeroLengthFrameYieldsNilData(t *testing.T) {
	hdr, _ := msgHeader(nil, nil)
	p := &parser{r: bytes.NewReader(hdr)}
	ct, data, err := p.recvMsg(1024)
	if err != nil {
		t.Fatalf("recvMsg returned error: %v", err)
	}
	if ct != compressionNone || data != nil {
		t.Fatalf("zero-length frame: ct=%v data=%v, want compressionNone/nil", ct, data)
	}
}

func TestCompressDecompressFrameRoundTrip(t *testing.T) {
	comp := encoding.GetCompressor("gzip")
	if comp == nil {
		t.Fatal("gzip compressor should be registered by its blank import")
	}
	data := []byte("the quick brown fox jumps over the lazy dog")
	compData, err := compressFrame(data, comp)
	if err != nil {
		t.Fatalf("compressFrame returned error: %v", err)
	}
	out, err := decompressFrame(compData, comp)
	if err != nil {
		t.Fatalf("decompressFrame returned error: %v", err)
	}
	if string(out) != string(data) {
		t.Fatalf("round trip = %q, want %q", out, data)
	}
}

func TestCompressFrameNilCompressorIsNoop(t *testing.T) {
	out, err := compressFrame([]byte("data"), nil)
	if err != nil || out != nil {
		t.Fatalf("compressFrame with nil compressor = %v, %v, want nil, nil", out, err)
	}
}
