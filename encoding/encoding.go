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

// Package encoding defines the marshaller and compression provider
// contracts consumed by the Call Runtime (spec §6, External Interfaces),
// plus their registries.
package encoding

import (
	"io"
	"strings"
)

// Identity is the encoding name for no compression.
const Identity = "identity"

// Codec defines the interface gRPC uses to encode and decode messages. Note
// that implementations of this interface must be thread safe; a Codec's
// methods can be called from concurrent goroutines.
type Codec interface {
	// Marshal returns the wire format of v.
	Marshal(v any) ([]byte, error)
	// Unmarshal parses the wire format into v.
	Unmarshal(data []byte, v any) error
	// Name returns the name of the Codec implementation, transmitted as
	// part of content-type, e.g. "proto" for "application/grpc+proto".
	Name() string
}

var registeredCodecs = make(map[string]Codec)

// RegisterCodec registers the provided Codec for use with all gRPC clients
// and servers. c.Name() will be used as the content-subtype after
// "application/grpc+". Registering a codec with the same name twice
// overwrites the previous registration, matching the teacher's semantics
// for balancer/resolver registries.
func RegisterCodec(c Codec) {
	if c == nil {
		panic("cannot register a nil Codec")
	}
	if c.Name() == "" {
		panic("cannot register Codec with empty string result for Name()")
	}
	registeredCodecs[strings.ToLower(c.Name())] = c
}

// GetCodec gets a registered Codec by content-subtype, or nil if no such
// Codec is registered.
func GetCodec(contentSubtype string) Codec {
	return registeredCodecs[strings.ToLower(contentSubtype)]
}

// Compressor is used for compressing and decompressing when sending or
// receiving messages (spec §6, Compression Provider).
type Compressor interface {
	// Compress writes the data written to w after compressing it. If an
	// error occurs while initializing the compressor, that error is
	// returned instead.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress reads data from r, decompresses it, and provides the
	// un-compressed data via the returned io.Reader.
	Decompress(r io.Reader) (io.Reader, error)
	// Name is the name of the compression codec, advertised in
	// grpc-accept-encoding and selected by grpc-encoding.
	Name() string
}

var registeredCompressors = make(map[string]Compressor)

// RegisterCompressor registers the compressor for use. c.Name() will be
// used as the compression algorithm name advertised in grpc-encoding.
func RegisterCompressor(c Compressor) {
	registeredCompressors[c.Name()] = c
}

// GetCompressor returns the compressor registered under name, or nil.
func GetCompressor(name string) Compressor {
	return registeredCompressors[name]
}

// KnownCompressors returns the full grpc-accept-encoding value: every
// registered compressor name, comma separated.
func KnownCompressors() string {
	names := make([]string, 0, len(registeredCompressors))
	for n := range registeredCompressors {
		names = append(names, n)
	}
	return strings.Join(names, ",")
}
