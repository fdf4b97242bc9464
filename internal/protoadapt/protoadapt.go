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

// Package protoadapt bridges the legacy github.com/golang/protobuf
// (APIv1) proto.Message surface with the google.golang.org/protobuf
// (APIv2) one, so that the default codec (encoding/proto) can marshal
// messages generated against either API without generated code caring
// which it is.
package protoadapt

import (
	legacyproto "github.com/golang/protobuf/proto"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MessageV1 is the subset of the legacy github.com/golang/protobuf API
// surface a v1-generated message implements.
type MessageV1 = legacyproto.Message

// MessageV2 is the google.golang.org/protobuf message interface.
type MessageV2 = proto.Message

// MessageV2Of converts an MessageV1 to a MessageV2, handling both
// messages natively generated against APIv2 (which already satisfy
// MessageV2) and ones generated against the older APIv1 runtime.
func MessageV2Of(m MessageV1) MessageV2 {
	if m == nil {
		return nil
	}
	if v2, ok := m.(MessageV2); ok {
		return v2
	}
	return legacyproto.MessageV2(m)
}

// MessageV1Of is the inverse of MessageV2Of.
func MessageV1Of(m MessageV2) MessageV1 {
	if m == nil {
		return nil
	}
	if v1, ok := m.(MessageV1); ok {
		return v1
	}
	return legacyproto.MessageV1(m)
}

// Reflect returns the protoreflect.Message for m, converting through
// MessageV2Of first if necessary.
func Reflect(m MessageV1) protoreflect.Message {
	return MessageV2Of(m).ProtoReflect()
}
