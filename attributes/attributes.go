/*
 *
 * Copyright 2019 gRPC authors.
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

// Package attributes defines a generic key/value store used by
// resolver.Address, keyed by statically-typed tokens rather than strings so
// that unrelated packages cannot collide (spec §3, BalancerAddress).
package attributes

import "fmt"

// Attributes is an immutable struct for storing and retrieving generic
// key/value pairs.  Keys are expected to be package-scoped types used as
// map keys so that only code holding the type can read or write the value.
type Attributes struct {
	m map[any]any
}

// New returns a new Attributes containing the key/value pairs given, which
// must come in pairs (key1, value1, key2, value2, ...).
func New(kvs ...any) *Attributes {
	if len(kvs)%2 != 0 {
		panic(fmt.Sprintf("attributes.New called with an odd number of arguments: %d", len(kvs)))
	}
	a := &Attributes{m: make(map[any]any, len(kvs)/2)}
	for i := 0; i < len(kvs); i += 2 {
		a.m[kvs[i]] = kvs[i+1]
	}
	return a
}

// WithValue returns a new Attributes containing the union of a's contents
// plus the given key/value pair. a is left unmodified.
func (a *Attributes) WithValue(key, value any) *Attributes {
	if a == nil {
		return New(key, value)
	}
	n := &Attributes{m: make(map[any]any, len(a.m)+1)}
	for k, v := range a.m {
		n.m[k] = v
	}
	n.m[key] = value
	return n
}

// Value returns the value associated with key in a, or nil if not set.
func (a *Attributes) Value(key any) any {
	if a == nil {
		return nil
	}
	return a.m[key]
}

// Equal reports whether a and o are equivalent. Values are compared with
// an Equal(o any) bool method if they implement one, else with ==.
func (a *Attributes) Equal(o *Attributes) bool {
	if a == nil && o == nil {
		return true
	}
	if a == nil || o == nil {
		return false
	}
	if len(a.m) != len(o.m) {
		return false
	}
	for k, v := range a.m {
		ov, ok := o.m[k]
		if !ok {
			return false
		}
		if eq, ok := v.(interface{ Equal(any) bool }); ok {
			if !eq.Equal(ov) {
				return false
			}
			continue
		}
		if v != ov {
			return false
		}
	}
	return true
}

func (a *Attributes) String() string {
	if a == nil {
		return "{}"
	}
	return fmt.Sprintf("%v", a.m)
}
