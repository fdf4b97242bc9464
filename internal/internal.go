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

// Package internal holds the handful of cross-package hooks that would
// otherwise require an import cycle: the balancer and resolver registries
// live in their own packages (so that balancer implementations don't need
// to import the root engine package), but their test helpers need an
// escape hatch to unregister an entry. Each such hook is installed by the
// owning package's init().
package internal

var (
	// BalancerUnregister is installed by balancer.init and removes a
	// registered Builder, for use by tests only.
	BalancerUnregister func(name string)

	// ResolverUnregister is installed by resolver.init and removes a
	// registered Builder, for use by tests only.
	ResolverUnregister func(scheme string)
)
