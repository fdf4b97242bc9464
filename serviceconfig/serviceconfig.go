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

// Package serviceconfig defines the marker interfaces implemented by
// balancer-specific load balancing configuration, so that packages outside
// the root module (e.g. balancer/roundrobin) can produce a config without
// importing the root package.
package serviceconfig

// Config represents an opaque data structure holding a parsed service
// config, as returned inside a ParseResult by resolver.ClientConn's
// ParseServiceConfig.
type Config interface {
	isServiceConfig()
}

// LoadBalancingConfig represents a balancer configuration as parsed from a
// ServiceConfig's loadBalancingConfig entries. It is opaque to the caller;
// each balancer's ConfigParser produces and consumes its own concrete type.
type LoadBalancingConfig interface {
	isLoadBalancingConfig()
}

// ParseResult holds the result of parsing a service config string, whether
// it succeeded or failed.
type ParseResult struct {
	Config Config
	Err    error
}
