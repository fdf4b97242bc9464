/*
 *
 * Copyright 2020 gRPC authors.
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

// Package serviceconfig contains utility functions and types to parse and
// represent a channel's service config document (spec §3, ServiceConfig).
package serviceconfig

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaygrpc/grpc/balancer"
	"github.com/relaygrpc/grpc/codes"
	"github.com/relaygrpc/grpc/internal/grpclog"
	externalserviceconfig "github.com/relaygrpc/grpc/serviceconfig"
)

var logger = grpclog.Component("core")

// BalancerConfig wraps the name and config associated with one load
// balancing policy. It corresponds to a single entry of the
// loadBalancingConfig field from ServiceConfig.
//
// It implements the json.Unmarshaler interface.
type BalancerConfig struct {
	Name   string
	Config externalserviceconfig.LoadBalancingConfig
}

type intermediateBalancerConfig []map[string]json.RawMessage

// UnmarshalJSON implements the json.Unmarshaler interface.
//
// ServiceConfig contains a list of loadBalancingConfigs, each with a name
// and config. This method iterates through that list in order, and stops
// at the first policy that is supported (spec §3: "ordered policy
// preferences, first recognized wins").
func (bc *BalancerConfig) UnmarshalJSON(b []byte) error {
	var ir intermediateBalancerConfig
	if err := json.Unmarshal(b, &ir); err != nil {
		return err
	}

	for i, lbcfg := range ir {
		if len(lbcfg) != 1 {
			return fmt.Errorf("invalid loadBalancingConfig: entry %v does not contain exactly 1 policy/config pair: %q", i, lbcfg)
		}

		var (
			name    string
			jsonCfg json.RawMessage
		)
		for name, jsonCfg = range lbcfg {
		}

		builder := balancer.Get(name)
		if builder == nil {
			// Not registered; move to the next preference. This is not an
			// error per §4.4: the canonical behavior is to leave the active
			// policy alone and try the next name.
			continue
		}
		bc.Name = name

		parser, ok := builder.(balancer.ConfigParser)
		if !ok {
			if string(jsonCfg) != "{}" {
				logger.Warningf("non-empty balancer configuration %q, but balancer does not implement ParseConfig", string(jsonCfg))
			}
			return nil
		}

		cfg, err := parser.ParseConfig(jsonCfg)
		if err != nil {
			return fmt.Errorf("error parsing loadBalancingConfig for policy %q: %v", name, err)
		}
		bc.Config = cfg
		return nil
	}
	return fmt.Errorf("invalid loadBalancingConfig: no supported policies found")
}

// MethodConfig defines the per-(service,method) configuration a service
// provider recommends (spec §3, ServiceConfig).
type MethodConfig struct {
	// WaitForReady, if set, overrides the CallOption of the same name
	// unless the application supplies one explicitly.
	WaitForReady *bool
	// Timeout is the default deadline for RPCs matching this entry.
	Timeout *time.Duration
	// MaxReqSize caps a single outbound message's serialized size in bytes.
	MaxReqSize *int
	// MaxRespSize caps a single inbound message's serialized size in bytes.
	MaxRespSize *int
	// RetryPolicy and HedgingPolicy are mutually exclusive (spec §4.7).
	RetryPolicy   *RetryPolicy
	HedgingPolicy *HedgingPolicy
}

// RetryPolicy defines the go-native version of the retry policy defined by
// the service config, as consumed by the Retry/Hedging Controller (§4.7).
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the original
	// RPC. Required, must be >= 2 in a well-formed document; the channel
	// additionally clamps this to MaxRetryAttempts.
	MaxAttempts int

	// Exponential backoff parameters. The nth attempt occurs at
	// random(0, min(InitialBackoff*BackoffMultiplier**(n-1), MaxBackoff)).
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// RetryableStatusCodes is the set of codes eligible for a retry.
	RetryableStatusCodes map[codes.Code]bool
}

// HedgingPolicy defines the go-native version of the hedging policy.
type HedgingPolicy struct {
	// MaxAttempts is the maximum number of hedged attempts, including the
	// original RPC.
	MaxAttempts int
	// HedgingDelay is the time to wait before fanning out the next hedge,
	// assuming the call has not yet committed.
	HedgingDelay time.Duration
	// NonFatalStatusCodes lists codes that do not terminate the call outright
	// — they're tallied, and the call only fails once every attempt has
	// returned a non-fatal code.
	NonFatalStatusCodes map[codes.Code]bool
}

// RetryThrottlingPolicy configures the channel-wide token bucket that gates
// whether a retry or hedge attempt is permitted (spec §4.7, Throttling).
type RetryThrottlingPolicy struct {
	// MaxTokens is the bucket's ceiling; must be in (0, 1000].
	MaxTokens float64
	// TokenRatio is added to the bucket on every successful attempt.
	TokenRatio float64
}

// ServiceConfig is the fully parsed representation of a channel's service
// config document (spec §3). It embeds the root package's Config marker
// interface so that a *ServiceConfig satisfies externalserviceconfig.Config
// without this package needing to declare the interface's unexported
// method itself — that method can only be implemented inside the
// package that declares the interface, so embedding a value that already
// satisfies it is what lets an internal type stand in for the opaque
// Config returned from ParseServiceConfig.
type ServiceConfig struct {
	externalserviceconfig.Config

	// LBConfig is the selected load balancing policy name/config — the
	// first entry in loadBalancingConfig that names a registered balancer.
	LBConfig *BalancerConfig

	// Methods maps a "/service/method" key (or "/service/" for a
	// service-level default, or "" for the global default) to its
	// MethodConfig.
	Methods map[string]MethodConfig

	// RetryThrottling is the optional channel-wide throttle policy.
	RetryThrottling *RetryThrottlingPolicy
}

// MethodKey builds the lookup key used by LookupMethodConfig, following
// spec §3's invariant: "(service,method) at most one MethodConfig applies;
// lookup order is (svc,method) -> (svc,.) -> (.,.) -> none."
func MethodKey(service, method string) string {
	return "/" + service + "/" + method
}

// ServiceKey builds the service-level default lookup key.
func ServiceKey(service string) string {
	return "/" + service + "/"
}

// LookupMethodConfig implements the lookup order from spec §3.
func (sc *ServiceConfig) LookupMethodConfig(service, method string) (MethodConfig, bool) {
	if sc == nil {
		return MethodConfig{}, false
	}
	if mc, ok := sc.Methods[MethodKey(service, method)]; ok {
		return mc, true
	}
	if mc, ok := sc.Methods[ServiceKey(service)]; ok {
		return mc, true
	}
	if mc, ok := sc.Methods[""]; ok {
		return mc, true
	}
	return MethodConfig{}, false
}

// SplitMethodName splits a fully-qualified "/service/method" path into its
// two components, as used when indexing Methods.
func SplitMethodName(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	if i := strings.Index(fullMethod, "/"); i >= 0 {
		return fullMethod[:i], fullMethod[i+1:]
	}
	return fullMethod, ""
}

// *ServiceConfig satisfies externalserviceconfig.Config through its
// embedded field, which supplies the isServiceConfig method; this
// assertion checks that at compile time.
var _ externalserviceconfig.Config = (*ServiceConfig)(nil)

// jsonRetryPolicy mirrors the wire shape of a retryPolicy entry.
type jsonRetryPolicy struct {
	MaxAttempts          int
	InitialBackoff       string
	MaxBackoff           string
	BackoffMultiplier    float64
	RetryableStatusCodes []string
}

type jsonHedgingPolicy struct {
	MaxAttempts         int
	HedgingDelay        string
	NonFatalStatusCodes []string
}

type jsonMethodConfig struct {
	Name []struct {
		Service string
		Method  string
	}
	WaitForReady    *bool
	Timeout         string
	MaxRequestMessageBytes  *int
	MaxResponseMessageBytes *int
	RetryPolicy     *jsonRetryPolicy
	HedgingPolicy   *jsonHedgingPolicy
}

type jsonRetryThrottlingPolicy struct {
	MaxTokens  float64
	TokenRatio float64
}

type jsonServiceConfig struct {
	LoadBalancingConfig  *BalancerConfig
	MethodConfig         []jsonMethodConfig
	RetryThrottling      *jsonRetryThrottlingPolicy
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if !strings.HasSuffix(s, "s") {
		return 0, fmt.Errorf("malformed duration %q: missing trailing 's'", s)
	}
	return time.ParseDuration(strings.TrimSuffix(s, "s") + "s")
}

func statusCodeSet(names []string) map[codes.Code]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[codes.Code]bool, len(names))
	for _, n := range names {
		for i := codes.Code(0); i <= codes.Code(16); i++ {
			if strings.EqualFold(i.String(), n) {
				set[i] = true
				break
			}
		}
	}
	return set
}

// Parse parses a raw service config JSON document into a ParseResult
// (spec §3, §6: the document the resolver or WithDefaultServiceConfig
// supplies). A malformed document yields a non-nil Err and a nil Config,
// exactly as externalserviceconfig.ParseResult expects.
func Parse(js string) *externalserviceconfig.ParseResult {
	var raw jsonServiceConfig
	if err := json.Unmarshal([]byte(js), &raw); err != nil {
		return &externalserviceconfig.ParseResult{Err: fmt.Errorf("grpc: error parsing service config: %v", err)}
	}

	sc := &ServiceConfig{
		LBConfig: raw.LoadBalancingConfig,
		Methods:  make(map[string]MethodConfig),
	}

	if raw.RetryThrottling != nil {
		if raw.RetryThrottling.MaxTokens <= 0 || raw.RetryThrottling.MaxTokens > 1000 {
			return &externalserviceconfig.ParseResult{Err: fmt.Errorf("grpc: invalid retryThrottling.maxTokens %v", raw.RetryThrottling.MaxTokens)}
		}
		sc.RetryThrottling = &RetryThrottlingPolicy{
			MaxTokens:  raw.RetryThrottling.MaxTokens,
			TokenRatio: raw.RetryThrottling.TokenRatio,
		}
	}

	for _, m := range raw.MethodConfig {
		mc := MethodConfig{WaitForReady: m.WaitForReady}

		timeout, err := parseDuration(m.Timeout)
		if err != nil {
			return &externalserviceconfig.ParseResult{Err: fmt.Errorf("grpc: error parsing method config timeout: %v", err)}
		}
		if timeout > 0 {
			mc.Timeout = &timeout
		}
		mc.MaxReqSize = m.MaxRequestMessageBytes
		mc.MaxRespSize = m.MaxResponseMessageBytes

		if m.RetryPolicy != nil && m.HedgingPolicy != nil {
			return &externalserviceconfig.ParseResult{Err: fmt.Errorf("grpc: retryPolicy and hedgingPolicy are mutually exclusive")}
		}
		if rp := m.RetryPolicy; rp != nil {
			initial, err := parseDuration(rp.InitialBackoff)
			if err != nil {
				return &externalserviceconfig.ParseResult{Err: err}
			}
			max, err := parseDuration(rp.MaxBackoff)
			if err != nil {
				return &externalserviceconfig.ParseResult{Err: err}
			}
			if rp.MaxAttempts < 2 {
				return &externalserviceconfig.ParseResult{Err: fmt.Errorf("grpc: retryPolicy.maxAttempts must be >= 2")}
			}
			mc.RetryPolicy = &RetryPolicy{
				MaxAttempts:          rp.MaxAttempts,
				InitialBackoff:       initial,
				MaxBackoff:           max,
				BackoffMultiplier:    rp.BackoffMultiplier,
				RetryableStatusCodes: statusCodeSet(rp.RetryableStatusCodes),
			}
		}
		if hp := m.HedgingPolicy; hp != nil {
			delay, err := parseDuration(hp.HedgingDelay)
			if err != nil {
				return &externalserviceconfig.ParseResult{Err: err}
			}
			mc.HedgingPolicy = &HedgingPolicy{
				MaxAttempts:         hp.MaxAttempts,
				HedgingDelay:        delay,
				NonFatalStatusCodes: statusCodeSet(hp.NonFatalStatusCodes),
			}
		}

		for _, n := range m.Name {
			switch {
			case n.Service == "" && n.Method == "":
				sc.Methods[""] = mc
			case n.Method == "":
				sc.Methods[ServiceKey(n.Service)] = mc
			default:
				sc.Methods[MethodKey(n.Service, n.Method)] = mc
			}
		}
	}

	return &externalserviceconfig.ParseResult{Config: sc}
}
