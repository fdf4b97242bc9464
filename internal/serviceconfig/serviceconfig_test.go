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

package serviceconfig

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	_ "github.com/relaygrpc/grpc/balancer/roundrobin"
	"github.com/relaygrpc/grpc/codes"
)

func TestParseSelectsFirstRecognizedBalancer(t *testing.T) {
	const js = `{
		"loadBalancingConfig": [
			{"unrecognized_policy": {}},
			{"round_robin": {}}
		]
	}`
	res := Parse(js)
	if res.Err != nil {
		t.Fatalf("Parse returned error: %v", res.Err)
	}
	sc, ok := res.Config.(*ServiceConfig)
	if !ok {
		t.Fatalf("Config is not *ServiceConfig: %T", res.Config)
	}
	if sc.LBConfig == nil || sc.LBConfig.Name != "round_robin" {
		t.Fatalf("LBConfig = %+v, want round_robin selected", sc.LBConfig)
	}
}

func TestLookupMethodConfigPrecedence(t *testing.T) {
	const js = `{
		"methodConfig": [
			{"name": [{"service": "foo", "method": "Bar"}], "timeout": "1s"},
			{"name": [{"service": "foo"}], "timeout": "2s"},
			{"name": [{}], "timeout": "3s"}
		]
	}`
	res := Parse(js)
	if res.Err != nil {
		t.Fatalf("Parse returned error: %v", res.Err)
	}
	sc := res.Config.(*ServiceConfig)

	mc, ok := sc.LookupMethodConfig("foo", "Bar")
	if !ok || *mc.Timeout != time.Second {
		t.Fatalf("exact match: got %+v, ok=%v, want 1s", mc, ok)
	}
	mc, ok = sc.LookupMethodConfig("foo", "Baz")
	if !ok || *mc.Timeout != 2*time.Second {
		t.Fatalf("service default: got %+v, ok=%v, want 2s", mc, ok)
	}
	mc, ok = sc.LookupMethodConfig("other", "Method")
	if !ok || *mc.Timeout != 3*time.Second {
		t.Fatalf("global default: got %+v, ok=%v, want 3s", mc, ok)
	}
}

func TestParseRejectsRetryAndHedgingTogether(t *testing.T) {
	const js = `{
		"methodConfig": [{
			"name": [{}],
			"retryPolicy": {"maxAttempts": 3, "initialBackoff": "1s", "maxBackoff": "10s", "backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE"]},
			"hedgingPolicy": {"maxAttempts": 3, "hedgingDelay": "1s"}
		}]
	}`
	res := Parse(js)
	if res.Err == nil {
		t.Fatal("Parse should reject a method config with both retryPolicy and hedgingPolicy")
	}
}

func TestParseRetryPolicyRequiresMinAttempts(t *testing.T) {
	const js = `{
		"methodConfig": [{
			"name": [{}],
			"retryPolicy": {"maxAttempts": 1, "initialBackoff": "1s", "maxBackoff": "10s", "backoffMultiplier": 2}
		}]
	}`
	res := Parse(js)
	if res.Err == nil {
		t.Fatal("Parse should reject retryPolicy.maxAttempts < 2")
	}
}

func TestParseRetryableStatusCodes(t *testing.T) {
	const js = `{
		"methodConfig": [{
			"name": [{}],
			"retryPolicy": {"maxAttempts": 3, "initialBackoff": "1s", "maxBackoff": "10s", "backoffMultiplier": 2, "retryableStatusCodes": ["UNAVAILABLE", "DataLoss"]}
		}]
	}`
	res := Parse(js)
	if res.Err != nil {
		t.Fatalf("Parse returned error: %v", res.Err)
	}
	sc := res.Config.(*ServiceConfig)
	mc, ok := sc.LookupMethodConfig("any", "Method")
	if !ok || mc.RetryPolicy == nil {
		t.Fatalf("expected a global RetryPolicy, got %+v ok=%v", mc, ok)
	}
	want := map[codes.Code]bool{codes.Unavailable: true, codes.DataLoss: true}
	if diff := cmp.Diff(want, mc.RetryPolicy.RetryableStatusCodes); diff != "" {
		t.Errorf("RetryableStatusCodes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalidRetryThrottling(t *testing.T) {
	const js = `{"retryThrottling": {"maxTokens": 0, "tokenRatio": 0.1}}`
	res := Parse(js)
	if res.Err == nil {
		t.Fatal("Parse should reject retryThrottling.maxTokens <= 0")
	}
}

func TestParseMalformedDuration(t *testing.T) {
	const js = `{"methodConfig": [{"name": [{}], "timeout": "1"}]}`
	res := Parse(js)
	if res.Err == nil {
		t.Fatal("Parse should reject a duration missing its trailing 's'")
	}
}
