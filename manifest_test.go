// Copyright 2022 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functions

import (
	"encoding/json"
	"testing"

	"github.com/firebase/firebase-functions-go/ptr"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestOptionsToEndpoint(t *testing.T) {
	got := OptionsToEndpoint(&GlobalOptions{Memory: "1GB", Region: Regions{"us-central1"}})
	want := ManifestEndpoint{
		AvailableMemoryMB: ptr.Int(1024),
		Region:            []string{"us-central1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OptionsToEndpoint() mismatch (-want +got):\n%s", diff)
	}

	b, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"region":["us-central1"],"availableMemoryMb":1024}`; string(b) != want {
		t.Errorf("json.Marshal() = %s; want = %s", b, want)
	}
}

func TestOptionsToEndpointCopiesFields(t *testing.T) {
	opts := &GlobalOptions{
		TimeoutSeconds:             ptr.Int(60),
		MinInstances:               ptr.Int(1),
		MaxInstances:               ptr.Int(5),
		Concurrency:                ptr.Int(10),
		VPCConnector:               "projects/p/locations/l/connectors/c",
		VPCConnectorEgressSettings: "ALL_TRAFFIC",
		ServiceAccount:             "robot@",
		IngressSettings:            "ALLOW_INTERNAL_ONLY",
		Labels:                     map[string]string{"k": "v"},
	}
	want := ManifestEndpoint{
		TimeoutSeconds:      ptr.Int(60),
		MinInstances:        ptr.Int(1),
		MaxInstances:        ptr.Int(5),
		Concurrency:         ptr.Int(10),
		ServiceAccountEmail: "robot@",
		IngressSettings:     "ALLOW_INTERNAL_ONLY",
		Labels:              map[string]string{"k": "v"},
		VPC: &VPCSettings{
			Connector:      "projects/p/locations/l/connectors/c",
			EgressSettings: "ALL_TRAFFIC",
		},
	}
	got := OptionsToEndpoint(opts)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OptionsToEndpoint() mismatch (-want +got):\n%s", diff)
	}

	*opts.TimeoutSeconds = 120
	opts.Labels["k"] = "changed"
	if *got.TimeoutSeconds != 60 || got.Labels["k"] != "v" {
		t.Errorf("OptionsToEndpoint() shares state with its input")
	}
}

func TestOptionsToEndpointEdgeCases(t *testing.T) {
	if got := OptionsToEndpoint(nil); !cmp.Equal(got, ManifestEndpoint{}) {
		t.Errorf("OptionsToEndpoint(nil) = %v; want zero value", got)
	}
	got := OptionsToEndpoint(&GlobalOptions{Memory: "3GB", VPCConnectorEgressSettings: "ALL_TRAFFIC"})
	if got.AvailableMemoryMB != nil {
		t.Errorf("AvailableMemoryMB = %d; want = nil", *got.AvailableMemoryMB)
	}
	if got.VPC != nil {
		t.Errorf("VPC = %v; want = nil without a connector", got.VPC)
	}
}

func TestBuildEndpoint(t *testing.T) {
	global := &GlobalOptions{
		Region:       Regions{"us-central1"},
		Memory:       "256MB",
		MaxInstances: ptr.Int(10),
		Labels:       map[string]string{"team": "core", "env": "prod"},
		Retry:        ptr.Bool(true),
	}
	specific := &GlobalOptions{
		Region: Regions{"europe-west1"},
		Memory: "2GB",
		Labels: map[string]string{"env": "staging"},
	}
	filters := map[string]string{"bucket": "my-bucket"}
	got := BuildEndpoint(global, specific, "google.cloud.storage.object.v1.finalized", filters)
	want := ManifestEndpoint{
		Platform:          Platform,
		Region:            []string{"europe-west1"},
		AvailableMemoryMB: ptr.Int(2048),
		MaxInstances:      ptr.Int(10),
		Labels:            map[string]string{"team": "core", "env": "staging"},
		EventTrigger: &EventTrigger{
			EventType:    "google.cloud.storage.object.v1.finalized",
			EventFilters: map[string]string{"bucket": "my-bucket"},
			Retry:        true,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildEndpoint() mismatch (-want +got):\n%s", diff)
	}

	filters["bucket"] = "other"
	if got.EventTrigger.EventFilters["bucket"] != "my-bucket" {
		t.Errorf("BuildEndpoint() shares the filters map with the caller")
	}
	if global.Labels["env"] != "prod" {
		t.Errorf("BuildEndpoint() mutated the global labels")
	}
}

func TestBuildEndpointRetry(t *testing.T) {
	cases := []struct {
		name     string
		global   *bool
		specific *bool
		want     bool
	}{
		{"default", nil, nil, false},
		{"global", ptr.Bool(true), nil, true},
		{"specific overrides", ptr.Bool(true), ptr.Bool(false), false},
		{"specific", nil, ptr.Bool(true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ep := BuildEndpoint(&GlobalOptions{Retry: tc.global}, &GlobalOptions{Retry: tc.specific}, "type", nil)
			if ep.EventTrigger.Retry != tc.want {
				t.Errorf("Retry = %v; want = %v", ep.EventTrigger.Retry, tc.want)
			}
			if ep.EventTrigger.EventFilters == nil {
				t.Errorf("EventFilters = nil; want empty map")
			}
		})
	}
}

func TestEventFiltersAlwaysSerialized(t *testing.T) {
	ep := BuildEndpoint(nil, nil, "type", nil)
	b, err := json.Marshal(ep.EventTrigger)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"eventFilters":{},"eventType":"type","retry":false}`
	if string(b) != want {
		t.Errorf("json.Marshal() = %s; want = %s", b, want)
	}
}

func TestManifestStackYAML(t *testing.T) {
	stack := NewManifestStack()
	stack.Endpoints["hello"] = ManifestEndpoint{
		EntryPoint:   "hello",
		Platform:     Platform,
		HTTPSTrigger: &HTTPSTrigger{},
	}
	b, err := yaml.Marshal(stack)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]interface{}
	if err := yaml.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"specVersion":  SpecVersion,
		"requiredAPIs": []interface{}{},
		"endpoints": map[string]interface{}{
			"hello": map[string]interface{}{
				"entryPoint":   "hello",
				"platform":     "gcfv2",
				"httpsTrigger": map[string]interface{}{},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("yaml.Marshal() mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	ep := BuildEndpoint(nil, &GlobalOptions{
		Region:       Regions{"us-east1"},
		Labels:       map[string]string{"a": "b"},
		VPCConnector: "c",
	}, "type", map[string]string{"f": "v"})
	c := ep.Clone()
	c.Region[0] = "changed"
	c.Labels["a"] = "changed"
	c.VPC.Connector = "changed"
	c.EventTrigger.EventFilters["f"] = "changed"
	if ep.Region[0] != "us-east1" || ep.Labels["a"] != "b" || ep.VPC.Connector != "c" || ep.EventTrigger.EventFilters["f"] != "v" {
		t.Errorf("Clone() shares state with the original: %+v", ep)
	}
}
