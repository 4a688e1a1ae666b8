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

import "github.com/firebase/firebase-functions-go/ptr"

// SpecVersion is the version of the manifest format produced by this SDK.
const SpecVersion = "v1alpha1"

// Platform is the deployment platform of every endpoint built by this SDK.
const Platform = "gcfv2"

// ManifestEndpoint is the definition of a function as it appears in the manifest read by the
// deployment tooling.
type ManifestEndpoint struct {
	EntryPoint           string            `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
	Region               []string          `json:"region,omitempty" yaml:"region,omitempty"`
	Platform             string            `json:"platform,omitempty" yaml:"platform,omitempty"`
	AvailableMemoryMB    *int              `json:"availableMemoryMb,omitempty" yaml:"availableMemoryMb,omitempty"`
	MaxInstances         *int              `json:"maxInstances,omitempty" yaml:"maxInstances,omitempty"`
	MinInstances         *int              `json:"minInstances,omitempty" yaml:"minInstances,omitempty"`
	Concurrency          *int              `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	ServiceAccountEmail  string            `json:"serviceAccountEmail,omitempty" yaml:"serviceAccountEmail,omitempty"`
	TimeoutSeconds       *int              `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	VPC                  *VPCSettings      `json:"vpc,omitempty" yaml:"vpc,omitempty"`
	Labels               map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	IngressSettings      string            `json:"ingressSettings,omitempty" yaml:"ingressSettings,omitempty"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty" yaml:"environmentVariables,omitempty"`
	HTTPSTrigger         *HTTPSTrigger     `json:"httpsTrigger,omitempty" yaml:"httpsTrigger,omitempty"`
	CallableTrigger      *CallableTrigger  `json:"callableTrigger,omitempty" yaml:"callableTrigger,omitempty"`
	EventTrigger         *EventTrigger     `json:"eventTrigger,omitempty" yaml:"eventTrigger,omitempty"`
}

// VPCSettings connects a function to a VPC network.
type VPCSettings struct {
	Connector      string `json:"connector" yaml:"connector"`
	EgressSettings string `json:"egressSettings,omitempty" yaml:"egressSettings,omitempty"`
}

// HTTPSTrigger marks an endpoint as a raw HTTPS function.
type HTTPSTrigger struct {
	Invoker []string `json:"invoker,omitempty" yaml:"invoker,omitempty"`
}

// CallableTrigger marks an endpoint as a callable function.
type CallableTrigger struct{}

// EventTrigger describes the events an endpoint is subscribed to.
type EventTrigger struct {
	EventFilters            map[string]string `json:"eventFilters" yaml:"eventFilters"`
	EventFilterPathPatterns map[string]string `json:"eventFilterPathPatterns,omitempty" yaml:"eventFilterPathPatterns,omitempty"`
	Channel                 string            `json:"channel,omitempty" yaml:"channel,omitempty"`
	EventType               string            `json:"eventType" yaml:"eventType"`
	Retry                   bool              `json:"retry" yaml:"retry"`
	Region                  string            `json:"region,omitempty" yaml:"region,omitempty"`
	ServiceAccountEmail     string            `json:"serviceAccountEmail,omitempty" yaml:"serviceAccountEmail,omitempty"`
}

// RequiredAPI is a Google Cloud API that must be enabled for the codebase to deploy.
type RequiredAPI struct {
	API    string `json:"api" yaml:"api"`
	Reason string `json:"reason" yaml:"reason"`
}

// ManifestStack is the definition of a function deployment as it appears in the manifest.
type ManifestStack struct {
	SpecVersion  string                      `json:"specVersion" yaml:"specVersion"`
	RequiredAPIs []RequiredAPI               `json:"requiredAPIs" yaml:"requiredAPIs"`
	Endpoints    map[string]ManifestEndpoint `json:"endpoints" yaml:"endpoints"`
}

// NewManifestStack returns an empty stack of the current SpecVersion.
func NewManifestStack() *ManifestStack {
	return &ManifestStack{
		SpecVersion:  SpecVersion,
		RequiredAPIs: []RequiredAPI{},
		Endpoints:    map[string]ManifestEndpoint{},
	}
}

// OptionsToEndpoint converts deployment options to the shape of a manifest endpoint.
//
// A memory shorthand missing from the lookup table leaves AvailableMemoryMB unset, and a
// single region becomes a one-element list. The VPC block is only emitted when a connector is
// set.
func OptionsToEndpoint(opts *GlobalOptions) ManifestEndpoint {
	var ep ManifestEndpoint
	if opts == nil {
		return ep
	}
	ep.Concurrency = copyInt(opts.Concurrency)
	ep.MinInstances = copyInt(opts.MinInstances)
	ep.MaxInstances = copyInt(opts.MaxInstances)
	ep.TimeoutSeconds = copyInt(opts.TimeoutSeconds)
	ep.IngressSettings = opts.IngressSettings
	ep.Labels = copyLabels(opts.Labels)
	ep.ServiceAccountEmail = opts.ServiceAccount
	if opts.VPCConnector != "" {
		ep.VPC = &VPCSettings{
			Connector:      opts.VPCConnector,
			EgressSettings: opts.VPCConnectorEgressSettings,
		}
	}
	if mb, ok := memoryOptionToMB[opts.Memory]; ok {
		ep.AvailableMemoryMB = &mb
	}
	ep.Region = copyStrings(opts.Region)
	return ep
}

// BaseEndpoint merges global and function-specific options into an endpoint without a trigger.
//
// Fields set in specific shallow-override those of global, while label maps are merged with
// the specific labels winning on key collision.
func BaseEndpoint(global, specific *GlobalOptions) ManifestEndpoint {
	ep := OptionsToEndpoint(global)
	overlay(&ep, OptionsToEndpoint(specific))
	ep.Platform = Platform
	return ep
}

// BuildEndpoint synthesizes the manifest entry of an event function.
//
// The event trigger always carries eventFilters, and retry is false unless the merged options
// explicitly enable it.
func BuildEndpoint(global, specific *GlobalOptions, eventType string, filters map[string]string) ManifestEndpoint {
	ep := BaseEndpoint(global, specific)
	eventFilters := make(map[string]string, len(filters))
	for k, v := range filters {
		eventFilters[k] = v
	}
	ep.EventTrigger = &EventTrigger{
		EventFilters: eventFilters,
		EventType:    eventType,
		Retry:        mergedRetry(global, specific),
	}
	return ep
}

func mergedRetry(global, specific *GlobalOptions) bool {
	if specific != nil && specific.Retry != nil {
		return *specific.Retry
	}
	if global == nil {
		return false
	}
	return ptr.Deref(global.Retry, false)
}

func overlay(dst *ManifestEndpoint, src ManifestEndpoint) {
	if src.Region != nil {
		dst.Region = src.Region
	}
	if src.AvailableMemoryMB != nil {
		dst.AvailableMemoryMB = src.AvailableMemoryMB
	}
	if src.MaxInstances != nil {
		dst.MaxInstances = src.MaxInstances
	}
	if src.MinInstances != nil {
		dst.MinInstances = src.MinInstances
	}
	if src.Concurrency != nil {
		dst.Concurrency = src.Concurrency
	}
	if src.ServiceAccountEmail != "" {
		dst.ServiceAccountEmail = src.ServiceAccountEmail
	}
	if src.TimeoutSeconds != nil {
		dst.TimeoutSeconds = src.TimeoutSeconds
	}
	if src.VPC != nil {
		dst.VPC = src.VPC
	}
	if src.IngressSettings != "" {
		dst.IngressSettings = src.IngressSettings
	}
	if src.Labels != nil {
		if dst.Labels == nil {
			dst.Labels = make(map[string]string, len(src.Labels))
		}
		for k, v := range src.Labels {
			dst.Labels[k] = v
		}
	}
}

// Clone returns a deep copy of the endpoint.
func (e ManifestEndpoint) Clone() ManifestEndpoint {
	c := e
	c.Region = copyStrings(e.Region)
	c.AvailableMemoryMB = copyInt(e.AvailableMemoryMB)
	c.MaxInstances = copyInt(e.MaxInstances)
	c.MinInstances = copyInt(e.MinInstances)
	c.Concurrency = copyInt(e.Concurrency)
	c.TimeoutSeconds = copyInt(e.TimeoutSeconds)
	c.Labels = copyLabels(e.Labels)
	c.EnvironmentVariables = copyLabels(e.EnvironmentVariables)
	if e.VPC != nil {
		vpc := *e.VPC
		c.VPC = &vpc
	}
	if e.HTTPSTrigger != nil {
		c.HTTPSTrigger = &HTTPSTrigger{Invoker: copyStrings(e.HTTPSTrigger.Invoker)}
	}
	if e.CallableTrigger != nil {
		c.CallableTrigger = &CallableTrigger{}
	}
	if e.EventTrigger != nil {
		et := *e.EventTrigger
		et.EventFilters = copyLabels(e.EventTrigger.EventFilters)
		et.EventFilterPathPatterns = copyLabels(e.EventTrigger.EventFilterPathPatterns)
		c.EventTrigger = &et
	}
	return c
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
