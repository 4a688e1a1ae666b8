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
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/firebase-functions-go/logger"
	"gopkg.in/yaml.v3"
)

// SupportedRegions lists the regions known to support Cloud Functions (2nd gen).
var SupportedRegions = []string{
	"asia-northeast1",
	"europe-north1",
	"europe-west1",
	"europe-west4",
	"us-central1",
	"us-east1",
	"us-west1",
}

const (
	// MinTimeoutSeconds is the minimum function timeout.
	MinTimeoutSeconds = 1
	// MaxEventTimeoutSeconds is the maximum timeout of event handlers.
	MaxEventTimeoutSeconds = 540
	// MaxHTTPSTimeoutSeconds is the maximum timeout of HTTPS and callable functions.
	MaxHTTPSTimeoutSeconds = 36000
	// MaxConcurrency is the maximum number of requests served by a single instance.
	MaxConcurrency = 1000
)

var memoryOptionToMB = map[string]int{
	"128MB": 128,
	"256MB": 256,
	"512MB": 512,
	"1GB":   1024,
	"2GB":   2048,
	"4GB":   4096,
	"8GB":   8192,
	"16GB":  16384,
	"32GB":  32768,
}

// SupportedVPCEgressSettings lists the valid values of VPCConnectorEgressSettings.
var SupportedVPCEgressSettings = []string{
	"PRIVATE_RANGES_ONLY",
	"ALL_TRAFFIC",
}

// SupportedIngressSettings lists the valid values of IngressSettings.
var SupportedIngressSettings = []string{
	"ALLOW_ALL",
	"ALLOW_INTERNAL_ONLY",
	"ALLOW_INTERNAL_AND_GCLB",
}

// Regions is a list of regions. In JSON and YAML it may be written as a single string.
type Regions []string

// UnmarshalJSON accepts either a string or a list of strings.
func (r *Regions) UnmarshalJSON(b []byte) error {
	list, err := stringOrListJSON(b)
	if err != nil {
		return fmt.Errorf("region: %w", err)
	}
	*r = list
	return nil
}

// UnmarshalYAML accepts either a scalar or a sequence of scalars.
func (r *Regions) UnmarshalYAML(value *yaml.Node) error {
	list, err := stringOrListYAML(value)
	if err != nil {
		return fmt.Errorf("region: %w", err)
	}
	*r = list
	return nil
}

// Invoker lists who may invoke an HTTPS function: "public", "private", or service account
// emails. In JSON and YAML it may be written as a single string.
type Invoker []string

// UnmarshalJSON accepts either a string or a list of strings.
func (i *Invoker) UnmarshalJSON(b []byte) error {
	list, err := stringOrListJSON(b)
	if err != nil {
		return fmt.Errorf("invoker: %w", err)
	}
	*i = list
	return nil
}

// UnmarshalYAML accepts either a scalar or a sequence of scalars.
func (i *Invoker) UnmarshalYAML(value *yaml.Node) error {
	list, err := stringOrListYAML(value)
	if err != nil {
		return fmt.Errorf("invoker: %w", err)
	}
	*i = list
	return nil
}

func stringOrListJSON(b []byte) ([]string, error) {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, errors.New("must be a string or a list of strings")
	}
	return list, nil
}

func stringOrListYAML(value *yaml.Node) ([]string, error) {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, errors.New("must be a string or a list of strings")
	}
}

// GlobalOptions holds the deployment options shared by all functions of a codebase. The same
// type carries per-function overrides; unset fields are left to the global value.
type GlobalOptions struct {
	Region                     Regions           `json:"region,omitempty" yaml:"region,omitempty"`
	Memory                     string            `json:"memory,omitempty" yaml:"memory,omitempty"`
	TimeoutSeconds             *int              `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	MinInstances               *int              `json:"minInstances,omitempty" yaml:"minInstances,omitempty"`
	MaxInstances               *int              `json:"maxInstances,omitempty" yaml:"maxInstances,omitempty"`
	Concurrency                *int              `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	VPCConnector               string            `json:"vpcConnector,omitempty" yaml:"vpcConnector,omitempty"`
	VPCConnectorEgressSettings string            `json:"vpcConnectorEgressSettings,omitempty" yaml:"vpcConnectorEgressSettings,omitempty"`
	ServiceAccount             string            `json:"serviceAccount,omitempty" yaml:"serviceAccount,omitempty"`
	IngressSettings            string            `json:"ingressSettings,omitempty" yaml:"ingressSettings,omitempty"`
	Labels                     map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Invoker                    Invoker           `json:"invoker,omitempty" yaml:"invoker,omitempty"`
	Retry                      *bool             `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Validate checks the options against the limits of HTTPS functions. Every violation is
// reported; memory shorthand typos that OptionsToEndpoint would silently drop are caught here.
func (o *GlobalOptions) Validate() error {
	return o.validate(MaxHTTPSTimeoutSeconds)
}

// ValidateEvent is like Validate, but applies the shorter timeout limit of event handlers.
func (o *GlobalOptions) ValidateEvent() error {
	return o.validate(MaxEventTimeoutSeconds)
}

func (o *GlobalOptions) validate(maxTimeout int) error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Memory != "" {
		if _, ok := memoryOptionToMB[o.Memory]; !ok {
			errs = append(errs, fmt.Errorf("invalid memory %q: must be one of 128MB, 256MB, 512MB, 1GB, 2GB, 4GB, 8GB, 16GB or 32GB", o.Memory))
		}
	}
	if o.Region != nil && len(o.Region) == 0 {
		errs = append(errs, errors.New("region must not be an empty list"))
	}
	for _, r := range o.Region {
		if r == "" {
			errs = append(errs, errors.New("region must not be an empty string"))
		}
	}
	if t := o.TimeoutSeconds; t != nil && (*t < MinTimeoutSeconds || *t > maxTimeout) {
		errs = append(errs, fmt.Errorf("timeoutSeconds must be between %d and %d; got %d", MinTimeoutSeconds, maxTimeout, *t))
	}
	if c := o.Concurrency; c != nil && (*c < 1 || *c > MaxConcurrency) {
		errs = append(errs, fmt.Errorf("concurrency must be between 1 and %d; got %d", MaxConcurrency, *c))
	}
	if n := o.MinInstances; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("minInstances must not be negative; got %d", *n))
	}
	if n := o.MaxInstances; n != nil && *n < 1 {
		errs = append(errs, fmt.Errorf("maxInstances must be positive; got %d", *n))
	}
	if o.MinInstances != nil && o.MaxInstances != nil && *o.MinInstances > *o.MaxInstances {
		errs = append(errs, fmt.Errorf("minInstances (%d) must not exceed maxInstances (%d)", *o.MinInstances, *o.MaxInstances))
	}
	if s := o.VPCConnectorEgressSettings; s != "" && !contains(SupportedVPCEgressSettings, s) {
		errs = append(errs, fmt.Errorf("invalid vpcConnectorEgressSettings %q: must be one of %s", s, strings.Join(SupportedVPCEgressSettings, ", ")))
	}
	if s := o.IngressSettings; s != "" && !contains(SupportedIngressSettings, s) {
		errs = append(errs, fmt.Errorf("invalid ingressSettings %q: must be one of %s", s, strings.Join(SupportedIngressSettings, ", ")))
	}
	if o.ServiceAccount != "" {
		if err := validateServiceAccount(o.ServiceAccount); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Invoker != nil {
		if err := validateInvoker(o.Invoker); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateServiceAccount(sa string) error {
	if sa == "default" || strings.Contains(sa, "@") {
		return nil
	}
	return fmt.Errorf("invalid option for serviceAccount: %q; valid options are 'default', a service account email, or '{serviceAccountName}@'", sa)
}

func validateInvoker(invoker Invoker) error {
	if len(invoker) == 0 {
		return errors.New("invalid option for invoker: must be a non-empty list")
	}
	for _, inv := range invoker {
		if inv == "" {
			return errors.New("invalid option for invoker: must be a non-empty string")
		}
		if len(invoker) > 1 && (inv == "public" || inv == "private") {
			return errors.New("invalid option for invoker: cannot have 'public' or 'private' in a list of service accounts")
		}
	}
	return nil
}

func contains(s []string, str string) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}

var (
	globalMu      sync.RWMutex
	globalOptions *GlobalOptions
)

// SetGlobalOptions sets the default options for all functions of the codebase.
//
// It is meant to be called once, before functions are registered. A second call logs a
// warning and replaces the previous value.
func SetGlobalOptions(opts GlobalOptions) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalOptions != nil {
		logger.Default().Warn("Calling SetGlobalOptions twice leads to undefined behavior")
	}
	globalOptions = &opts
}

// GetGlobalOptions returns a snapshot of the options set with SetGlobalOptions, or the zero
// value when none were set.
func GetGlobalOptions() GlobalOptions {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalOptions == nil {
		return GlobalOptions{}
	}
	snapshot := *globalOptions
	if globalOptions.Labels != nil {
		snapshot.Labels = make(map[string]string, len(globalOptions.Labels))
		for k, v := range globalOptions.Labels {
			snapshot.Labels[k] = v
		}
	}
	return snapshot
}
