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

// Package debug reads the debug feature switches used when running functions locally.
package debug

import (
	"encoding/json"
	"os"
	"sync"
)

// Feature names a debug behavior that can be toggled through FIREBASE_DEBUG_FEATURES.
type Feature string

const (
	// SkipTokenVerification decodes auth and App Check tokens without verifying them.
	SkipTokenVerification Feature = "skipTokenVerification"
	// EnableCors allows all origins regardless of the function's CORS option.
	EnableCors Feature = "enableCors"
)

const (
	modeEnvVar     = "FIREBASE_DEBUG_MODE"
	featuresEnvVar = "FIREBASE_DEBUG_FEATURES"
)

// Features holds the debug features enabled for the process.
type Features struct {
	mode   bool
	values map[string]interface{}
}

// Parse interprets the values of FIREBASE_DEBUG_MODE and FIREBASE_DEBUG_FEATURES.
//
// Features are only honored when mode is exactly "true". The features value is a JSON object
// mapping feature names to values, or a JSON list of enabled feature names. Anything that
// does not parse enables nothing.
func Parse(mode, features string) Features {
	f := Features{mode: mode == "true"}
	if !f.mode || features == "" {
		return f
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(features), &obj); err == nil {
		f.values = obj
		return f
	}
	var names []string
	if err := json.Unmarshal([]byte(features), &names); err == nil {
		f.values = make(map[string]interface{}, len(names))
		for _, n := range names {
			f.values[n] = true
		}
	}
	return f
}

// Mode reports whether FIREBASE_DEBUG_MODE was set to true.
func (f Features) Mode() bool {
	return f.mode
}

// Enabled reports whether the feature is switched on.
func (f Features) Enabled(feature Feature) bool {
	return f.mode && truthy(f.values[string(feature)])
}

// Value returns the raw value configured for the feature, or nil.
func (f Features) Value(feature Feature) interface{} {
	if !f.mode {
		return nil
	}
	return f.values[string(feature)]
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

var (
	once    sync.Once
	process Features
)

// Process returns the debug features of the current process. The environment is read once.
func Process() Features {
	once.Do(func() {
		process = Parse(os.Getenv(modeEnvVar), os.Getenv(featuresEnvVar))
	})
	return process
}

// IsFeatureEnabled reports whether feature is enabled for the current process.
func IsFeatureEnabled(feature Feature) bool {
	return Process().Enabled(feature)
}
