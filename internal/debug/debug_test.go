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

package debug

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		mode     string
		features string
		want     bool
	}{
		{"Disabled", "", `{"skipTokenVerification": true}`, false},
		{"ModeNotTrue", "1", `{"skipTokenVerification": true}`, false},
		{"Object", "true", `{"skipTokenVerification": true}`, true},
		{"ObjectFalse", "true", `{"skipTokenVerification": false}`, false},
		{"ObjectString", "true", `{"skipTokenVerification": "yes"}`, true},
		{"ObjectZero", "true", `{"skipTokenVerification": 0}`, false},
		{"List", "true", `["enableCors", "skipTokenVerification"]`, true},
		{"Missing", "true", `{"enableCors": true}`, false},
		{"Invalid", "true", `not json`, false},
		{"Empty", "true", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Parse(tc.mode, tc.features)
			if got := f.Enabled(SkipTokenVerification); got != tc.want {
				t.Errorf("Enabled() = %v; want = %v", got, tc.want)
			}
		})
	}
}

func TestValue(t *testing.T) {
	f := Parse("true", `{"enableCors": true}`)
	if v := f.Value(EnableCors); v != true {
		t.Errorf("Value() = %v; want = true", v)
	}
	if !f.Mode() {
		t.Errorf("Mode() = false; want = true")
	}

	f = Parse("false", `{"enableCors": true}`)
	if v := f.Value(EnableCors); v != nil {
		t.Errorf("Value() = %v; want = nil", v)
	}
}
