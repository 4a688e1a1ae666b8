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

package https

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/firebase/firebase-functions-go/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestIsValidRequest(t *testing.T) {
	cases := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        bool
		log         string
	}{
		{"valid", http.MethodPost, "application/json", `{"data": {"a": 1}}`, true, ""},
		{"charset", http.MethodPost, "application/json; charset=utf-8", `{"data": null}`, true, ""},
		{"upper case", http.MethodPost, "Application/JSON", `{"data": []}`, true, ""},
		{"empty body", http.MethodPost, "application/json", ``, false, "Request is missing body."},
		{"get", http.MethodGet, "application/json", `{"data": 1}`, false, "Request has invalid method."},
		{"text", http.MethodPost, "text/plain", `{"data": 1}`, false, "Request has incorrect Content-Type."},
		{"no content type", http.MethodPost, "", `{"data": 1}`, false, "Request has incorrect Content-Type."},
		{"invalid json", http.MethodPost, "application/json", `{"data":`, false, "Request body is not valid JSON."},
		{"array", http.MethodPost, "application/json", `[{"data": 1}]`, false, "Request body is not a JSON object."},
		{"missing data", http.MethodPost, "application/json", `{"other": 1}`, false, "Request body is missing data."},
		{"extra field", http.MethodPost, "application/json", `{"data": {}, "extra": 1}`, false, "Request body has extra fields."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			defer logger.SetDefault(zap.New(core))()

			r := httptest.NewRequest(tc.method, "/", strings.NewReader(tc.body))
			if tc.contentType != "" {
				r.Header.Set("Content-Type", tc.contentType)
			}
			if got := IsValidRequest(r, []byte(tc.body)); got != tc.want {
				t.Errorf("IsValidRequest() = %v; want = %v", got, tc.want)
			}
			if tc.log == "" {
				if logs.Len() != 0 {
					t.Errorf("IsValidRequest() logged %d entries; want = 0", logs.Len())
				}
				return
			}
			entries := logs.FilterMessage(tc.log).All()
			if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
				t.Errorf("IsValidRequest() logs = %v; want one warning %q", logs.All(), tc.log)
			}
		})
	}
}
