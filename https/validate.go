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
	"strings"

	"github.com/firebase/firebase-functions-go/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// IsValidRequest reports whether r, with the given body, is a well-formed callable request: a
// POST with a JSON content type whose body is an object holding a data field and nothing else.
// Each rejection is logged with its reason.
func IsValidRequest(r *http.Request, body []byte) bool {
	log := logger.Default()
	if len(body) == 0 {
		log.Warn("Request is missing body.")
		return false
	}
	if r.Method != http.MethodPost {
		log.Warn("Request has invalid method.", zap.String("method", r.Method))
		return false
	}

	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType != "application/json" {
		log.Warn("Request has incorrect Content-Type.", zap.String("contentType", contentType))
		return false
	}

	if !gjson.ValidBytes(body) {
		log.Warn("Request body is not valid JSON.")
		return false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		log.Warn("Request body is not a JSON object.")
		return false
	}
	if !doc.Get("data").Exists() {
		log.Warn("Request body is missing data.", zap.ByteString("body", body))
		return false
	}
	var extra []string
	doc.ForEach(func(key, _ gjson.Result) bool {
		if key.String() != "data" {
			extra = append(extra, key.String())
		}
		return true
	})
	if len(extra) != 0 {
		log.Warn("Request body has extra fields.", zap.String("fields", strings.Join(extra, ", ")))
		return false
	}
	return true
}
