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

	functions "github.com/firebase/firebase-functions-go"
	"github.com/labstack/echo/v4"
)

// HTTPSOptions configures a raw HTTPS function.
type HTTPSOptions struct {
	functions.GlobalOptions

	// CORS adds CORS headers to the responses of the function. When nil no CORS headers are
	// sent.
	CORS *CORSPolicy
}

// RequestFunction is a function that handles raw HTTP requests.
type RequestFunction struct {
	opts     HTTPSOptions
	endpoint functions.ManifestEndpoint
	router   *echo.Echo
}

// OnRequest creates an HTTPS function from handler.
func OnRequest(opts *HTTPSOptions, handler http.HandlerFunc) *RequestFunction {
	if opts == nil {
		opts = &HTTPSOptions{}
	}
	global := functions.GetGlobalOptions()
	ep := functions.BaseEndpoint(&global, &opts.GlobalOptions)
	ep.HTTPSTrigger = &functions.HTTPSTrigger{}
	switch {
	case opts.Invoker != nil:
		ep.HTTPSTrigger.Invoker = append([]string(nil), opts.Invoker...)
	case global.Invoker != nil:
		ep.HTTPSTrigger.Invoker = append([]string(nil), global.Invoker...)
	}
	return &RequestFunction{
		opts:     *opts,
		endpoint: ep,
		router:   newRouter(opts.CORS, echo.WrapHandler(handler)),
	}
}

// Endpoint returns a copy of the manifest entry of the function.
func (f *RequestFunction) Endpoint() functions.ManifestEndpoint {
	return f.endpoint.Clone()
}

// Validate checks the options of the function.
func (f *RequestFunction) Validate() error {
	return f.opts.Validate()
}

// ServeHTTP implements http.Handler.
func (f *RequestFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}
