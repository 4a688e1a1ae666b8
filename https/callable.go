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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/appcheck"
	"github.com/firebase/firebase-functions-go/auth"
	"github.com/firebase/firebase-functions-go/internal/debug"
	"github.com/firebase/firebase-functions-go/internal/metrics"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	executionIDHeader = "Function-Execution-Id"
	maxBodyBytes      = 10 << 20
)

// CORSPolicy configures the CORS headers of a function. An empty AllowOrigins allows every
// origin.
type CORSPolicy struct {
	Disabled     bool
	AllowOrigins []string
}

// AuthData is the verified Firebase Auth identity of a caller.
type AuthData struct {
	UID   string
	Token *auth.Token
}

// AppData is the verified App Check identity of a caller.
type AppData struct {
	AppID string
	Token *appcheck.DecodedAppCheckToken
}

// CallableContext holds the metadata of a callable request. A new context is created for
// every request.
type CallableContext struct {
	// Auth is set when the request carried a valid Firebase Auth ID token.
	Auth *AuthData
	// App is set when the request carried a valid App Check token.
	App *AppData
	// InstanceIDToken is the unverified Firebase-Instance-ID-Token header, if any.
	InstanceIDToken string
	RawRequest      *http.Request
}

// CallableRequest is the single argument of a OneArgHandler: the request context together
// with the decoded data.
type CallableRequest struct {
	CallableContext
	Data interface{}
}

// CallableHandler is the user code behind a callable function. It is either a OneArgHandler or
// a TwoArgHandler.
type CallableHandler interface {
	call(ctx context.Context, req *CallableRequest) (interface{}, error)
}

// OneArgHandler receives the decoded data and the request context merged into one value.
type OneArgHandler func(ctx context.Context, req *CallableRequest) (interface{}, error)

func (h OneArgHandler) call(ctx context.Context, req *CallableRequest) (interface{}, error) {
	return h(ctx, req)
}

// TwoArgHandler receives the decoded data and the request context separately.
type TwoArgHandler func(ctx context.Context, data interface{}, cctx *CallableContext) (interface{}, error)

func (h TwoArgHandler) call(ctx context.Context, req *CallableRequest) (interface{}, error) {
	return h(ctx, req.Data, &req.CallableContext)
}

// CallableOptions configures a callable function.
type CallableOptions struct {
	functions.GlobalOptions

	// CORS restricts the origins allowed to call the function. When nil every origin is
	// allowed.
	CORS *CORSPolicy
	// AllowInvalidAppCheckToken lets requests with a rejected App Check token through. The
	// handler sees no App data for them.
	AllowInvalidAppCheckToken bool
	// RequireAuth rejects requests without an ID token.
	RequireAuth bool
	// EnforceAppCheck rejects requests without an App Check token.
	EnforceAppCheck bool

	// IDTokenVerifier and AppCheckVerifier override the verifiers of App.
	IDTokenVerifier  IDTokenVerifier
	AppCheckVerifier AppCheckVerifier
	// App provides the verifiers that were not set explicitly. Defaults to
	// functions.DefaultApp.
	App *functions.App
}

// CallableFunction is a function invoked with the callable protocol. It implements
// http.Handler.
type CallableFunction struct {
	opts       CallableOptions
	handler    CallableHandler
	tokens     *tokenChecker
	endpoint   functions.ManifestEndpoint
	entryPoint string
	router     *echo.Echo
}

// OnCall creates a callable function from handler.
func OnCall(opts *CallableOptions, handler CallableHandler) *CallableFunction {
	if opts == nil {
		opts = &CallableOptions{}
	}
	global := functions.GetGlobalOptions()
	ep := functions.BaseEndpoint(&global, &opts.GlobalOptions)
	ep.CallableTrigger = &functions.CallableTrigger{}

	f := &CallableFunction{
		opts:    *opts,
		handler: handler,
		tokens: &tokenChecker{
			idTokens:  opts.IDTokenVerifier,
			appTokens: opts.AppCheckVerifier,
			app:       opts.App,
		},
		endpoint: ep,
	}
	cors := opts.CORS
	if cors == nil {
		cors = &CORSPolicy{}
	}
	f.router = newRouter(cors, f.serve)
	return f
}

// newRouter wraps h in an echo instance applying the CORS policy to every path and method.
func newRouter(cors *CORSPolicy, h echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if debugFeatures().Enabled(debug.EnableCors) {
		cors = &CORSPolicy{}
	}
	if cors != nil && !cors.Disabled {
		origins := cors.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	}
	e.Any("/", h)
	e.Any("/*", h)
	return e
}

// SetEntryPoint names the function. The name appears in logs and metrics.
func (f *CallableFunction) SetEntryPoint(name string) {
	f.entryPoint = name
}

// Endpoint returns a copy of the manifest entry of the function.
func (f *CallableFunction) Endpoint() functions.ManifestEndpoint {
	return f.endpoint.Clone()
}

// Validate checks the options of the function.
func (f *CallableFunction) Validate() error {
	return f.opts.Validate()
}

// Run invokes the handler directly, bypassing the HTTP protocol and token checks.
func (f *CallableFunction) Run(ctx context.Context, req *CallableRequest) (interface{}, error) {
	return f.handler.call(ctx, req)
}

// ServeHTTP implements http.Handler.
func (f *CallableFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}

func (f *CallableFunction) serve(c echo.Context) error {
	start := time.Now()
	r := c.Request()
	executionID := r.Header.Get(executionIDHeader)
	if executionID == "" {
		executionID = uuid.NewString()
	}
	log := logger.Default().With(zap.String("executionId", executionID))
	if f.entryPoint != "" {
		log = log.With(zap.String("function", f.entryPoint))
	}

	result, err := f.handle(r.Context(), r, log)
	if err != nil {
		he := toHTTPSError(err, log)
		metrics.RecordCallable(f.metricName(), he.Status(), time.Since(start))
		return c.JSON(he.HTTPStatus(), map[string]interface{}{"error": he})
	}
	metrics.RecordCallable(f.metricName(), errorCodes[OK].canonicalName, time.Since(start))
	return c.JSON(http.StatusOK, map[string]interface{}{"result": result})
}

func (f *CallableFunction) metricName() string {
	if f.entryPoint == "" {
		return "unknown"
	}
	return f.entryPoint
}

// handle runs a request from validation to the encoded result. The returned error is either
// an *Error for the caller or an internal failure.
func (f *CallableFunction) handle(ctx context.Context, r *http.Request, log *zap.Logger) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in callable handler: %v", p)
		}
	}()

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if !IsValidRequest(r, body) {
		log.Error("Invalid request, unable to process.")
		return nil, NewError(InvalidArgument, "Bad Request")
	}

	cctx := CallableContext{RawRequest: r}
	status := f.tokens.check(ctx, r, &cctx, log)
	switch {
	case status.Auth == TokenInvalid:
		return nil, NewError(Unauthenticated, "Unauthenticated")
	case status.App == TokenInvalid && !f.opts.AllowInvalidAppCheckToken:
		return nil, NewError(Unauthenticated, "Unauthenticated")
	case status.Auth == TokenMissing && f.opts.RequireAuth:
		return nil, NewError(Unauthenticated, "Unauthenticated")
	case status.App == TokenMissing && f.opts.EnforceAppCheck:
		return nil, NewError(Unauthenticated, "Unauthenticated")
	}
	if id := r.Header.Get(instanceIDHeader); id != "" {
		cctx.InstanceIDToken = id
	}

	var envelope struct {
		Data interface{} `json:"data"`
	}
	if err := unmarshalNumbers(body, &envelope); err != nil {
		return nil, err
	}
	data, err := Decode(envelope.Data)
	if err != nil {
		return nil, err
	}
	out, err := f.handler.call(ctx, &CallableRequest{CallableContext: cctx, Data: data})
	if err != nil {
		return nil, err
	}
	return Encode(out)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, NewError(InvalidArgument, "Request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// toHTTPSError returns the caller-visible form of err with its details encoded for the wire.
// Errors that are not an *Error, or whose details cannot be encoded, are logged and hidden
// behind a generic internal error.
func toHTTPSError(err error, log *zap.Logger) *Error {
	var he *Error
	if errors.As(err, &he) {
		if he.details == nil {
			return he
		}
		details, encErr := Encode(he.details)
		if encErr == nil {
			return &Error{code: he.code, message: he.message, details: details}
		}
		err = fmt.Errorf("encoding details of %s error: %w", he.code, encErr)
	}
	log.Error("Unhandled error", zap.Error(err))
	return NewError(Internal, "INTERNAL")
}
