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
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/appcheck"
	"github.com/firebase/firebase-functions-go/auth"
	"github.com/firebase/firebase-functions-go/internal/debug"
	"github.com/firebase/firebase-functions-go/internal/metrics"
	"github.com/firebase/firebase-functions-go/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const (
	authorizationHeader = "Authorization"
	appCheckHeader      = "X-Firebase-AppCheck"
	instanceIDHeader    = "Firebase-Instance-ID-Token"
)

var bearerPattern = regexp.MustCompile(`^Bearer (.*)$`)

// debugFeatures is replaced in tests.
var debugFeatures = debug.Process

// TokenStatus is the outcome of verifying one of the tokens of a callable request.
type TokenStatus string

// Token verification outcomes.
const (
	TokenMissing TokenStatus = "MISSING"
	TokenValid   TokenStatus = "VALID"
	TokenInvalid TokenStatus = "INVALID"
)

// TokenVerifications holds the outcome of both token checks of a request.
type TokenVerifications struct {
	App  TokenStatus `json:"app"`
	Auth TokenStatus `json:"auth"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (v TokenVerifications) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("app", string(v.App))
	enc.AddString("auth", string(v.Auth))
	return nil
}

// IDTokenVerifier verifies Firebase Auth ID tokens. *auth.Client implements it.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AppCheckVerifier verifies App Check tokens. *appcheck.Client implements it.
type AppCheckVerifier interface {
	VerifyToken(token string) (*appcheck.DecodedAppCheckToken, error)
}

// ConfigurationError reports a verification capability that is not available to the function.
// Requests that depend on it are rejected.
type ConfigurationError struct {
	msg string
	err error
}

func (e *ConfigurationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.err
}

// tokenChecker resolves the verifiers of a function and runs the token checks of each request.
// Verifiers that were not injected come from the App, which defaults to functions.DefaultApp.
type tokenChecker struct {
	idTokens  IDTokenVerifier
	appTokens AppCheckVerifier
	app       *functions.App
}

func (tc *tokenChecker) resolveApp(ctx context.Context) (*functions.App, error) {
	if tc.app != nil {
		return tc.app, nil
	}
	return functions.DefaultApp(ctx)
}

func (tc *tokenChecker) idTokenVerifier(ctx context.Context) (IDTokenVerifier, error) {
	if tc.idTokens != nil {
		return tc.idTokens, nil
	}
	// Clients are cached by the App and outlive the request.
	ctx = context.WithoutCancel(ctx)
	app, err := tc.resolveApp(ctx)
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (tc *tokenChecker) appCheckVerifier(ctx context.Context) (AppCheckVerifier, error) {
	if tc.appTokens != nil {
		return tc.appTokens, nil
	}
	ctx = context.WithoutCancel(ctx)
	app, err := tc.resolveApp(ctx)
	if err != nil {
		return nil, err
	}
	client, err := app.AppCheck(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// check runs the auth and App Check verifications concurrently, waits for both and logs their
// joint outcome. Verified tokens are recorded on cctx.
func (tc *tokenChecker) check(ctx context.Context, r *http.Request, cctx *CallableContext, log *zap.Logger) TokenVerifications {
	v := TokenVerifications{App: TokenInvalid, Auth: TokenInvalid}
	var g errgroup.Group
	g.Go(func() error {
		v.Auth = tc.checkAuthToken(ctx, r, cctx, log)
		return nil
	})
	g.Go(func() error {
		v.App = tc.checkAppCheckToken(ctx, r, cctx, log)
		return nil
	})
	g.Wait()

	metrics.RecordTokenVerification("auth", string(v.Auth))
	metrics.RecordTokenVerification("app", string(v.App))

	fields := []zap.Field{
		zap.Object("verifications", v),
		logger.Labels(map[string]string{"firebase-log-type": "callable-request-verification"}),
	}
	var errs []string
	if v.App == TokenInvalid {
		errs = append(errs, "AppCheck token was rejected.")
	}
	if v.Auth == TokenInvalid {
		errs = append(errs, "Auth token was rejected.")
	}
	if len(errs) == 0 {
		log.Info("Callable request verification passed", fields...)
	} else {
		log.Warn("Callable request verification failed: "+strings.Join(errs, " "), fields...)
	}
	return v
}

func (tc *tokenChecker) checkAuthToken(ctx context.Context, r *http.Request, cctx *CallableContext, log *zap.Logger) TokenStatus {
	authorization := r.Header.Get(authorizationHeader)
	if authorization == "" {
		return TokenMissing
	}
	match := bearerPattern.FindStringSubmatch(authorization)
	if match == nil {
		log.Warn("Failed to validate auth token.", zap.Error(errors.New("authorization header is not a bearer token")))
		return TokenInvalid
	}

	var token *auth.Token
	var err error
	if debugFeatures().Enabled(debug.SkipTokenVerification) {
		token, err = auth.UnsafeDecode(match[1])
	} else {
		var verifier IDTokenVerifier
		if verifier, err = tc.idTokenVerifier(ctx); err == nil {
			token, err = verifier.VerifyIDToken(ctx, match[1])
		}
	}
	if err != nil {
		log.Warn("Failed to validate auth token.", zap.Error(err))
		return TokenInvalid
	}
	cctx.Auth = &AuthData{UID: token.UID, Token: token}
	return TokenValid
}

func (tc *tokenChecker) checkAppCheckToken(ctx context.Context, r *http.Request, cctx *CallableContext, log *zap.Logger) TokenStatus {
	appToken := r.Header.Get(appCheckHeader)
	if appToken == "" {
		return TokenMissing
	}

	var token *appcheck.DecodedAppCheckToken
	var err error
	if debugFeatures().Enabled(debug.SkipTokenVerification) {
		token, err = appcheck.UnsafeDecode(appToken)
	} else {
		verifier, verr := tc.appCheckVerifier(ctx)
		if verr != nil {
			err = &ConfigurationError{msg: "cannot validate App Check token; no App Check verifier is available", err: verr}
		} else {
			token, err = verifier.VerifyToken(appToken)
		}
	}
	if err != nil {
		log.Warn("Failed to validate AppCheck token.", zap.Error(err))
		return TokenInvalid
	}
	cctx.App = &AppData{AppID: token.AppID, Token: token}
	return TokenValid
}
