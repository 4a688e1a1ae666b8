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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/appcheck"
	"github.com/firebase/firebase-functions-go/auth"
	"github.com/firebase/firebase-functions-go/internal/debug"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"
)

const (
	validIDToken  = "valid-id-token"
	validAppToken = "valid-app-token"
)

type mockIDTokenVerifier struct{}

func (mockIDTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if idToken != validIDToken {
		return nil, auth.ErrIDTokenInvalid
	}
	return &auth.Token{Subject: "user-1", UID: "user-1"}, nil
}

type mockAppCheckVerifier struct{}

func (mockAppCheckVerifier) VerifyToken(token string) (*appcheck.DecodedAppCheckToken, error) {
	if token != validAppToken {
		return nil, appcheck.ErrTokenSubject
	}
	return &appcheck.DecodedAppCheckToken{Subject: "app-1", AppID: "app-1"}, nil
}

func newTokenChecker() *tokenChecker {
	return &tokenChecker{idTokens: mockIDTokenVerifier{}, appTokens: mockAppCheckVerifier{}}
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(logger.SetDefault(zap.New(core)))
	return logs
}

func enableDebugFeatures(t *testing.T, features string) {
	t.Helper()
	prev := debugFeatures
	debugFeatures = func() debug.Features { return debug.Parse("true", features) }
	t.Cleanup(func() { debugFeatures = prev })
}

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func checkRequest(tc *tokenChecker, headers map[string]string) (TokenVerifications, *CallableContext) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	cctx := &CallableContext{RawRequest: r}
	v := tc.check(context.Background(), r, cctx, logger.Default())
	return v, cctx
}

func TestCheckTokensMissing(t *testing.T) {
	logs := observeLogs(t)
	v, cctx := checkRequest(newTokenChecker(), nil)
	if diff := cmp.Diff(TokenVerifications{App: TokenMissing, Auth: TokenMissing}, v); diff != "" {
		t.Errorf("check() mismatch (-want +got):\n%s", diff)
	}
	if cctx.Auth != nil || cctx.App != nil {
		t.Errorf("check() modified the context: %+v", cctx)
	}

	entries := logs.FilterMessage("Callable request verification passed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("logs = %v; want one info entry", logs.All())
	}
	fields := entries[0].ContextMap()
	wantVerifications := map[string]interface{}{"app": "MISSING", "auth": "MISSING"}
	if diff := cmp.Diff(wantVerifications, fields["verifications"]); diff != "" {
		t.Errorf("verifications mismatch (-want +got):\n%s", diff)
	}
	wantLabels := map[string]string{"firebase-log-type": "callable-request-verification"}
	if diff := cmp.Diff(wantLabels, fields[logger.LabelsKey]); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckTokensValid(t *testing.T) {
	v, cctx := checkRequest(newTokenChecker(), map[string]string{
		"Authorization":       "Bearer " + validIDToken,
		"X-Firebase-AppCheck": validAppToken,
	})
	if diff := cmp.Diff(TokenVerifications{App: TokenValid, Auth: TokenValid}, v); diff != "" {
		t.Errorf("check() mismatch (-want +got):\n%s", diff)
	}
	if cctx.Auth == nil || cctx.Auth.UID != "user-1" {
		t.Errorf("Auth = %+v; want uid user-1", cctx.Auth)
	}
	if cctx.App == nil || cctx.App.AppID != "app-1" {
		t.Errorf("App = %+v; want app id app-1", cctx.App)
	}
}

func TestCheckTokensInvalid(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    TokenVerifications
		message string
	}{
		{
			"bad id token",
			map[string]string{"Authorization": "Bearer nope"},
			TokenVerifications{App: TokenMissing, Auth: TokenInvalid},
			"Callable request verification failed: Auth token was rejected.",
		},
		{
			"not a bearer token",
			map[string]string{"Authorization": "Basic dXNlcjpwdw=="},
			TokenVerifications{App: TokenMissing, Auth: TokenInvalid},
			"Callable request verification failed: Auth token was rejected.",
		},
		{
			"bad app token",
			map[string]string{"Authorization": "Bearer " + validIDToken, "X-Firebase-AppCheck": "nope"},
			TokenVerifications{App: TokenInvalid, Auth: TokenValid},
			"Callable request verification failed: AppCheck token was rejected.",
		},
		{
			"both bad",
			map[string]string{"Authorization": "Bearer nope", "X-Firebase-AppCheck": "nope"},
			TokenVerifications{App: TokenInvalid, Auth: TokenInvalid},
			"Callable request verification failed: AppCheck token was rejected. Auth token was rejected.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs := observeLogs(t)
			v, cctx := checkRequest(newTokenChecker(), tc.headers)
			if diff := cmp.Diff(tc.want, v); diff != "" {
				t.Errorf("check() mismatch (-want +got):\n%s", diff)
			}
			if v.Auth == TokenInvalid && cctx.Auth != nil {
				t.Errorf("Auth = %+v; want nil for a rejected token", cctx.Auth)
			}
			if v.App == TokenInvalid && cctx.App != nil {
				t.Errorf("App = %+v; want nil for a rejected token", cctx.App)
			}
			entries := logs.FilterMessage(tc.message).All()
			if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
				t.Errorf("logs = %v; want one warning %q", logs.All(), tc.message)
			}
		})
	}
}

func TestCheckAppCheckWithoutVerifier(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()
	prevURL := appcheck.JWKSUrl
	appcheck.JWKSUrl = ts.URL
	defer func() { appcheck.JWKSUrl = prevURL }()

	app, err := functions.NewApp(context.Background(), &functions.Config{ProjectID: "mock-project-id"}, option.WithoutAuthentication())
	if err != nil {
		t.Fatal(err)
	}
	logs := observeLogs(t)
	tc := &tokenChecker{idTokens: mockIDTokenVerifier{}, app: app}
	v, _ := checkRequest(tc, map[string]string{"X-Firebase-AppCheck": validAppToken})
	if v.App != TokenInvalid {
		t.Errorf("App = %q; want = %q", v.App, TokenInvalid)
	}
	entries := logs.FilterMessage("Failed to validate AppCheck token.").All()
	if len(entries) != 1 {
		t.Fatalf("logs = %v; want one entry", logs.All())
	}
	msg, _ := entries[0].ContextMap()["error"].(string)
	if !strings.Contains(msg, "no App Check verifier is available") {
		t.Errorf("error = %q; want configuration error", msg)
	}
}

func TestConfigurationErrorUnwrap(t *testing.T) {
	cause := errors.New("jwks unavailable")
	err := error(&ConfigurationError{msg: "cannot validate", err: cause})
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(ConfigurationError, cause) = false; want = true")
	}
	if err.Error() != "cannot validate: jwks unavailable" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCheckTokensDebugBypass(t *testing.T) {
	enableDebugFeatures(t, `{"skipTokenVerification": true}`)
	idToken := unsignedToken(t, jwt.MapClaims{"sub": "debug-user", "aud": "p", "iss": "me"})
	appToken := unsignedToken(t, jwt.MapClaims{"sub": "debug-app"})

	// No verifiers and no App: verification must not be attempted.
	tc := &tokenChecker{app: &functions.App{}}
	v, cctx := checkRequest(tc, map[string]string{
		"Authorization":       "Bearer " + idToken,
		"X-Firebase-AppCheck": appToken,
	})
	if diff := cmp.Diff(TokenVerifications{App: TokenValid, Auth: TokenValid}, v); diff != "" {
		t.Errorf("check() mismatch (-want +got):\n%s", diff)
	}
	if cctx.Auth.UID != "debug-user" || cctx.Auth.Token.Claims["iss"] != "me" {
		t.Errorf("Auth = %+v; want decoded debug-user token", cctx.Auth)
	}
	if cctx.App.AppID != "debug-app" {
		t.Errorf("App.AppID = %q; want = %q", cctx.App.AppID, "debug-app")
	}

	v, _ = checkRequest(tc, map[string]string{"Authorization": "Bearer not-a-jwt"})
	if v.Auth != TokenInvalid {
		t.Errorf("Auth = %q; want = %q for a malformed token", v.Auth, TokenInvalid)
	}
}

func TestDebugBypassRequiresMode(t *testing.T) {
	prev := debugFeatures
	debugFeatures = func() debug.Features { return debug.Parse("false", `{"skipTokenVerification": true}`) }
	defer func() { debugFeatures = prev }()

	idToken := unsignedToken(t, jwt.MapClaims{"sub": "debug-user"})
	v, _ := checkRequest(newTokenChecker(), map[string]string{"Authorization": "Bearer " + idToken})
	if v.Auth != TokenInvalid {
		t.Errorf("Auth = %q; want = %q without debug mode", v.Auth, TokenInvalid)
	}
}
