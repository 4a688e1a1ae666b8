// Copyright 2017 Google Inc. All Rights Reserved.
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

package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func serviceAccountJSON(t *testing.T, overrides map[string]string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	sa := map[string]string{
		"type":           "service_account",
		"project_id":     "mock-project-id",
		"private_key_id": "mock-key-id-1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   "mock-email@mock-project.iam.gserviceaccount.com",
		"client_id":      "1234567890",
		"token_uri":      "https://accounts.google.com/o/oauth2/token",
	}
	for k, v := range overrides {
		if v == "" {
			delete(sa, k)
		} else {
			sa[k] = v
		}
	}
	b, err := json.Marshal(sa)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

const refreshTokenJSON = `{
	"type": "authorized_user",
	"client_id": "mock.apps.googleusercontent.com",
	"client_secret": "mock-secret",
	"refresh_token": "mock-refresh-token"
}`

func TestCert(t *testing.T) {
	cred, err := NewCert(strings.NewReader(string(serviceAccountJSON(t, nil))))
	if err != nil {
		t.Fatal(err)
	}

	got := cred.(*certificate).Config
	if got.Email != "mock-email@mock-project.iam.gserviceaccount.com" {
		t.Errorf("Email: %q; want: %q", got.Email, "mock-email@mock-project.iam.gserviceaccount.com")
	}
	if got.PrivateKeyID != "mock-key-id-1" {
		t.Errorf("PrivateKeyID: %q; want: %q", got.PrivateKeyID, "mock-key-id-1")
	}
	if !reflect.DeepEqual(firebaseScopes, got.Scopes) {
		t.Errorf("Scopes: %v; want: %v", got.Scopes, firebaseScopes)
	}
	if pid := ProjectID(cred); pid != "mock-project-id" {
		t.Errorf("ProjectID() = %q; want: %q", pid, "mock-project-id")
	}

	// AccessToken contacts the mock server to obtain OAuth2 tokens.
	ts := initMockServer()
	defer ts.Close()
	got.TokenURL = ts.URL

	token, expiry, err := cred.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "mock-token" {
		t.Errorf("Token: %q; want: %q", token, "mock-token")
	}
	expiresIn := int64(time.Until(expiry) / time.Minute)
	if expiresIn < 55 || expiresIn > 60 {
		t.Errorf("Invalid expiry duration: %d", expiresIn)
	}
}

func TestCertWithInvalidInput(t *testing.T) {
	cases := map[string][]byte{
		"PlainText":         []byte("not json"),
		"RefreshToken":      []byte(refreshTokenJSON),
		"NoClientEmail":     serviceAccountJSON(t, map[string]string{"client_email": ""}),
		"NoPrivateKeyID":    serviceAccountJSON(t, map[string]string{"private_key_id": ""}),
		"NoProjectID":       serviceAccountJSON(t, map[string]string{"project_id": ""}),
		"InvalidPrivateKey": serviceAccountJSON(t, map[string]string{"private_key": "invalid"}),
	}
	for name, b := range cases {
		cred, err := NewCert(strings.NewReader(string(b)))
		if cred != nil || err == nil {
			t.Errorf("NewCert(%s) = (%v, %v); want: (nil, error)", name, cred, err)
		}
	}
}

func TestRefreshToken(t *testing.T) {
	cred, err := NewRefreshToken(strings.NewReader(refreshTokenJSON))
	if err != nil {
		t.Fatal(err)
	}

	c := cred.(*refreshToken)
	got := c.Config
	if got.ClientID != "mock.apps.googleusercontent.com" {
		t.Errorf("ClientID: %q; want: %q", got.ClientID, "mock.apps.googleusercontent.com")
	}
	if got.ClientSecret != "mock-secret" {
		t.Errorf("ClientSecret: %q; want: %q", got.ClientSecret, "mock-secret")
	}
	if c.Token.RefreshToken != "mock-refresh-token" {
		t.Errorf("RefreshToken: %q; want: %q", c.Token.RefreshToken, "mock-refresh-token")
	}
	if pid := ProjectID(cred); pid != "" {
		t.Errorf("ProjectID() = %q; want: empty", pid)
	}

	ts := initMockServer()
	defer ts.Close()
	got.Endpoint.TokenURL = ts.URL

	token, _, err := cred.AccessToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "mock-token" {
		t.Errorf("Token: %q; want: %q", token, "mock-token")
	}
}

func TestRefreshTokenWithInvalidInput(t *testing.T) {
	cases := []string{
		"not json",
		string(serviceAccountJSON(t, nil)),
		`{"type": "authorized_user", "client_secret": "s", "refresh_token": "r"}`,
		`{"type": "authorized_user", "client_id": "c", "refresh_token": "r"}`,
		`{"type": "authorized_user", "client_id": "c", "client_secret": "s"}`,
	}
	for _, tc := range cases {
		cred, err := NewRefreshToken(strings.NewReader(tc))
		if cred != nil || err == nil {
			t.Errorf("NewRefreshToken(%q) = (%v, %v); want: (nil, error)", tc, cred, err)
		}
	}
}

func TestAppDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_account.json")
	if err := os.WriteFile(path, serviceAccountJSON(t, nil), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", path)

	ctx := context.Background()
	cred, err := NewAppDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pid := ProjectID(cred); pid != "mock-project-id" {
		t.Errorf("ProjectID() = %q; want: %q", pid, "mock-project-id")
	}

	want := time.Now().Add(time.Hour)
	c := cred.(*appDefault)
	c.Credential.TokenSource = &testTokenSource{"mock-token", want}

	token, expiry, err := cred.AccessToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if token != "mock-token" {
		t.Errorf("Token: %q; want: %q", token, "mock-token")
	}
	if !expiry.Equal(want) {
		t.Errorf("Expiry: %v; want %v", expiry, want)
	}
}

func TestAppDefaultWithInvalidFile(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", filepath.Join(t.TempDir(), "non_existing.json"))
	cred, err := NewAppDefault(context.Background())
	if cred != nil || err == nil {
		t.Errorf("NewAppDefault() = (%v, %v); want: (nil, error)", cred, err)
	}
}

type countingCredential struct {
	calls int
	err   error
}

func (c *countingCredential) AccessToken(ctx context.Context) (string, time.Time, error) {
	c.calls++
	return "cached-token", time.Now().Add(time.Hour), c.err
}

func TestTokenSource(t *testing.T) {
	cred := &countingCredential{}
	ts := TokenSource(context.Background(), cred)
	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		if err != nil {
			t.Fatal(err)
		}
		if tok.AccessToken != "cached-token" {
			t.Errorf("AccessToken = %q; want: %q", tok.AccessToken, "cached-token")
		}
	}
	if cred.calls != 1 {
		t.Errorf("AccessToken() calls = %d; want: 1", cred.calls)
	}
}

func TestTokenSourceError(t *testing.T) {
	ts := TokenSource(context.Background(), &countingCredential{err: errors.New("test error")})
	if tok, err := ts.Token(); tok != nil || err == nil {
		t.Errorf("Token() = (%v, %v); want: (nil, error)", tok, err)
	}
}

type testTokenSource struct {
	AccessToken string
	Expiry      time.Time
}

func (t *testTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		Expiry:      t.Expiry,
	}, nil
}

// initMockServer starts a mock HTTP server that Credential implementations can invoke during
// tests to obtain OAuth2 access tokens.
func initMockServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "mock-token",
			"scope": "user",
			"token_type": "bearer",
			"expires_in": 3600
		}`))
	}))
}
