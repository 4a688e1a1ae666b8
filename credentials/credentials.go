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

// Package credentials provides the OAuth2 credentials used by the functions App to reach
// Firestore, Cloud Storage and the token verification endpoints.
package credentials

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

var firebaseScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/datastore",
	"https://www.googleapis.com/auth/devstorage.full_control",
	"https://www.googleapis.com/auth/firebase",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Credential represents an authentication credential that can be used to initialize a functions
// App.
//
// Credential provides the App with OAuth2 access tokens to authenticate with various Firebase
// and Google Cloud services. The Credential implementations are not required to cache the OAuth2
// tokens; TokenSource wraps any Credential with a caching oauth2.TokenSource.
type Credential interface {
	// AccessToken fetches a valid, unexpired OAuth2 access token.
	//
	// AccessToken returns an access token string along with its expiry time, which allows
	// higher-level code to implement token caching.
	AccessToken(ctx context.Context) (string, time.Time, error)
}

// ProjectID returns the project ID embedded in the credential, or an empty string when the
// credential does not carry one.
func ProjectID(c Credential) string {
	if p, ok := c.(interface{ ProjectID() string }); ok {
		return p.ProjectID()
	}
	return ""
}

// TokenSource adapts a Credential to an oauth2.TokenSource that caches tokens until they expire.
func TokenSource(ctx context.Context, c Credential) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &credentialTokenSource{ctx: ctx, cred: c})
}

type credentialTokenSource struct {
	ctx  context.Context
	cred Credential
	mu   sync.Mutex
}

func (ts *credentialTokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	token, expiry, err := ts.cred.AccessToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, Expiry: expiry, TokenType: "Bearer"}, nil
}

type certificate struct {
	Config *jwt.Config
	PK     *rsa.PrivateKey
	ProjID string
}

func (c *certificate) AccessToken(ctx context.Context) (string, time.Time, error) {
	source := c.Config.TokenSource(ctx)
	token, err := source.Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return token.AccessToken, token.Expiry, nil
}

func (c *certificate) ServiceAcctEmail() string {
	return c.Config.Email
}

func (c *certificate) ProjectID() string {
	return c.ProjID
}

// NewCert creates a new Credential from the provided service account certificate JSON.
//
// Service account certificate JSON files (also known as service account private keys) can be
// downloaded from the "Settings" tab of a Firebase project in the Firebase console
// (https://console.firebase.google.com).
//
// NewCert consumes all the content available in the provided service account certificate
// Reader. It is safe to close the Reader once NewCert has returned.
func NewCert(r io.Reader) (Credential, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	config, err := google.JWTConfigFromJSON(b, firebaseScopes...)
	if err != nil {
		return nil, err
	}

	if config.Email == "" {
		return nil, errors.New("'client_email' field not available")
	} else if config.TokenURL == "" {
		return nil, errors.New("'token_uri' field not available")
	} else if config.PrivateKey == nil {
		return nil, errors.New("'private_key' field not available")
	} else if config.PrivateKeyID == "" {
		return nil, errors.New("'private_key_id' field not available")
	}

	s := &struct {
		ProjectID string `json:"project_id"`
	}{}
	if err = json.Unmarshal(b, s); err != nil {
		return nil, err
	} else if s.ProjectID == "" {
		return nil, errors.New("'project_id' field not available")
	}

	pk, err := parseKey(config.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &certificate{Config: config, PK: pk, ProjID: s.ProjectID}, nil
}

type refreshToken struct {
	Config *oauth2.Config
	Token  *oauth2.Token
}

func (c *refreshToken) AccessToken(ctx context.Context) (string, time.Time, error) {
	source := c.Config.TokenSource(ctx, c.Token)
	token, err := source.Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return token.AccessToken, token.Expiry, nil
}

// NewRefreshToken creates a new Credential from the provided refresh token JSON.
//
// The refresh token JSON must contain refresh_token, client_id and client_secret fields in
// addition to a type field set to the value "authorized_user". These files are usually created
// and managed by the Google Cloud SDK.
func NewRefreshToken(r io.Reader) (Credential, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	rt := &struct {
		Type         string `json:"type"`
		ClientSecret string `json:"client_secret"`
		ClientID     string `json:"client_id"`
		RefreshToken string `json:"refresh_token"`
	}{}
	if err := json.Unmarshal(b, rt); err != nil {
		return nil, err
	}
	if rt.Type != "authorized_user" {
		return nil, fmt.Errorf("'type' field is '%s' (expected 'authorized_user')", rt.Type)
	} else if rt.ClientID == "" {
		return nil, fmt.Errorf("'client_id' field not available")
	} else if rt.ClientSecret == "" {
		return nil, fmt.Errorf("'client_secret' field not available")
	} else if rt.RefreshToken == "" {
		return nil, fmt.Errorf("'refresh_token' field not available")
	}
	config := &oauth2.Config{
		ClientID:     rt.ClientID,
		ClientSecret: rt.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       firebaseScopes,
	}
	token := &oauth2.Token{
		RefreshToken: rt.RefreshToken,
	}
	return &refreshToken{Config: config, Token: token}, nil
}

type appDefault struct {
	Credential *google.Credentials
}

func (c *appDefault) AccessToken(ctx context.Context) (string, time.Time, error) {
	token, err := c.Credential.TokenSource.Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return token.AccessToken, token.Expiry, nil
}

func (c *appDefault) ProjectID() string {
	return c.Credential.ProjectID
}

// NewAppDefault creates a new Credential based on the runtime environment.
//
// NewAppDefault inspects the runtime environment to fetch a valid set of authentication
// credentials. On Cloud Functions and Cloud Run this resolves to the metadata server
// credentials of the function's runtime service account.
func NewAppDefault(ctx context.Context) (Credential, error) {
	cred, err := google.FindDefaultCredentials(ctx, firebaseScopes...)
	if err != nil {
		return nil, err
	}
	return &appDefault{Credential: cred}, nil
}

func parseKey(key []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(key)
	if block != nil {
		key = block.Bytes
	}
	parsedKey, err := x509.ParsePKCS8PrivateKey(key)
	if err != nil {
		parsedKey, err = x509.ParsePKCS1PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("private key should be a PEM or plain PKSC1 or PKCS8; parse error: %v", err)
		}
	}
	parsed, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an RSA key")
	}
	return parsed, nil
}
