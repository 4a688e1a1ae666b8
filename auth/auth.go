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

// Package auth verifies Firebase Auth ID tokens presented to callable functions.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/firebase/firebase-functions-go/internal"
	"github.com/golang-jwt/jwt/v4"
)

const (
	idTokenCertURL      = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	idTokenIssuerPrefix = "https://securetoken.google.com/"
	emulatorHostEnvVar  = "FIREBASE_AUTH_EMULATOR_HOST"
	clockSkewSeconds    = 300
	maxUIDLength        = 128
)

var (
	// ErrIDTokenInvalid is returned when an ID token is malformed or fails verification.
	ErrIDTokenInvalid = errors.New("invalid ID token")

	// ErrIDTokenExpired is returned when an ID token has expired.
	ErrIDTokenExpired = errors.New("ID token has expired")

	// ErrProjectIDMissing is returned when no project ID is available to check the audience.
	ErrProjectIDMissing = errors.New("project ID is required to verify ID tokens")
)

// Token represents a decoded Firebase ID token.
//
// Token provides typed accessors to the common JWT fields such as Audience (aud) and Expires
// (exp). Additionally it provides a UID field, which indicates the user ID of the account to
// which this token belongs. Any additional JWT claims can be accessed via the Claims map of
// Token.
type Token struct {
	AuthTime int64                  `json:"auth_time"`
	Issuer   string                 `json:"iss"`
	Audience string                 `json:"aud"`
	Expires  int64                  `json:"exp"`
	IssuedAt int64                  `json:"iat"`
	Subject  string                 `json:"sub,omitempty"`
	UID      string                 `json:"uid,omitempty"`
	Firebase FirebaseInfo           `json:"firebase"`
	Claims   map[string]interface{} `json:"-"`
}

// FirebaseInfo represents the information about the sign-in event, including which auth
// provider was used and provider-specific identity details.
type FirebaseInfo struct {
	SignInProvider string                 `json:"sign_in_provider"`
	Tenant         string                 `json:"tenant"`
	Identities     map[string]interface{} `json:"identities"`
}

// Client verifies Firebase ID tokens.
type Client struct {
	projectID string
	verifier  *tokenVerifier
	clock     internal.Clock
}

// NewClient creates a new instance of the ID token verification client.
//
// This function can only be invoked from within the SDK. Client applications should access
// the verifier through App.Auth().
func NewClient(ctx context.Context, conf *internal.AuthConfig) (*Client, error) {
	hc, err := internal.NewHTTPClient(ctx, conf.Opts...)
	if err != nil {
		return nil, err
	}
	ks := newHTTPKeySource(idTokenCertURL, hc)
	ks.Version = conf.Version
	return &Client{
		projectID: conf.ProjectID,
		verifier: &tokenVerifier{
			keySource: ks,
			emulated:  os.Getenv(emulatorHostEnvVar) != "",
		},
		clock: &internal.SystemClock{},
	}, nil
}

// VerifyIDToken verifies the signature and payload of the provided ID token.
//
// VerifyIDToken accepts a signed JWT token string, and verifies that it is current, issued for
// the correct Firebase project, and signed by the Google Firebase services in the cloud. It
// returns a Token containing the decoded claims in the input JWT. When the Auth emulator is
// configured, signatures are not checked.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	if c.projectID == "" {
		return nil, ErrProjectIDMissing
	}
	return c.verifier.verify(ctx, idToken, c.projectID, c.clock.Now())
}

// UnsafeDecode decodes the payload of an ID token without verifying its signature or claims.
//
// It backs the skipTokenVerification debug feature, and must never be used to authorize
// production traffic.
func UnsafeDecode(idToken string) (*Token, error) {
	claims, _, err := parseUnverified(idToken)
	if err != nil {
		return nil, err
	}
	return newToken(claims)
}

func parseUnverified(idToken string) (jwt.MapClaims, *jwt.Token, error) {
	if idToken == "" {
		return nil, nil, fmt.Errorf("%w: ID token must be a non-empty string", ErrIDTokenInvalid)
	}
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(idToken, claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	return claims, tok, nil
}

func newToken(claims jwt.MapClaims) (*Token, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	t.UID = t.Subject
	t.Claims = make(map[string]interface{})
	for k, v := range claims {
		t.Claims[k] = v
	}
	return &t, nil
}

func checkClaims(t *Token, projectID string, now time.Time) error {
	issuer := idTokenIssuerPrefix + projectID
	projectIDMsg := "make sure the ID token comes from the same Firebase project as the " +
		"function"
	nowSec := now.Unix()
	switch {
	case t.Audience != projectID:
		return fmt.Errorf("%w: ID token has invalid 'aud' (audience) claim; expected %q but got %q; %s",
			ErrIDTokenInvalid, projectID, t.Audience, projectIDMsg)
	case t.Issuer != issuer:
		return fmt.Errorf("%w: ID token has invalid 'iss' (issuer) claim; expected %q but got %q; %s",
			ErrIDTokenInvalid, issuer, t.Issuer, projectIDMsg)
	case t.Subject == "":
		return fmt.Errorf("%w: ID token has empty 'sub' (subject) claim", ErrIDTokenInvalid)
	case len(t.Subject) > maxUIDLength:
		return fmt.Errorf("%w: ID token has a 'sub' (subject) claim longer than %d characters",
			ErrIDTokenInvalid, maxUIDLength)
	case t.IssuedAt-clockSkewSeconds > nowSec:
		return fmt.Errorf("%w: ID token issued at future timestamp: %d", ErrIDTokenInvalid, t.IssuedAt)
	case t.AuthTime-clockSkewSeconds > nowSec:
		return fmt.Errorf("%w: ID token has future 'auth_time': %d", ErrIDTokenInvalid, t.AuthTime)
	case t.Expires+clockSkewSeconds < nowSec:
		return fmt.Errorf("%w: ID token expired at %d", ErrIDTokenExpired, t.Expires)
	}
	return nil
}
