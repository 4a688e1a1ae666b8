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

// Package appcheck verifies Firebase App Check tokens.
package appcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/firebase/firebase-functions-go/internal"
	"github.com/golang-jwt/jwt/v4"
)

// JWKSUrl is the URL of the JWKS used to verify App Check tokens.
var JWKSUrl = "https://firebaseappcheck.googleapis.com/v1beta/jwks"

const appCheckIssuer = "https://firebaseappcheck.googleapis.com/"

var (
	// ErrIncorrectAlgorithm is returned when the token is signed with a non-RSA256 algorithm.
	ErrIncorrectAlgorithm = errors.New("token has incorrect algorithm")
	// ErrTokenType is returned when the token is not a JWT.
	ErrTokenType = errors.New("token has incorrect type")
	// ErrTokenClaims is returned when the token claims cannot be decoded.
	ErrTokenClaims = errors.New("token has incorrect claims")
	// ErrTokenAudience is returned when the token audience does not match the current project.
	ErrTokenAudience = errors.New("token has incorrect audience")
	// ErrTokenIssuer is returned when the token issuer does not match Firebase's App Check service.
	ErrTokenIssuer = errors.New("token has incorrect issuer")
	// ErrTokenSubject is returned when the token subject is empty or missing.
	ErrTokenSubject = errors.New("token has empty or missing subject")
)

// DecodedAppCheckToken represents a verified App Check token.
//
// DecodedAppCheckToken provides typed accessors to the common JWT fields such as Audience (aud)
// and ExpiresAt (exp). Additionally it provides an AppID field, which indicates the application ID
// to which this token belongs. Any additional JWT claims can be accessed via the Claims map of
// DecodedAppCheckToken.
type DecodedAppCheckToken struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	AppID     string
	Claims    map[string]interface{}
}

// Client is the interface for the Firebase App Check service.
type Client struct {
	projectID     string
	projectNumber string
	jwks          *keyfunc.JWKS
}

// NewClient creates a new instance of the Firebase App Check Client.
//
// This function can only be invoked from within the SDK. Client applications should access the
// App Check service through App.AppCheck(). The JWKS is fetched once here and refreshed in the
// background whenever an unknown key ID is seen.
func NewClient(ctx context.Context, conf *internal.AppCheckConfig) (*Client, error) {
	url := conf.JWKSURL
	if url == "" {
		url = JWKSUrl
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch App Check JWKS: %w", err)
	}

	return &Client{
		projectID:     conf.ProjectID,
		projectNumber: conf.ProjectNumber,
		jwks:          jwks,
	}, nil
}

// VerifyToken verifies the given App Check token.
//
// VerifyToken considers an App Check token string to be valid if all the following conditions
// are met:
//   - The token string is a valid RS256 JWT.
//   - The JWT contains valid issuer (iss) and audience (aud) claims that match the issuerPrefix
//     and projectID of the tokenVerifier.
//   - The JWT contains a valid subject (sub) claim.
//   - The JWT is not expired, and it has been issued some time in the past.
//   - The JWT is signed by a Firebase App Check backend server as determined by the keySource.
//
// If any of the above conditions are not met, an error is returned. Otherwise a pointer to a
// decoded App Check token is returned.
func (c *Client) VerifyToken(token string) (*DecodedAppCheckToken, error) {
	// References for checks:
	// https://firebase.googleblog.com/2021/10/protecting-backends-with-app-check.html
	// https://github.com/firebase/firebase-admin-node/blob/master/src/app-check/token-verifier.ts#L106

	// The standard JWT parser also validates the expiration of the token
	// so we do not need dedicated code for that.
	decodedToken, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if t.Header["alg"] != "RS256" {
			return nil, ErrIncorrectAlgorithm
		}
		if t.Header["typ"] != "JWT" {
			return nil, ErrTokenType
		}
		return c.jwks.Keyfunc(t)
	})
	if err != nil {
		return nil, err
	}

	claims, ok := decodedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenClaims
	}

	appCheckToken, err := newDecodedToken(claims)
	if err != nil {
		return nil, err
	}
	if !c.audienceMatches(appCheckToken.Audience) {
		return nil, ErrTokenAudience
	}
	if !strings.HasPrefix(appCheckToken.Issuer, appCheckIssuer) {
		return nil, ErrTokenIssuer
	}
	if appCheckToken.Subject == "" {
		return nil, ErrTokenSubject
	}
	return appCheckToken, nil
}

func (c *Client) audienceMatches(aud []string) bool {
	for _, v := range aud {
		if c.projectID != "" && v == "projects/"+c.projectID {
			return true
		}
		if c.projectNumber != "" && v == "projects/"+c.projectNumber {
			return true
		}
	}
	return false
}

// UnsafeDecode decodes an App Check token without verifying its signature or claims.
//
// It backs the skipTokenVerification debug feature, and must never be used to authorize
// production traffic.
func UnsafeDecode(token string) (*DecodedAppCheckToken, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return newDecodedToken(claims)
}

func newDecodedToken(claims jwt.MapClaims) (*DecodedAppCheckToken, error) {
	t := &DecodedAppCheckToken{
		Claims: map[string]interface{}{},
	}
	for k, v := range claims {
		switch k {
		case "iss":
			t.Issuer, _ = v.(string)
		case "sub":
			t.Subject, _ = v.(string)
			t.AppID = t.Subject
		case "aud":
			aud, err := parseAudience(v)
			if err != nil {
				return nil, err
			}
			t.Audience = aud
		case "exp":
			t.ExpiresAt = unixTime(v)
		case "iat":
			t.IssuedAt = unixTime(v)
		default:
			t.Claims[k] = v
		}
	}
	return t, nil
}

func parseAudience(v interface{}) ([]string, error) {
	switch aud := v.(type) {
	case string:
		return []string{aud}, nil
	case []interface{}:
		result := make([]string, 0, len(aud))
		for _, a := range aud {
			s, ok := a.(string)
			if !ok {
				return nil, ErrTokenClaims
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, ErrTokenAudience
	}
}

func unixTime(v interface{}) time.Time {
	if f, ok := v.(float64); ok {
		return time.Unix(int64(f), 0).UTC()
	}
	return time.Time{}
}
