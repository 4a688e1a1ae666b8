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

package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/firebase/firebase-functions-go/internal"
	"github.com/golang-jwt/jwt/v4"
)

type tokenVerifier struct {
	keySource keySource
	emulated  bool
}

func (tv *tokenVerifier) verify(ctx context.Context, idToken, projectID string, now time.Time) (*Token, error) {
	claims, tok, err := parseUnverified(idToken)
	if err != nil {
		return nil, err
	}
	if !tv.emulated {
		if err := checkHeader(tok); err != nil {
			return nil, err
		}
	}

	t, err := newToken(claims)
	if err != nil {
		return nil, err
	}
	if err := checkClaims(t, projectID, now); err != nil {
		return nil, err
	}
	if tv.emulated {
		return t, nil
	}
	if err := tv.verifySignature(ctx, idToken, tok.Header["kid"].(string)); err != nil {
		return nil, err
	}
	return t, nil
}

func checkHeader(tok *jwt.Token) error {
	if alg, _ := tok.Header["alg"].(string); alg != jwt.SigningMethodRS256.Alg() {
		return fmt.Errorf("%w: ID token has invalid algorithm; expected %q but got %q",
			ErrIDTokenInvalid, jwt.SigningMethodRS256.Alg(), alg)
	}
	if kid, _ := tok.Header["kid"].(string); kid == "" {
		return fmt.Errorf("%w: ID token has no 'kid' header", ErrIDTokenInvalid)
	}
	return nil
}

func (tv *tokenVerifier) verifySignature(ctx context.Context, idToken, kid string) error {
	segments := strings.Split(idToken, ".")
	keys, err := tv.keySource.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Kid != kid {
			continue
		}
		if err := jwt.SigningMethodRS256.Verify(segments[0]+"."+segments[1], segments[2], k.Key); err != nil {
			return fmt.Errorf("%w: failed to verify token signature: %v", ErrIDTokenInvalid, err)
		}
		return nil
	}
	return fmt.Errorf("%w: no public key found for kid %q", ErrIDTokenInvalid, kid)
}

// keySource is used to obtain a set of public keys, which can be used to verify cryptographic
// signatures.
type keySource interface {
	Keys(context.Context) ([]*publicKey, error)
}

// publicKey represents a parsed RSA public key along with its unique key ID.
type publicKey struct {
	Kid string
	Key *rsa.PublicKey
}

// httpKeySource fetches RSA public keys from a remote HTTP server, and caches them in
// memory. It also handles cache invalidation and refresh based on the standard HTTP
// cache-control headers.
type httpKeySource struct {
	KeyURI     string
	HTTPClient *internal.HTTPClient
	Version    string
	CachedKeys []*publicKey
	ExpiryTime time.Time
	Clock      internal.Clock
	Mutex      *sync.Mutex
}

func newHTTPKeySource(uri string, hc *internal.HTTPClient) *httpKeySource {
	return &httpKeySource{
		KeyURI:     uri,
		HTTPClient: hc,
		Clock:      &internal.SystemClock{},
		Mutex:      &sync.Mutex{},
	}
}

// Keys returns the RSA Public Keys hosted at this key source's URI. Refreshes the data if
// the cache is stale.
func (k *httpKeySource) Keys(ctx context.Context) ([]*publicKey, error) {
	k.Mutex.Lock()
	defer k.Mutex.Unlock()
	if len(k.CachedKeys) == 0 || k.hasExpired() {
		err := k.refreshKeys(ctx)
		if err != nil && len(k.CachedKeys) == 0 {
			return nil, err
		}
	}
	return k.CachedKeys, nil
}

// hasExpired indicates whether the cache has expired.
func (k *httpKeySource) hasExpired() bool {
	return k.Clock.Now().After(k.ExpiryTime)
}

func (k *httpKeySource) refreshKeys(ctx context.Context) error {
	k.CachedKeys = nil
	resp, err := k.HTTPClient.Do(ctx, &internal.Request{
		Method: http.MethodGet,
		URL:    k.KeyURI,
		Opts: []internal.HTTPOption{
			internal.WithHeader("X-Client-Version", fmt.Sprintf("Go/Functions/%s", k.Version)),
		},
	})
	if err != nil {
		return err
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		return fmt.Errorf("retrieving public keys: %w", err)
	}

	newKeys, err := parsePublicKeys(resp.Body)
	if err != nil {
		return err
	}
	maxAge, err := findMaxAge(resp.Header)
	if err != nil {
		return err
	}
	k.CachedKeys = append([]*publicKey(nil), newKeys...)
	k.ExpiryTime = k.Clock.Now().Add(*maxAge)
	return nil
}

func findMaxAge(header http.Header) (*time.Duration, error) {
	cc := header.Get("cache-control")
	for _, value := range strings.Split(cc, ",") {
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "max-age=") {
			sep := strings.Index(value, "=")
			seconds, err := strconv.ParseInt(value[sep+1:], 10, 64)
			if err != nil {
				return nil, err
			}
			duration := time.Duration(seconds) * time.Second
			return &duration, nil
		}
	}
	return nil, errors.New("could not find expiry time from HTTP headers")
}

func parsePublicKeys(keys []byte) ([]*publicKey, error) {
	m := make(map[string]string)
	if err := json.Unmarshal(keys, &m); err != nil {
		return nil, err
	}

	var result []*publicKey
	for kid, key := range m {
		pubKey, err := parsePublicKey(kid, []byte(key))
		if err != nil {
			return nil, err
		}
		result = append(result, pubKey)
	}
	return result, nil
}

func parsePublicKey(kid string, key []byte) (*publicKey, error) {
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("failed to decode the certificate as PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate is not a RSA key")
	}
	return &publicKey{kid, pk}, nil
}
