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

package internal

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/transport"
)

var clock Clock = &SystemClock{}

// RetryConfig specifies how the HTTPClient should retry failing HTTP requests.
//
// A request is never retried more than MaxRetries times. If CheckForRetry is nil, all network
// errors, and all 400+ HTTP status codes are retried. If an HTTP error response contains the
// Retry-After header, it is always respected. Otherwise retries are delayed with exponential
// backoff. Set ExpBackoffFactor to 0 to disable exponential backoff, and retry immediately
// after each error.
type RetryConfig struct {
	MaxRetries       int
	CheckForRetry    RetryCondition
	ExpBackoffFactor float64
	MaxDelay         *time.Duration
}

// RetryCondition determines if an HTTP request should be retried depending on its last outcome.
type RetryCondition func(resp *http.Response, networkErr error) bool

func (rc *RetryConfig) retryEligible(retryAttempts int, resp *http.Response, err error) bool {
	if retryAttempts >= rc.MaxRetries {
		return false
	}
	if rc.CheckForRetry == nil {
		return err != nil || resp.StatusCode >= 400
	}
	return rc.CheckForRetry(resp, err)
}

func (rc *RetryConfig) retryDelay(retryAttempts int, resp *http.Response) time.Duration {
	serverRecommendedDelay := parseRetryAfterHeader(resp)
	clientEstimatedDelay := estimateDelayForAttempt(retryAttempts, rc.ExpBackoffFactor)
	delay := clientEstimatedDelay
	if serverRecommendedDelay > delay {
		delay = serverRecommendedDelay
	}
	if rc.MaxDelay != nil && delay > *rc.MaxDelay {
		delay = *rc.MaxDelay
	}
	return delay
}

func parseRetryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfterHeader := resp.Header.Get("retry-after")
	if retryAfterHeader == "" {
		return 0
	}
	if delayInSeconds, err := strconv.ParseInt(retryAfterHeader, 10, 64); err == nil {
		return time.Duration(delayInSeconds) * time.Second
	}
	if timestamp, err := http.ParseTime(retryAfterHeader); err == nil {
		return timestamp.Sub(clock.Now())
	}
	return 0
}

func estimateDelayForAttempt(retryAttempts int, factor float64) time.Duration {
	if retryAttempts == 0 {
		return 0
	}
	delayInSeconds := math.Pow(2, float64(retryAttempts)) * factor
	return time.Duration(delayInSeconds * float64(time.Second))
}

// defaultRetryPolicy retries HTTP requests on all low-level network errors, as well as HTTP 500
// and 503 responses.
func defaultRetryPolicy(resp *http.Response, err error) bool {
	return err != nil || resp.StatusCode == http.StatusInternalServerError ||
		resp.StatusCode == http.StatusServiceUnavailable
}

// DefaultRetryConfig returns the retry policy used for fetching public key material. It
// retries up to 4 times with exponential backoff, never waiting more than 30 seconds.
func DefaultRetryConfig() *RetryConfig {
	maxDelay := 30 * time.Second
	return &RetryConfig{
		MaxRetries:       4,
		CheckForRetry:    defaultRetryPolicy,
		ExpBackoffFactor: 0.5,
		MaxDelay:         &maxDelay,
	}
}

// HTTPClient is a convenient API to make HTTP calls.
//
// This API handles some of the repetitive tasks involved in making HTTP calls. It provides a
// mechanism to set headers on outgoing requests, while enforcing that an explicit context is
// used per request. Responses returned by HTTPClient are fully read into memory, and the client
// can be configured to retry failing requests.
type HTTPClient struct {
	Client      *http.Client
	RetryConfig *RetryConfig
}

// NewHTTPClient creates a new HTTPClient using the provided client options and the default
// RetryConfig.
func NewHTTPClient(ctx context.Context, opts ...option.ClientOption) (*HTTPClient, error) {
	hc, _, err := transport.NewHTTPClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		Client:      hc,
		RetryConfig: DefaultRetryConfig(),
	}, nil
}

// Do executes the given Request, and returns a Response.
//
// If a RetryConfig is specified on the client, Do attempts to retry failing requests. Waiting
// between attempts is abandoned as soon as the context is done.
func (c *HTTPClient) Do(ctx context.Context, r *Request) (*Response, error) {
	retryAttempt := 0
	for {
		req, err := r.buildHTTPRequest(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.Client.Do(req)
		if c.RetryConfig != nil && c.RetryConfig.retryEligible(retryAttempt, resp, err) {
			if resp != nil {
				resp.Body.Close()
			}
			if err := c.delayNextAttempt(ctx, resp, retryAttempt); err != nil {
				return nil, err
			}
			retryAttempt++
			continue
		}
		if err != nil {
			return nil, err
		}
		return newResponse(resp)
	}
}

func (c *HTTPClient) delayNextAttempt(ctx context.Context, resp *http.Response, retryAttempt int) error {
	delay := c.RetryConfig.retryDelay(retryAttempt, resp)
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Request contains all the parameters required to construct an outgoing HTTP request.
type Request struct {
	Method string
	URL    string
	Opts   []HTTPOption
}

func (r *Request) buildHTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, nil)
	if err != nil {
		return nil, err
	}
	for _, o := range r.Opts {
		o(req)
	}
	return req, nil
}

// Response contains information extracted from an HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func newResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: resp.StatusCode,
		Body:   b,
		Header: resp.Header,
	}, nil
}

// CheckStatus checks whether the Response status code has the given HTTP status code.
//
// Returns an error including the full response body if the status code does not match.
func (r *Response) CheckStatus(want int) error {
	if r.Status == want {
		return nil
	}
	return fmt.Errorf("http error status: %d; reason: %s", r.Status, string(r.Body))
}

// HTTPOption is an additional parameter that can be specified to customize an outgoing request.
type HTTPOption func(*http.Request)

// WithHeader creates an HTTPOption that will set an HTTP header on the request.
func WithHeader(key, value string) HTTPOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}
