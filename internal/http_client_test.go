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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/option"
)

var testRetryConfig = RetryConfig{
	MaxRetries:       4,
	CheckForRetry:    defaultRetryPolicy,
	ExpBackoffFactor: 0.5,
}

var tokenSourceOpt = option.WithTokenSource(&MockTokenSource{AccessToken: "test"})

func TestHTTPClient(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Method = %q; want = %q", r.Method, http.MethodGet)
		}
		if h := r.Header.Get("X-Test"); h != "value" {
			t.Errorf("Header(X-Test) = %q; want = %q", h, "value")
		}
		w.Header().Set("Cache-Control", "max-age=100")
		w.Write([]byte("body"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := &HTTPClient{Client: http.DefaultClient}
	resp, err := client.Do(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    server.URL,
		Opts:   []HTTPOption{WithHeader("X-Test", "value")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		t.Errorf("CheckStatus() = %v; want nil", err)
	}
	if err := resp.CheckStatus(http.StatusCreated); err == nil {
		t.Errorf("CheckStatus() = nil; want error")
	}
	if string(resp.Body) != "body" {
		t.Errorf("Body = %q; want = %q", string(resp.Body), "body")
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "max-age=100" {
		t.Errorf("Header(Cache-Control) = %q; want = %q", cc, "max-age=100")
	}
}

func TestContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := &HTTPClient{Client: http.DefaultClient}
	ctx, cancel := context.WithCancel(context.Background())
	resp, err := client.Do(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.CheckStatus(http.StatusOK); err != nil {
		t.Fatal(err)
	}

	cancel()
	resp, err = client.Do(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	if resp != nil || err == nil {
		t.Errorf("Do() = (%v; %v); want = (nil, error)", resp, err)
	}
}

func TestCheckStatusError(t *testing.T) {
	resp := &Response{Status: http.StatusInternalServerError, Body: []byte("test error")}
	want := "http error status: 500; reason: test error"
	if err := resp.CheckStatus(http.StatusOK); err == nil || err.Error() != want {
		t.Errorf("CheckStatus() = %v; want = %q", err, want)
	}
}

func TestInvalidURL(t *testing.T) {
	req := &Request{
		Method: http.MethodGet,
		URL:    "http://localhost:250/mock.url",
	}
	client := &HTTPClient{Client: http.DefaultClient}
	if _, err := client.Do(context.Background(), req); err == nil {
		t.Errorf("Do() = nil; want error")
	}
}

func TestNetworkErrorRetryEligible(t *testing.T) {
	err := errors.New("network error")
	maxRetries := testRetryConfig.MaxRetries
	for i := 0; i < maxRetries; i++ {
		if eligible := testRetryConfig.retryEligible(i, nil, err); !eligible {
			t.Errorf("retryEligible(%d, nil, err) = false; want = true", i)
		}
	}
	if eligible := testRetryConfig.retryEligible(maxRetries, nil, err); eligible {
		t.Errorf("retryEligible(%d, nil, err) = true; want = false", maxRetries)
	}
}

func TestHttpErrorRetryEligible(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusServiceUnavailable}
	maxRetries := testRetryConfig.MaxRetries
	for i := 0; i < maxRetries; i++ {
		if eligible := testRetryConfig.retryEligible(i, resp, nil); !eligible {
			t.Errorf("retryEligible(%d, 503, nil) = false; want = true", i)
		}
	}
	if eligible := testRetryConfig.retryEligible(maxRetries, resp, nil); eligible {
		t.Errorf("retryEligible(%d, 503, nil) = true; want = false", maxRetries)
	}
}

func TestNilCheckForRetry(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 1000}
	if eligible := rc.retryEligible(999, nil, errors.New("network error")); !eligible {
		t.Errorf("retryEligible(999, nil, err) = false; want = true")
	}
	for i := 200; i < 600; i++ {
		resp := &http.Response{StatusCode: i}
		want := i >= 400
		if eligible := rc.retryEligible(i, resp, nil); eligible != want {
			t.Errorf("retryEligible(%d, %d, nil) = %v; want = %v", i, i, eligible, want)
		}
	}
}

func TestRetryAfterHeaderInSecondsFormat(t *testing.T) {
	header := make(http.Header)
	header.Add("retry-after", "30")
	resp := &http.Response{StatusCode: http.StatusServiceUnavailable, Header: header}
	for i := 0; i < 5; i++ {
		if delay := testRetryConfig.retryDelay(i, resp); delay != 30*time.Second {
			t.Errorf("retryDelay = %f s; want = 30.0 s", delay.Seconds())
		}
	}
}

func TestRetryAfterHeaderInTimestampFormat(t *testing.T) {
	now := time.Now()
	header := make(http.Header)
	header.Add("retry-after", now.Add(60*time.Second).UTC().Format(http.TimeFormat))
	resp := &http.Response{StatusCode: http.StatusServiceUnavailable, Header: header}
	clock = &MockClock{now}
	defer func() { clock = &SystemClock{} }()
	for i := 0; i < 5; i++ {
		delay := testRetryConfig.retryDelay(i, resp)
		// HTTP timestamp format only has seconds precision.
		if delay < 59*time.Second || delay > 61*time.Second {
			t.Errorf("retryDelay = %f s; want = ~60.0 s", delay.Seconds())
		}
	}
}

func TestRetryDelayExponentialBackoff(t *testing.T) {
	want := []int{0, 1, 2, 4, 8}
	for i := 0; i < 5; i++ {
		if delay := testRetryConfig.retryDelay(i, nil); delay != time.Duration(want[i])*time.Second {
			t.Errorf("retryDelay = %f s; want = %d.0 s", delay.Seconds(), want[i])
		}
	}
}

func TestRetryDelayCappedByMaxDelay(t *testing.T) {
	rc := DefaultRetryConfig()
	rc.ExpBackoffFactor = 10
	if delay := rc.retryDelay(4, nil); delay != 30*time.Second {
		t.Errorf("retryDelay = %f s; want = 30.0 s", delay.Seconds())
	}
}

func TestRetryDelayNoExponentialBackoff(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 4}
	for i := 0; i < 5; i++ {
		if delay := rc.retryDelay(i, nil); delay != 0 {
			t.Errorf("retryDelay = %f s; want = 0.0 s", delay.Seconds())
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	client, err := NewHTTPClient(context.Background(), tokenSourceOpt)
	if err != nil {
		t.Fatal(err)
	}
	got := client.RetryConfig
	if got.MaxRetries != 4 || got.ExpBackoffFactor != 0.5 || got.CheckForRetry == nil {
		t.Errorf("NewHTTPClient().RetryConfig = %v; want default", *got)
	}
}

func TestRetryOnHTTPErrors(t *testing.T) {
	var status int
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(status)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := &HTTPClient{Client: http.DefaultClient, RetryConfig: DefaultRetryConfig()}
	client.RetryConfig.ExpBackoffFactor = 0
	for _, status = range []int{http.StatusInternalServerError, http.StatusServiceUnavailable} {
		requests = 0
		resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		if err := resp.CheckStatus(status); err != nil {
			t.Errorf("CheckStatus() = %q; want = nil", err.Error())
		}
		if requests != 5 {
			t.Errorf("Total requests = %d; want = %d", requests, 5)
		}
	}
}

func TestNoRetryOnNotFound(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := &HTTPClient{Client: http.DefaultClient, RetryConfig: DefaultRetryConfig()}
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.CheckStatus(http.StatusNotFound); err != nil {
		t.Errorf("CheckStatus() = %q; want = nil", err.Error())
	}
	if requests != 1 {
		t.Errorf("Total requests = %d; want = %d", requests, 1)
	}
}

func TestRetryAbandonedOnCancel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	rc := DefaultRetryConfig()
	rc.ExpBackoffFactor = 60
	client := &HTTPClient{Client: http.DefaultClient, RetryConfig: rc}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Do(ctx, &Request{Method: http.MethodGet, URL: server.URL}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() = %v; want = %v", err, context.DeadlineExceeded)
	}
}
