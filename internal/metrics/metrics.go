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

// Package metrics holds the Prometheus collectors shared by callable and event functions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every collector of this package is registered with.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	callableRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callable_requests_total",
			Help: "Total number of callable function requests by response status",
		},
		[]string{"function", "status"},
	)

	callableDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callable_request_duration_seconds",
			Help:    "Callable function latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"function"},
	)

	tokenVerifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callable_token_verifications_total",
			Help: "Total number of callable token verifications by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	eventDispatches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_dispatches_total",
			Help: "Total number of CloudEvents dispatched to event functions",
		},
		[]string{"event_type", "status"},
	)

	eventDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_dispatch_duration_seconds",
			Help:    "Event handler execution time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 540},
		},
		[]string{"event_type"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the collectors of Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordCallable counts one callable request. status is the canonical error status, or "OK".
func RecordCallable(function, status string, duration time.Duration) {
	callableRequests.WithLabelValues(function, status).Inc()
	callableDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// RecordTokenVerification counts one token check. kind is "auth" or "app".
func RecordTokenVerification(kind, status string) {
	tokenVerifications.WithLabelValues(kind, status).Inc()
}

// RecordEventDispatch counts one event delivered to a handler.
func RecordEventDispatch(eventType string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	eventDispatches.WithLabelValues(eventType, status).Inc()
	eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}
