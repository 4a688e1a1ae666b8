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

package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/firebase/firebase-functions-go/internal/metrics"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	structuredContentType = "application/cloudevents+json"
	binaryHeaderPrefix    = "Ce-"
	maxEventBytes         = 10 << 20
)

// CloudEvent is an event delivered to an event function. Data holds the typed payload; Params
// holds the values captured by the function's eventFilterPathPatterns.
type CloudEvent[T any] struct {
	SpecVersion string            `json:"specversion"`
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	Subject     string            `json:"subject,omitempty"`
	Type        string            `json:"type"`
	Time        time.Time         `json:"time"`
	Data        T                 `json:"data"`
	Params      map[string]string `json:"params,omitempty"`
	Extensions  map[string]string `json:"-"`
}

// RawEvent is a CloudEvent whose payload has not been decoded yet.
type RawEvent = CloudEvent[json.RawMessage]

// DataConstructor converts the raw event envelope into the typed event passed to a handler.
type DataConstructor[T any] func(raw *RawEvent) (*CloudEvent[T], error)

// EventHandler handles one event. A returned error marks the delivery as failed, and the
// hosting runtime applies the retry policy of the function.
type EventHandler[T any] func(ctx context.Context, event *CloudEvent[T]) error

// EventOptions configures an event function.
type EventOptions struct {
	GlobalOptions

	// EventType is the CloudEvent type the function subscribes to.
	EventType string
	// EventFilters are exact-match filters on event attributes.
	EventFilters map[string]string
	// EventFilterPathPatterns are path patterns such as "users/{uid}" matched against the
	// event attribute of the same name. Captured segments populate CloudEvent.Params.
	EventFilterPathPatterns map[string]string
}

// EventFunction is a registered event handler. It implements http.Handler for CloudEvents
// delivered over HTTP.
type EventFunction[T any] struct {
	opts      EventOptions
	construct DataConstructor[T]
	handler   EventHandler[T]
	endpoint  ManifestEndpoint
	patterns  map[string]pathPattern
}

// OnEvent registers handler for the events described by opts.
//
// construct turns the raw envelope into the typed event; when nil the data field is
// unmarshalled from JSON into T. The manifest entry is built once, here, from the options set
// with SetGlobalOptions and opts.
func OnEvent[T any](opts *EventOptions, construct DataConstructor[T], handler EventHandler[T]) *EventFunction[T] {
	if opts == nil {
		opts = &EventOptions{}
	}
	if construct == nil {
		construct = JSONData[T]
	}
	global := GetGlobalOptions()
	ep := BuildEndpoint(&global, &opts.GlobalOptions, opts.EventType, opts.EventFilters)
	patterns := make(map[string]pathPattern, len(opts.EventFilterPathPatterns))
	if len(opts.EventFilterPathPatterns) > 0 {
		ep.EventTrigger.EventFilterPathPatterns = copyLabels(opts.EventFilterPathPatterns)
		for attr, p := range opts.EventFilterPathPatterns {
			patterns[attr] = parsePathPattern(p)
		}
	}
	return &EventFunction[T]{
		opts:      *opts,
		construct: construct,
		handler:   handler,
		endpoint:  ep,
		patterns:  patterns,
	}
}

// JSONData is the default DataConstructor. It unmarshals the data field into T.
func JSONData[T any](raw *RawEvent) (*CloudEvent[T], error) {
	event := &CloudEvent[T]{
		SpecVersion: raw.SpecVersion,
		ID:          raw.ID,
		Source:      raw.Source,
		Subject:     raw.Subject,
		Type:        raw.Type,
		Time:        raw.Time,
		Params:      raw.Params,
		Extensions:  raw.Extensions,
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &event.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
	}
	return event, nil
}

// Endpoint returns a copy of the manifest entry of the function.
func (f *EventFunction[T]) Endpoint() ManifestEndpoint {
	return f.endpoint.Clone()
}

// Validate checks the options of the function against the limits of event handlers.
func (f *EventFunction[T]) Validate() error {
	return f.opts.ValidateEvent()
}

// Run invokes the handler directly with an already typed event.
func (f *EventFunction[T]) Run(ctx context.Context, event *CloudEvent[T]) error {
	return f.handler(ctx, event)
}

// Dispatch passes the raw event through the data constructor and then to the handler. No
// retries happen here.
func (f *EventFunction[T]) Dispatch(ctx context.Context, raw *RawEvent) error {
	start := time.Now()
	err := f.dispatch(ctx, raw)
	metrics.RecordEventDispatch(raw.Type, err, time.Since(start))
	return err
}

func (f *EventFunction[T]) dispatch(ctx context.Context, raw *RawEvent) error {
	if params := f.params(raw); len(params) > 0 {
		merged := make(map[string]string, len(raw.Params)+len(params))
		for k, v := range raw.Params {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		withParams := *raw
		withParams.Params = merged
		raw = &withParams
	}
	event, err := f.construct(raw)
	if err != nil {
		return err
	}
	return f.handler(ctx, event)
}

func (f *EventFunction[T]) params(raw *RawEvent) map[string]string {
	params := make(map[string]string)
	for attr, p := range f.patterns {
		value := raw.Extensions[attr]
		if value == "" {
			value = raw.Subject
		}
		if captured, ok := p.match(value); ok {
			for k, v := range captured {
				params[k] = v
			}
		}
	}
	return params
}

// ServeHTTP accepts a CloudEvent in structured or binary content mode and dispatches it.
// Malformed events are answered with 400, oversized ones with 413, handler failures with 500.
func (f *EventFunction[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.Default().With(zap.String("eventType", f.opts.EventType))
	raw, err := ParseRawEvent(r)
	if err != nil {
		log.Warn("Rejected malformed CloudEvent", zap.Error(err))
		status := http.StatusBadRequest
		if errors.Is(err, ErrEventTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}
	log = log.With(zap.String("eventId", raw.ID))
	if err := f.Dispatch(r.Context(), raw); err != nil {
		log.Error("Event handler failed", zap.Error(err))
		http.Error(w, "event handler failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

var errMissingAttribute = errors.New("missing required CloudEvent attribute")

// ErrEventTooLarge is returned by ParseRawEvent for bodies over 10 MiB.
var ErrEventTooLarge = errors.New("CloudEvent body too large")

// ParseRawEvent reads a CloudEvent from an HTTP request in either structured
// (application/cloudevents+json) or binary (ce-* headers) content mode.
func ParseRawEvent(r *http.Request) (*RawEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxEventBytes {
		return nil, ErrEventTooLarge
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var raw *RawEvent
	if strings.EqualFold(mediaType, structuredContentType) {
		raw, err = parseStructured(body)
	} else {
		raw, err = parseBinary(r.Header, body)
	}
	if err != nil {
		return nil, err
	}
	for name, v := range map[string]string{
		"id":          raw.ID,
		"source":      raw.Source,
		"type":        raw.Type,
		"specversion": raw.SpecVersion,
	} {
		if v == "" {
			return nil, fmt.Errorf("%w: %s", errMissingAttribute, name)
		}
	}
	return raw, nil
}

var contextAttributes = map[string]bool{
	"specversion":     true,
	"id":              true,
	"source":          true,
	"subject":         true,
	"type":            true,
	"time":            true,
	"data":            true,
	"datacontenttype": true,
	"dataschema":      true,
}

func parseStructured(body []byte) (*RawEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("structured CloudEvent is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.New("structured CloudEvent must be a JSON object")
	}
	raw := &RawEvent{
		SpecVersion: doc.Get("specversion").String(),
		ID:          doc.Get("id").String(),
		Source:      doc.Get("source").String(),
		Subject:     doc.Get("subject").String(),
		Type:        doc.Get("type").String(),
		Extensions:  map[string]string{},
	}
	if t := doc.Get("time"); t.Exists() {
		ts, err := time.Parse(time.RFC3339Nano, t.String())
		if err != nil {
			return nil, fmt.Errorf("invalid CloudEvent time: %w", err)
		}
		raw.Time = ts
	}
	if data := doc.Get("data"); data.Exists() {
		raw.Data = json.RawMessage(data.Raw)
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		if !contextAttributes[key.String()] {
			raw.Extensions[key.String()] = value.String()
		}
		return true
	})
	return raw, nil
}

func parseBinary(header http.Header, body []byte) (*RawEvent, error) {
	raw := &RawEvent{
		SpecVersion: header.Get("Ce-Specversion"),
		ID:          header.Get("Ce-Id"),
		Source:      header.Get("Ce-Source"),
		Subject:     header.Get("Ce-Subject"),
		Type:        header.Get("Ce-Type"),
		Extensions:  map[string]string{},
	}
	if t := header.Get("Ce-Time"); t != "" {
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, fmt.Errorf("invalid CloudEvent time: %w", err)
		}
		raw.Time = ts
	}
	if len(body) > 0 {
		raw.Data = json.RawMessage(body)
	}
	for k, v := range header {
		if !strings.HasPrefix(k, binaryHeaderPrefix) || len(v) == 0 {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, binaryHeaderPrefix))
		if !contextAttributes[name] {
			raw.Extensions[name] = v[0]
		}
	}
	return raw, nil
}

// pathPattern is a parsed resource path pattern such as "users/{uid}/posts/{path=**}".
type pathPattern []patternSegment

type patternSegment struct {
	literal string
	name    string
	multi   bool
	capture bool
}

func parsePathPattern(p string) pathPattern {
	var segs pathPattern
	for _, s := range strings.Split(strings.Trim(p, "/"), "/") {
		switch {
		case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
			inner := s[1 : len(s)-1]
			name, wildcard, _ := strings.Cut(inner, "=")
			segs = append(segs, patternSegment{name: name, capture: true, multi: wildcard == "**"})
		case s == "**":
			segs = append(segs, patternSegment{multi: true})
		case s == "*":
			segs = append(segs, patternSegment{})
		default:
			segs = append(segs, patternSegment{literal: s})
		}
	}
	return segs
}

// match reports whether path matches the pattern and returns the captured segments.
func (p pathPattern) match(path string) (map[string]string, bool) {
	var parts []string
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		parts = strings.Split(trimmed, "/")
	}
	captured := make(map[string]string)
	if !matchSegments(p, parts, captured) {
		return nil, false
	}
	return captured, true
}

func matchSegments(segs []patternSegment, parts []string, captured map[string]string) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	seg := segs[0]
	if seg.multi {
		for n := len(parts); n >= 0; n-- {
			if matchSegments(segs[1:], parts[n:], captured) {
				if seg.capture {
					captured[seg.name] = strings.Join(parts[:n], "/")
				}
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if seg.literal != "" && seg.literal != parts[0] {
		return false
	}
	if !matchSegments(segs[1:], parts[1:], captured) {
		return false
	}
	if seg.capture {
		captured[seg.name] = parts[0]
	}
	return true
}
