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

package server

import (
	"net/http"
	"regexp"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	functions "github.com/firebase/firebase-functions-go"
)

// Function is a registered function as the runtime sees it.
type Function interface {
	http.Handler
	Endpoint() functions.ManifestEndpoint
	Validate() error
}

type entryPointSetter interface {
	SetEntryPoint(name string)
}

var (
	// ErrDuplicateFunction is returned when a name is registered twice.
	ErrDuplicateFunction = errors.New("function already registered")
	// ErrInvalidName is returned for names that cannot be deployed.
	ErrInvalidName = errors.New("invalid function name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// Registry holds the functions served by one process, keyed by entry point name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Function)}
}

// Register validates fn and adds it under name.
func (r *Registry) Register(name string, fn Function) error {
	if !namePattern.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if fn == nil {
		return errors.Newf("function %q is nil", name)
	}
	if err := fn.Validate(); err != nil {
		return errors.Wrapf(err, "function %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return errors.Wrapf(ErrDuplicateFunction, "%q", name)
	}
	if s, ok := fn.(entryPointSetter); ok {
		s.SetEntryPoint(name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn Function) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stack builds the deployment manifest of every registered function.
func (r *Registry) Stack() *functions.ManifestStack {
	stack := functions.NewManifestStack()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, fn := range r.funcs {
		ep := fn.Endpoint()
		ep.EntryPoint = name
		stack.Endpoints[name] = ep
	}
	return stack
}
