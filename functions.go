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

// Package functions is the entry point to the Cloud Functions for Firebase Go SDK. It provides
// the App, which holds the project configuration and the lazily created service clients that
// functions use, together with the deployment options and the manifest entries that describe
// each function to the deployment tooling.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/firebase/firebase-functions-go/appcheck"
	"github.com/firebase/firebase-functions-go/auth"
	"github.com/firebase/firebase-functions-go/credentials"
	"github.com/firebase/firebase-functions-go/internal"
	"github.com/firebase/firebase-functions-go/storage"
	"google.golang.org/api/option"
	"google.golang.org/api/transport"
)

var firebaseScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/datastore",
	"https://www.googleapis.com/auth/devstorage.full_control",
	"https://www.googleapis.com/auth/firebase",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Version of the Cloud Functions for Firebase Go SDK.
const Version = "0.1.0"

// firebaseEnvName is the name of the environment variable with the Config.
const firebaseEnvName = "FIREBASE_CONFIG"

// An App holds configuration and state common to all Firebase services used by functions.
//
// Service clients are created on first use and cached for the lifetime of the App, including
// the error of a failed initialization.
type App struct {
	projectID     string
	projectNumber string
	storageBucket string
	opts          []option.ClientOption

	auth      lazy[*auth.Client]
	appCheck  lazy[*appcheck.Client]
	firestore lazy[*firestore.Client]
	storage   lazy[*storage.Client]
}

// Config represents the configuration used to initialize an App.
type Config struct {
	ProjectID     string `json:"projectId"`
	ProjectNumber string `json:"projectNumber"`
	StorageBucket string `json:"storageBucket"`

	// Credential authenticates the App. When nil, the client options or Google application
	// default credentials are used.
	Credential credentials.Credential `json:"-"`
}

type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(init func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.val, l.err = init()
	})
	return l.val, l.err
}

// NewApp creates a new App from the provided config and client options.
//
// If the client options contain a valid credential (a service account file, a refresh token
// file or an oauth2.TokenSource) the App will be authenticated using that credential. Otherwise,
// NewApp attempts to authenticate the App with Google application default credentials.
// If `config` is nil, the SDK will attempt to load the config options from the
// `FIREBASE_CONFIG` environment variable. If the value in it starts with a `{` it is parsed as
// a JSON object, otherwise it is assumed to be the name of the JSON file containing the
// options.
func NewApp(ctx context.Context, config *Config, opts ...option.ClientOption) (*App, error) {
	o := []option.ClientOption{option.WithScopes(firebaseScopes...)}
	if config != nil && config.Credential != nil {
		o = append(o, option.WithTokenSource(credentials.TokenSource(ctx, config.Credential)))
	}
	o = append(o, opts...)
	if config == nil {
		var err error
		if config, err = getConfigDefaults(); err != nil {
			return nil, err
		}
	}

	return &App{
		projectID:     resolveProjectID(ctx, config, o),
		projectNumber: config.ProjectNumber,
		storageBucket: config.StorageBucket,
		opts:          o,
	}, nil
}

func resolveProjectID(ctx context.Context, config *Config, opts []option.ClientOption) string {
	if config.ProjectID != "" {
		return config.ProjectID
	}
	if config.Credential != nil {
		if pid := credentials.ProjectID(config.Credential); pid != "" {
			return pid
		}
	}
	if creds, err := transport.Creds(ctx, opts...); err == nil && creds.ProjectID != "" {
		return creds.ProjectID
	}
	if pid := os.Getenv("GCLOUD_PROJECT"); pid != "" {
		return pid
	}
	return os.Getenv("GOOGLE_CLOUD_PROJECT")
}

// getConfigDefaults reads the default config file, defined by the FIREBASE_CONFIG
// env variable, used only when options are nil.
func getConfigDefaults() (*Config, error) {
	fbc := &Config{}
	confFileName := os.Getenv(firebaseEnvName)
	if confFileName == "" {
		return fbc, nil
	}
	var dat []byte
	if strings.HasPrefix(strings.TrimSpace(confFileName), "{") {
		dat = []byte(confFileName)
	} else {
		var err error
		if dat, err = os.ReadFile(confFileName); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(dat, fbc); err != nil {
		return nil, err
	}
	return fbc, nil
}

// ProjectID returns the Google Cloud project ID the App is bound to, or an empty string when
// none could be determined.
func (a *App) ProjectID() string {
	return a.projectID
}

// Auth returns the ID token verifier of the App.
func (a *App) Auth(ctx context.Context) (*auth.Client, error) {
	return a.auth.get(func() (*auth.Client, error) {
		return auth.NewClient(ctx, &internal.AuthConfig{
			Opts:      a.opts,
			ProjectID: a.projectID,
			Version:   Version,
		})
	})
}

// AppCheck returns the App Check token verifier of the App.
//
// The context of the first call governs the background refresh of the App Check JWKS, so it
// should outlive the request being served.
func (a *App) AppCheck(ctx context.Context) (*appcheck.Client, error) {
	return a.appCheck.get(func() (*appcheck.Client, error) {
		return appcheck.NewClient(ctx, &internal.AppCheckConfig{
			ProjectID:     a.projectID,
			ProjectNumber: a.projectNumber,
		})
	})
}

// Firestore returns a firestore.Client instance from the
// https://pkg.go.dev/cloud.google.com/go/firestore package.
func (a *App) Firestore(ctx context.Context) (*firestore.Client, error) {
	return a.firestore.get(func() (*firestore.Client, error) {
		if a.projectID == "" {
			return nil, errors.New("project id is required to access Firestore")
		}
		return firestore.NewClient(ctx, a.projectID, a.opts...)
	})
}

// Storage returns the Cloud Storage client of the App.
func (a *App) Storage(ctx context.Context) (*storage.Client, error) {
	return a.storage.get(func() (*storage.Client, error) {
		return storage.NewClient(ctx, &internal.StorageConfig{
			Opts:   a.opts,
			Bucket: a.storageBucket,
		})
	})
}

var (
	defaultAppMu sync.Mutex
	defaultApp   *App
)

// DefaultApp returns the process-wide App, initializing it from the environment on first use.
// A failed initialization is not cached, so a later call may succeed.
func DefaultApp(ctx context.Context) (*App, error) {
	defaultAppMu.Lock()
	defer defaultAppMu.Unlock()
	if defaultApp != nil {
		return defaultApp, nil
	}
	app, err := NewApp(ctx, nil)
	if err != nil {
		return nil, err
	}
	defaultApp = app
	return app, nil
}

// SetDefaultApp replaces the process-wide App returned by DefaultApp.
func SetDefaultApp(app *App) {
	defaultAppMu.Lock()
	defer defaultAppMu.Unlock()
	defaultApp = app
}
