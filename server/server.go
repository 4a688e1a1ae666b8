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

// Package server runs registered functions behind a single HTTP server, and exposes the
// control endpoints used by the deployment tooling.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/firebase/firebase-functions-go/internal/metrics"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	quitPath     = "/__/quitquitquit"
	manifestPath = "/__/functions.yaml"
	metricsPath  = "/__/metrics"

	defaultShutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// ControlAPI exposes the manifest endpoint.
	ControlAPI bool
	// Target, when set, also serves the named function at the root path.
	Target          string
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Server routes requests to the functions of a Registry.
type Server struct {
	registry *Registry
	opts     Options
	log      *zap.Logger
	echo     *echo.Echo

	quitOnce sync.Once
	quit     chan struct{}
}

// New creates a Server for the functions of reg.
func New(reg *Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		registry: reg,
		opts:     opts,
		log:      opts.Logger,
		quit:     make(chan struct{}),
	}
	s.echo = s.newRouter()
	return s
}

func (s *Server) newRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	e.Use(
		middleware.Recover(),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogURI:     true,
			LogStatus:  true,
			LogMethod:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				s.log.Debug("Request completed",
					zap.String("method", v.Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Duration("latency", v.Latency),
					zap.Error(v.Error))
				return nil
			},
		}),
	)

	e.GET(quitPath, s.quitHandler)
	e.POST(quitPath, s.quitHandler)
	e.GET(metricsPath, echo.WrapHandler(metrics.Handler()))
	if s.opts.ControlAPI {
		e.GET(manifestPath, s.manifestHandler)
	}
	if s.opts.Target != "" {
		e.Any("/", s.targetHandler)
	}
	e.Any("/:name", s.functionHandler)
	e.Any("/:name/*", s.functionHandler)
	return e
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Done is closed once a shutdown has been requested through the quit endpoint.
func (s *Server) Done() <-chan struct{} {
	return s.quit
}

// Addr returns the address the server listens on, or an empty string before it has started.
func (s *Server) Addr() string {
	if a := s.echo.ListenerAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (s *Server) requestQuit() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) quitHandler(c echo.Context) error {
	s.log.Info("Shutdown requested")
	s.requestQuit()
	return c.String(http.StatusOK, "ok")
}

func (s *Server) manifestHandler(c echo.Context) error {
	b, err := yaml.Marshal(s.registry.Stack())
	if err != nil {
		s.log.Error("Failed to generate manifest", zap.Error(err))
		return c.String(http.StatusBadRequest, err.Error())
	}
	return c.Blob(http.StatusOK, "text/yaml", b)
}

func (s *Server) targetHandler(c echo.Context) error {
	return s.forward(c, s.opts.Target, "/")
}

func (s *Server) functionHandler(c echo.Context) error {
	return s.forward(c, c.Param("name"), "/"+c.Param("*"))
}

// forward hands the request to a function with the function name stripped from its path.
func (s *Server) forward(c echo.Context, name, path string) error {
	fn, ok := s.registry.Lookup(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "function not found: "+name)
	}
	r := c.Request()
	r2 := new(http.Request)
	*r2 = *r
	u := *r.URL
	u.Path = path
	u.RawPath = ""
	r2.URL = &u
	fn.ServeHTTP(c.Response(), r2)
	return nil
}

// Run starts listening on addr in grp, and shuts the server down when ctx is done or a quit
// is requested. grp should come from errgroup.WithContext so that a failed listener also
// cancels ctx.
func (s *Server) Run(ctx context.Context, grp *errgroup.Group, addr string) {
	grp.Go(func() error {
		s.log.Info("Starting functions server",
			zap.String("address", addr),
			zap.Strings("functions", s.registry.Names()))
		err := s.echo.Start(addr)
		// ErrServerClosed is the normal result of Shutdown.
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "functions server unexpected failure")
		}
		return nil
	})
	grp.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.quit:
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.requestQuit()
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutting down functions server")
	}
	s.log.Info("Functions server stopped")
	return nil
}
