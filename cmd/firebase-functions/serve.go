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

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/internal/debug"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/firebase/firebase-functions-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(root *rootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the functions of this codebase over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, root)
		},
	}
	cmd.Flags().String("host", "", "Interface to listen on")
	cmd.Flags().Int("port", 8080, "Port to listen on")
	cmd.Flags().Bool("control-api", false, "Serve the deployment manifest at /__/functions.yaml")
	cmd.Flags().String("target", "", "Function to also serve at /")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests")
	return cmd
}

func serve(cmd *cobra.Command, root *rootArgs) error {
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Level())
	defer log.Sync()
	defer logger.SetDefault(log)()

	logDebugMode(log, debug.Process())
	if cfg.GlobalOptions != nil {
		functions.SetGlobalOptions(*cfg.GlobalOptions)
	}

	reg, err := registerFunctions(productionSamples(cfg))
	if err != nil {
		return err
	}
	s := server.New(reg, server.Options{
		ControlAPI:      cfg.ControlAPI,
		Target:          cfg.Target,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	grp, gctx := errgroup.WithContext(ctx)
	s.Run(gctx, grp, cfg.Addr())
	return grp.Wait()
}

// logDebugMode warns when the debug features the SDK enforces are switched on.
func logDebugMode(log *zap.Logger, d debug.Features) {
	if !d.Mode() {
		return
	}
	log.Warn("Debug mode is enabled",
		zap.Bool(string(debug.SkipTokenVerification), d.Enabled(debug.SkipTokenVerification)),
		zap.Bool(string(debug.EnableCors), d.Enabled(debug.EnableCors)))
}
