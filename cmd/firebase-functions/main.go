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

// firebase-functions serves a codebase of sample Firebase functions, and prints its deployment
// manifest.
package main

import (
	"fmt"
	"os"

	"github.com/firebase/firebase-functions-go/config"
	"github.com/spf13/cobra"
)

type rootArgs struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	var args rootArgs
	cmd := &cobra.Command{
		Use:           "firebase-functions",
		Short:         "Run and describe a Cloud Functions for Firebase codebase",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&args.configFile, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().String("project", "", "Google Cloud project ID")
	cmd.PersistentFlags().String("log-level", "info", "Minimum log level")

	cmd.AddCommand(newServeCmd(&args), newManifestCmd(&args))
	return cmd
}

func loadConfig(cmd *cobra.Command, args *rootArgs) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		ConfigFile: args.configFile,
		Flags:      cmd.Flags(),
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
