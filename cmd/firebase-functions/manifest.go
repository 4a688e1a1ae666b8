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
	"fmt"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newManifestCmd(root *rootArgs) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the deployment manifest of this codebase as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if cfg.GlobalOptions != nil {
				functions.SetGlobalOptions(*cfg.GlobalOptions)
			}
			reg, err := registerFunctions(productionSamples(cfg))
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(reg.Stack())
			if err != nil {
				return fmt.Errorf("encoding manifest: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
