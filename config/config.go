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

// Package config loads the runtime configuration of a functions process from defaults, the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	functions "github.com/firebase/firebase-functions-go"
	"github.com/firebase/firebase-functions-go/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the runtime configuration of a functions process. Debug features are not part of
// it; they are read from the environment only, by the SDK itself.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ControlAPI      bool          `mapstructure:"control_api"`
	Target          string        `mapstructure:"function_target"`
	LogLevel        string        `mapstructure:"log_level"`
	ProjectID       string        `mapstructure:"project_id"`
	FirebaseConfig  string        `mapstructure:"firebase_config"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// GlobalOptions is read from the globalOptions block of the config file, if any.
	GlobalOptions *functions.GlobalOptions `mapstructure:"-"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Port:            8080,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadOptions controls where Load reads configuration from.
type LoadOptions struct {
	// ConfigFile is an optional YAML file. Environment variables take precedence over it.
	ConfigFile string
	// Flags, when set, override every other source for the flags the user changed.
	Flags    *pflag.FlagSet
	Defaults *Config
}

var flagBindings = map[string]string{
	"host":             "host",
	"port":             "port",
	"control-api":      "control_api",
	"target":           "function_target",
	"log-level":        "log_level",
	"project":          "project_id",
	"shutdown-timeout": "shutdown_timeout",
}

var envBindings = map[string][]string{
	"port":            {"PORT"},
	"host":            {"HOST"},
	"control_api":     {"FUNCTIONS_CONTROL_API"},
	"function_target": {"FUNCTION_TARGET"},
	"log_level":       {"LOG_LEVEL"},
	"project_id":      {"GCLOUD_PROJECT", "GOOGLE_CLOUD_PROJECT"},
	"firebase_config": {"FIREBASE_CONFIG"},
}

// Load reads the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagBindings {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if opts.ConfigFile != "" {
		g, err := readGlobalOptions(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.GlobalOptions = g
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("control_api", cfg.ControlAPI)
	v.SetDefault("function_target", cfg.Target)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("project_id", cfg.ProjectID)
	v.SetDefault("firebase_config", cfg.FirebaseConfig)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
}

// readGlobalOptions decodes the globalOptions block with yaml.v3 directly, since viper folds
// key case and does not honor the string-or-list fields of GlobalOptions.
func readGlobalOptions(path string) (*functions.GlobalOptions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var doc struct {
		GlobalOptions *functions.GlobalOptions `yaml:"globalOptions"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: globalOptions: %v", ErrInvalidConfig, err)
	}
	return doc.GlobalOptions, nil
}

// Validate checks the configuration, including the global options, and reports every
// violation.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535; got %d", cfg.Port))
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must not be negative; got %s", cfg.ShutdownTimeout))
	}
	if cfg.GlobalOptions != nil {
		if err := cfg.GlobalOptions.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("globalOptions: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Addr returns the address the runtime server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level returns the configured log level.
func (c *Config) Level() zapcore.Level {
	return logger.ParseLevel(c.LogLevel)
}
