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

// Package logger provides the structured logger used throughout the SDK.
//
// Entries are written as single-line JSON using the field names understood by Cloud Logging
// (severity, message, timestamp), so that log levels and labels survive ingestion when the
// functions run on Cloud Functions or Cloud Run.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LabelsKey is the structured payload field Cloud Logging promotes to entry labels.
const LabelsKey = "logging.googleapis.com/labels"

var (
	mu            sync.RWMutex
	defaultLogger *zap.Logger
)

var severities = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "CRITICAL",
	zapcore.PanicLevel:  "ALERT",
	zapcore.FatalLevel:  "EMERGENCY",
}

func encodeSeverity(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	s, ok := severities[l]
	if !ok {
		s = "DEFAULT"
	}
	enc.AppendString(s)
}

// EncoderConfig returns the zap encoder configuration producing Cloud Logging entries.
func EncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()
	config.TimeKey = "timestamp"
	config.LevelKey = "severity"
	config.MessageKey = "message"
	config.StacktraceKey = "stack_trace"
	config.EncodeLevel = encodeSeverity
	config.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return config
}

// New creates a logger that writes entries at or above the given level to stdout.
func New(level zapcore.Level, opts ...zap.Option) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(EncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)
	opts = append([]zap.Option{zap.AddCaller()}, opts...)
	return zap.New(core, opts...)
}

// Default returns the process-wide logger, creating an info-level logger on first use.
func Default() *zap.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(zapcore.InfoLevel)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger, and returns a function that restores the
// previous one.
func SetDefault(l *zap.Logger) func() {
	mu.Lock()
	defer mu.Unlock()
	prev := defaultLogger
	defaultLogger = l
	return func() {
		mu.Lock()
		defer mu.Unlock()
		defaultLogger = prev
	}
}

// Labels returns a field that Cloud Logging attaches to the entry as labels.
func Labels(labels map[string]string) zap.Field {
	return zap.Any(LabelsKey, labels)
}

// ParseLevel converts a level name such as "debug" or "warn" into a zap level. Unknown names
// map to info.
func ParseLevel(name string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}
