// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logutil holds the process-wide logger.
package logutil

import (
	"sync"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop()
)

// exitHook runs the registered exit handlers after a fatal entry is
// written, so that open traces and counters are closed.
type exitHook struct{}

func (exitHook) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {
	atexit.Exit(1)
}

// InitLogger installs the process-wide logger. Debug enables debug-level
// entries.
func InitLogger(debug bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build(zap.WithFatalHook(exitHook{}))
	if err != nil {
		return err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	atexit.Register(func() { l.Sync() })
	return nil
}

// GetLogger returns the process-wide logger. Before InitLogger it returns a
// no-op logger.
func GetLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}
