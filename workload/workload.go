// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workload runs the program under measurement.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"plugin"
	"strings"
)

// A Workload is a program that can be run repeatedly in this process. Run
// must return rather than exit. It may modify args.
type Workload interface {
	Run(ctx context.Context, args []string) int
}

// Func adapts a function to a [Workload].
type Func func(ctx context.Context, args []string) int

func (f Func) Run(ctx context.Context, args []string) int {
	return f(ctx, args)
}

// Cmd runs an executable as a child process.
type Cmd struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
}

// Command returns a workload that runs the executable at path, with the
// output of the child going to this process's output.
func Command(path string) *Cmd {
	return &Cmd{Path: path, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run runs the child to completion and returns its exit code. If the child
// cannot be started, the error goes to Stderr and Run returns 127.
func (c *Cmd) Run(ctx context.Context, args []string) int {
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdout, cmd.Stderr = c.Stdout, c.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	}
	fmt.Fprintf(c.Stderr, "%s: %v\n", c.Path, err)
	return 127
}

// MainSymbol is the entry point looked up in workload plugins. It must have
// type func([]string) int.
const MainSymbol = "Main"

// OpenPlugin loads the Go plugin at path and returns its symbol as a
// workload.
func OpenPlugin(path, symbol string) (Workload, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading workload: %w", err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("loading workload %s: %w", path, err)
	}
	switch f := sym.(type) {
	case func([]string) int:
		return Func(func(_ context.Context, args []string) int { return f(args) }), nil
	case *func([]string) int:
		return Func(func(_ context.Context, args []string) int { return (*f)(args) }), nil
	}
	return nil, fmt.Errorf("loading workload %s: %s has type %T, want func([]string) int", path, symbol, sym)
}

// Open returns the workload at path: a Go plugin if path ends in ".so",
// otherwise an executable.
func Open(path string) (Workload, error) {
	if strings.HasSuffix(path, ".so") {
		return OpenPlugin(path, MainSymbol)
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("loading workload: %w", err)
	}
	return Command(path), nil
}
