// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package workload

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestFunc(t *testing.T) {
	var got []string
	w := Func(func(_ context.Context, args []string) int {
		got = args
		return len(args)
	})
	if code := w.Run(context.Background(), []string{"a", "b"}); code != 2 {
		t.Errorf("exit code %d, want 2", code)
	}
	if strings.Join(got, " ") != "a b" {
		t.Errorf("args %q", got)
	}
}

func TestCommand(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell")
	}
	var out bytes.Buffer
	c := &Cmd{Path: sh, Stdout: &out, Stderr: &out}
	if code := c.Run(context.Background(), []string{"-c", "echo hi; exit 3"}); code != 3 {
		t.Errorf("exit code %d, want 3", code)
	}
	if out.String() != "hi\n" {
		t.Errorf("output %q, want %q", out.String(), "hi\n")
	}

	out.Reset()
	c.Path = "/nonexistent/workload"
	if code := c.Run(context.Background(), nil); code != 127 {
		t.Errorf("missing executable: exit code %d, want 127", code)
	}
	if out.Len() == 0 {
		t.Error("missing executable: no error reported")
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("/nonexistent/workload"); err == nil {
		t.Error("missing executable: want error")
	}
	if _, err := Open("/nonexistent/workload.so"); err == nil {
		t.Error("missing plugin: want error")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell")
	}
	w, err := Open(sh)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := w.(*Cmd); !ok {
		t.Errorf("Open(%s) returned %T, want *Cmd", sh, w)
	}
}
