// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netdiag

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// ExecFunc runs a command and returns its stdout and stderr.
type ExecFunc func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

// Runner executes diagnostic commands with a timeout.
type Runner struct {
	Timeout time.Duration

	// Replaced in tests
	LookPath func(file string) (string, error)
	Exec     ExecFunc
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// A non-zero exit still produced output worth showing
	if _, ok := err.(*exec.ExitError); ok && ctx.Err() == nil {
		err = nil
	}

	return stdout.Bytes(), stderr.Bytes(), err
}

// Has reports whether name can be found in PATH.
func (r Runner) Has(name string) bool {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(name)
	return err == nil
}

// Run executes the command and returns its trimmed stdout, or stderr when
// stdout is empty. Failures are returned as a readable message.
func (r Runner) Run(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, orDefault(r.Timeout, DefaultCommandTimeout))
	defer cancel()

	run := r.Exec
	if run == nil {
		run = execCommand
	}

	stdout, stderr, err := run(ctx, name, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "Command error: " + name + " timed out after " + orDefault(r.Timeout, DefaultCommandTimeout).String()
		}
		return "Command error: " + err.Error()
	}

	out := strings.TrimSpace(string(stdout))
	if out == "" {
		out = strings.TrimSpace(string(stderr))
	}
	if out == "" {
		return "No data."
	}

	return out
}
