// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package process runs and supervises the remote-agent subprocess: it
// spawns a command, captures its standard output line by line into an
// accumulating log, exposes exit as a one-shot future, and provides an
// idempotent kill. The mirroring orchestrator races the exit future
// against stream readiness and attaches the captured log to failures.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/devmirror/devmirror/lib/future"
)

// Fatal writes "error: err" to stderr and exits with code 1. The
// standard binary entrypoint error handler, for errors from run()
// where the structured logger may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Config describes one supervised subprocess.
type Config struct {
	// Command is the executable to run.
	Command string

	// Args are passed verbatim, in order. For the remote agent the
	// order is part of the wire contract; callers build it and this
	// package never reorders.
	Args []string

	// Env, when non-nil, replaces the inherited environment.
	Env []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handle is a running subprocess. Its standard output is pumped line
// by line into an accumulating log until the stream ends; Exit settles
// once the process terminates.
type Handle struct {
	cmd    *exec.Cmd
	logger *slog.Logger
	exit   *future.Future[int]

	mu    sync.Mutex
	lines []string

	outputDone chan struct{}

	killOnce sync.Once
	killErr  error
}

// Start spawns the configured command. The returned handle owns the
// process; the caller must eventually Kill it or wait for Exit.
func Start(ctx context.Context, config Config) (*Handle, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	if config.Env != nil {
		cmd.Env = config.Env
	}
	// The agent's own stderr is folded into stdout so the captured log
	// is one ordered stream of diagnostics.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: starting %s: %w", config.Command, err)
	}
	handle := &Handle{
		cmd:        cmd,
		logger:     logger,
		exit:       future.New[int](),
		outputDone: make(chan struct{}),
	}
	go handle.pumpOutput(stdout)
	go handle.wait()
	logger.Debug("process started", "command", config.Command, "pid", cmd.Process.Pid)
	return handle, nil
}

// pumpOutput accumulates output lines until the pipe closes. It
// closes outputDone before wait reaps the process, so no buffered
// line is lost to the pipe teardown in cmd.Wait.
func (h *Handle) pumpOutput(stdout io.Reader) {
	defer close(h.outputDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.mu.Lock()
		h.lines = append(h.lines, line)
		h.mu.Unlock()
		h.logger.Debug("agent output", "line", line)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("agent output pump ended", "error", err)
	}
}

// Exit returns the exit future. It resolves with the process exit code
// (including non-zero codes) and rejects only when waiting itself
// failed.
func (h *Handle) Exit() *future.Future[int] { return h.exit }

// OutputLines returns a snapshot of the captured output so far.
func (h *Handle) OutputLines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines := make([]string, len(h.lines))
	copy(lines, h.lines)
	return lines
}

// DrainOutput blocks until the output pump has consumed the whole
// stream (the pipe closed), so a subsequent OutputLines misses
// nothing. Returns ctx.Err() if ctx ends first.
func (h *Handle) DrainOutput(ctx context.Context) error {
	select {
	case <-h.outputDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill terminates the process. Idempotent: later calls return the
// first call's result. Killing an already-exited process is not an
// error.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		err := h.cmd.Process.Kill()
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.killErr = fmt.Errorf("process: killing pid %d: %w", h.cmd.Process.Pid, err)
		}
	})
	return h.killErr
}

// wait settles the exit future from the process outcome. Reaping
// happens only after the output pump saw EOF; cmd.Wait closes the
// stdout pipe, and reaping earlier could drop buffered lines.
func (h *Handle) wait() {
	<-h.outputDone
	err := h.cmd.Wait()
	if err == nil {
		h.exit.Resolve(0)
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		h.exit.Resolve(exitErr.ExitCode())
		return
	}
	h.exit.Reject(fmt.Errorf("process: waiting for pid %d: %w", h.cmd.Process.Pid, err))
}
