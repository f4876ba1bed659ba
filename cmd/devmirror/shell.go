// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/devmirror/devmirror/lib/config"
	"github.com/devmirror/devmirror/shell"
	"github.com/devmirror/devmirror/transport"
)

// shellCmd opens an interactive shell on the device over the
// multiplexed packet protocol. The local terminal is put in raw mode;
// window size changes are propagated as resize packets.
func shellCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("shell", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file (overrides DEVMIRROR_CONFIG)")
	address := flags.String("address", "", "device shell endpoint, host:port (overrides config)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *address == "" {
		*address = cfg.Device.Address
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := &transport.NetDialer{Timeout: cfg.Device.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, *address)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", *address, err)
	}

	session, err := shell.NewSession(ctx, conn, shell.Config{Logger: logger})
	if err != nil {
		conn.Close()
		return err
	}
	defer session.Close()

	stdinFD := int(os.Stdin.Fd())
	interactive := term.IsTerminal(stdinFD)
	if interactive {
		state, err := term.MakeRaw(stdinFD)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(stdinFD, state)

		if err := sendWindowSize(session, stdinFD); err != nil {
			logger.Warn("sending initial window size", "error", err)
		}
		go watchWindowSize(ctx, session, stdinFD, logger)
	}

	// Stdin pump: the session's Write frames each chunk as a stdin
	// packet. An EOF on a non-interactive stdin closes the remote
	// side's stdin cleanly.
	go func() {
		if _, err := io.Copy(session, os.Stdin); err != nil && !errors.Is(err, shell.ErrSessionClosed) {
			logger.Debug("stdin pump ended", "error", err)
		}
		session.CloseStdin()
	}()

	// Output pumps: one drain per channel, preserving per-channel
	// arrival order.
	go session.Stdout().Drain(ctx, os.Stdout)
	go session.Stderr().Drain(ctx, os.Stderr)

	status, err := session.Exit().Wait(ctx)
	if err != nil {
		if errors.Is(err, shell.ErrNoExitMessage) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	if status != 0 {
		return &exitStatusError{code: int(status)}
	}
	return nil
}

// sendWindowSize reports the local terminal geometry to the device.
func sendWindowSize(session *shell.Session, fd int) error {
	width, height, err := term.GetSize(fd)
	if err != nil {
		return err
	}
	return session.Resize(height, width)
}

// watchWindowSize forwards SIGWINCH as resize packets until the
// context ends.
func watchWindowSize(ctx context.Context, session *shell.Session, fd int, logger *slog.Logger) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			return
		case <-winch:
			if err := sendWindowSize(session, fd); err != nil {
				logger.Debug("propagating window size", "error", err)
				return
			}
		}
	}
}

// loadConfig resolves the configuration from an explicit path or the
// environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
