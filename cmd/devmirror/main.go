// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// devmirror is the host-side client for the devmirror device agent.
//
// Usage:
//
//	devmirror shell [flags]
//	devmirror mirror [flags]
//	devmirror play <recording>
//	devmirror version
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/devmirror/devmirror/lib/process"
	"github.com/devmirror/devmirror/lib/version"
	"github.com/devmirror/devmirror/mirror"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Set up logging.
	logLevel := slog.LevelInfo
	if os.Getenv("DEVMIRROR_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "shell":
		err = shellCmd(args, logger)
	case "mirror":
		err = mirrorCmd(args, logger)
	case "play":
		err = playCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("devmirror %s\n", version.Full(mirror.ProtocolVersion))
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		// Remote exit statuses become this process's own exit code.
		var exit *exitStatusError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		process.Fatal(err)
	}
}

// exitStatusError carries a remote command's exit status to this
// process's own exit.
type exitStatusError struct {
	code int
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

func printUsage() {
	fmt.Print(`devmirror - device mirroring and remote shell client

USAGE
    devmirror <command> [flags]

COMMANDS
    shell    Open an interactive shell on the device
    mirror   Mirror the device screen
    play     Inspect a recording file
    version  Show version

EXAMPLES
    # Interactive shell over the default bridge
    devmirror shell

    # Mirror with AV1 and record to a file
    devmirror mirror --video-codec=av1 --record=session.dvmr

    # Show what a recording contains
    devmirror play session.dvmr

ENVIRONMENT
    DEVMIRROR_CONFIG  Path to the devmirror.yaml config file
    DEVMIRROR_DEBUG   Enable debug logging
`)
}
