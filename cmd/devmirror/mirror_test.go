// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestBridgeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		command string
		serial  string
		want    []string
		wantErr bool
	}{
		{name: "plain", command: "adb shell", want: []string{"adb", "shell"}},
		{name: "with serial", command: "adb shell", serial: "emulator-5554", want: []string{"adb", "-s", "emulator-5554", "shell"}},
		{name: "single word", command: "bridge", serial: "abc", want: []string{"bridge", "-s", "abc"}},
		{name: "empty", command: "  ", wantErr: true},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := bridgeCommandLine(test.command, test.serial)
			if test.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("bridgeCommandLine: %v", err)
			}
			if !slices.Equal(got, test.want) {
				t.Errorf("bridgeCommandLine = %q, want %q", got, test.want)
			}
		})
	}
}

func TestResolveRecordPath(t *testing.T) {
	t.Parallel()
	directory := filepath.Join(t.TempDir(), "recordings")

	got, err := resolveRecordPath("session.dvmr", directory)
	if err != nil {
		t.Fatalf("resolveRecordPath: %v", err)
	}
	if want := filepath.Join(directory, "session.dvmr"); got != want {
		t.Errorf("resolved path = %q, want %q", got, want)
	}
	if info, err := os.Stat(directory); err != nil || !info.IsDir() {
		t.Errorf("recording directory not created: %v", err)
	}

	// Explicit directory components bypass the configured directory.
	explicit := filepath.Join(t.TempDir(), "elsewhere.dvmr")
	got, err = resolveRecordPath(explicit, directory)
	if err != nil {
		t.Fatalf("resolveRecordPath: %v", err)
	}
	if got != explicit {
		t.Errorf("resolved path = %q, want %q", got, explicit)
	}
}
