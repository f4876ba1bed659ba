// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/devmirror/devmirror/record"
)

// playCmd inspects a recording: header summary plus a packet
// accounting pass over the body.
func playCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("play", pflag.ContinueOnError)
	dumpPackets := flags.Bool("packets", false, "list every packet instead of the summary")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: devmirror play [--packets] <recording>")
	}
	path := flags.Arg(0)

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := record.NewReader(file)
	if err != nil {
		return err
	}
	defer reader.Close()

	header := reader.Header()
	fmt.Printf("device:   %s\n", header.Device)
	fmt.Printf("codec:    %s\n", header.Codec)
	fmt.Printf("geometry: %dx%d\n", header.Width, header.Height)
	fmt.Printf("started:  %s\n", time.UnixMicro(header.StartedAt).UTC().Format(time.RFC3339))

	var (
		packets   uint64
		keyFrames uint64
		configs   uint64
		bytes     uint64
		lastPTS   uint64
	)
	for {
		packet, err := reader.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading packet %d: %w", packets, err)
		}
		packets++
		bytes += uint64(len(packet.Data))
		switch {
		case packet.IsConfig:
			configs++
		case packet.IsKeyFrame:
			keyFrames++
		}
		if !packet.IsConfig {
			lastPTS = packet.PTS
		}
		if *dumpPackets {
			kind := "frame"
			if packet.IsConfig {
				kind = "config"
			} else if packet.IsKeyFrame {
				kind = "keyframe"
			}
			fmt.Printf("%8d  %-8s pts=%d bytes=%d\n", packets, kind, packet.PTS, len(packet.Data))
		}
	}

	fmt.Printf("packets:  %d (%d config, %d keyframes)\n", packets, configs, keyFrames)
	fmt.Printf("payload:  %d bytes\n", bytes)
	fmt.Printf("duration: %s\n", time.Duration(lastPTS)*time.Microsecond)
	return nil
}
