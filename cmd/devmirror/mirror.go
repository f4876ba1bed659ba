// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/devmirror/devmirror/lib/config"
	"github.com/devmirror/devmirror/lib/process"
	"github.com/devmirror/devmirror/mirror"
	"github.com/devmirror/devmirror/record"
	"github.com/devmirror/devmirror/transport"
)

// mirrorCmd starts a mirroring session and consumes its streams until
// interrupted, optionally recording the video channel to a file.
func mirrorCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("mirror", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file (overrides DEVMIRROR_CONFIG)")
	videoCodec := flags.String("video-codec", "", "video codec: h264, h265 or av1 (overrides config)")
	maxSize := flags.Int("max-size", -1, "cap on the longer video dimension (overrides config)")
	bitRate := flags.Int("bit-rate", 0, "video bit rate in bits per second (overrides config)")
	noAudio := flags.Bool("no-audio", false, "disable the audio stream")
	noControl := flags.Bool("no-control", false, "disable the control channel")
	tunnelForward := flags.Bool("tunnel-forward", false, "use the forward tunnel mode directly")
	listenAddress := flags.String("listen", "127.0.0.1:2783", "host address the reverse tunnel listens on")
	bridgeCommand := flags.String("bridge-command", "adb shell", "command that executes the agent on the device")
	recordPath := flags.String("record", "", "write the video stream to this recording file (bare filenames go to the configured recording directory)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	options, err := buildOptions(cfg, *videoCodec, *maxSize, *bitRate, *noAudio, *noControl, *tunnelForward)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge, err := bridgeCommandLine(*bridgeCommand, cfg.Device.Serial)
	if err != nil {
		return err
	}
	client, err := mirror.Start(ctx, mirror.Config{
		Options: options,
		Connector: &bridgeConnector{
			listenAddress: *listenAddress,
			deviceAddress: cfg.Device.Address,
			dialer:        &transport.NetDialer{Timeout: cfg.Device.ConnectTimeout},
		},
		Spawner: &bridgeSpawner{command: bridge, logger: logger},
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println(client.Describe())

	// Every negotiated channel must be consumed: they share the
	// agent's connection, and an unread stream stalls the rest.
	done := make(chan error, 3)

	if video := client.Video(); video != nil {
		if *recordPath != "" {
			path, err := resolveRecordPath(*recordPath, cfg.Record.Directory)
			if err != nil {
				return err
			}
			go func() { done <- recordVideo(client, video, path) }()
		} else {
			go func() { done <- discardPackets(video) }()
		}
	}
	if audio := client.Audio(); audio != nil {
		go func() { done <- discardPackets(audio) }()
	}
	if control := client.Control(); control != nil {
		go func() {
			for message := range control.Messages() {
				if message.Clipboard != "" {
					logger.Info("device clipboard changed", "length", len(message.Clipboard))
				}
			}
			done <- nil
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-client.Exit().Done():
		code, err := client.Exit().Result()
		if err != nil {
			return fmt.Errorf("agent ended: %w", err)
		}
		logger.Info("agent exited", "status", code)
		return nil
	case err := <-done:
		// One channel ending, cleanly or not, ends the session.
		return err
	}
}

// buildOptions merges config values and flag overrides into session
// options.
func buildOptions(cfg *config.Config, videoCodec string, maxSize, bitRate int, noAudio, noControl, tunnelForward bool) (mirror.Options, error) {
	options := *mirror.DefaultOptions()
	options.AgentPath = cfg.Mirror.AgentPath
	options.MaxSize = cfg.Mirror.MaxSize
	options.VideoBitRate = cfg.Mirror.VideoBitRate
	options.Audio = !cfg.Mirror.NoAudio
	options.TunnelForward = cfg.Mirror.TunnelForward

	codecName := cfg.Mirror.VideoCodec
	if videoCodec != "" {
		codecName = videoCodec
	}
	codec, err := parseVideoCodec(codecName)
	if err != nil {
		return mirror.Options{}, err
	}
	options.VideoCodec = codec

	audio, err := parseAudioCodec(cfg.Mirror.AudioCodec)
	if err != nil {
		return mirror.Options{}, err
	}
	options.AudioCodec = audio

	if maxSize >= 0 {
		options.MaxSize = maxSize
	}
	if bitRate > 0 {
		options.VideoBitRate = bitRate
	}
	if noAudio {
		options.Audio = false
	}
	if noControl {
		options.Control = false
	}
	if tunnelForward {
		options.TunnelForward = true
	}
	return options, nil
}

func parseVideoCodec(name string) (mirror.CodecID, error) {
	switch name {
	case "h264":
		return mirror.CodecH264, nil
	case "h265":
		return mirror.CodecH265, nil
	case "av1":
		return mirror.CodecAV1, nil
	default:
		return 0, fmt.Errorf("unknown video codec %q", name)
	}
}

func parseAudioCodec(name string) (mirror.CodecID, error) {
	switch name {
	case "opus":
		return mirror.CodecOpus, nil
	case "aac":
		return mirror.CodecAAC, nil
	case "raw":
		return mirror.CodecRaw, nil
	default:
		return 0, fmt.Errorf("unknown audio codec %q", name)
	}
}

// bridgeConnector reaches the device through an externally managed
// bridge: the reverse tunnel listens on a host port the bridge
// forwards device connections to, and the forward tunnel dials the
// bridge's device-socket forward.
type bridgeConnector struct {
	listenAddress string
	deviceAddress string
	dialer        transport.Dialer
}

func (c *bridgeConnector) Listen(ctx context.Context) (net.Listener, error) {
	return net.Listen("tcp", c.listenAddress)
}

func (c *bridgeConnector) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	return c.dialer.DialContext(ctx, c.deviceAddress)
}

// bridgeSpawner executes the agent on the device through the bridge's
// shell command.
type bridgeSpawner struct {
	command []string
	logger  *slog.Logger
}

func (s *bridgeSpawner) Spawn(ctx context.Context, args []string) (mirror.AgentProcess, error) {
	return process.Start(ctx, process.Config{
		Command: s.command[0],
		Args:    append(append([]string(nil), s.command[1:]...), args...),
		Logger:  s.logger,
	})
}

// bridgeCommandLine splits the bridge command and inserts the device
// selector right after the executable, where bridge tools expect their
// global flags.
func bridgeCommandLine(command, serial string) ([]string, error) {
	bridge := strings.Fields(command)
	if len(bridge) == 0 {
		return nil, fmt.Errorf("empty --bridge-command")
	}
	if serial != "" {
		bridge = append([]string{bridge[0], "-s", serial}, bridge[1:]...)
	}
	return bridge, nil
}

// resolveRecordPath places a bare recording filename under the
// configured recording directory, creating it if needed. Paths with an
// explicit directory component are used as given.
func resolveRecordPath(path, directory string) (string, error) {
	if strings.ContainsRune(path, os.PathSeparator) || directory == "" {
		return path, nil
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("creating recording directory: %w", err)
	}
	return filepath.Join(directory, path), nil
}

// recordVideo streams the video channel into a recording file.
func recordVideo(client *mirror.Client, video *mirror.MediaStream, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	defer file.Close()

	header := record.Header{
		Device:     client.DeviceName(),
		Codec:      video.Codec.String(),
		Width:      video.InitialWidth,
		Height:     video.InitialHeight,
		AgentProto: mirror.ProtocolVersion,
	}
	writer, err := record.NewWriter(file, header)
	if err != nil {
		return err
	}
	captureErr := record.Capture(video, writer, 0)
	if err := writer.Close(); err != nil && captureErr == nil {
		captureErr = err
	}
	if captureErr != nil && transport.IsExpectedCloseError(captureErr) {
		return nil
	}
	return captureErr
}

// discardPackets consumes a media stream nobody is rendering.
func discardPackets(stream *mirror.MediaStream) error {
	for {
		_, err := stream.ReadPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if transport.IsExpectedCloseError(err) {
				return nil
			}
			return err
		}
	}
}
