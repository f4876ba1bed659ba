// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/devmirror/devmirror/lib/future"
	"github.com/devmirror/devmirror/transport"
	"github.com/devmirror/devmirror/wire"
)

// agentEntryPoint is the Java class the device runtime executes.
const agentEntryPoint = "com.devmirror.agent.Server"

// Connector provides the device transport hooks the client tunnels
// over. Listen establishes a reverse forward from the device to the
// host; Open dials a host-to-device forward stream.
type Connector interface {
	Listen(ctx context.Context) (net.Listener, error)
	Open(ctx context.Context) (io.ReadWriteCloser, error)
}

// AgentProcess is the running device-side agent as seen by the
// client. process.Handle satisfies it; tests substitute fakes.
type AgentProcess interface {
	Exit() *future.Future[int]
	OutputLines() []string
	DrainOutput(ctx context.Context) error
	Kill() error
}

// Spawner launches the agent process on the device with exactly the
// argument vector the client assembles.
type Spawner interface {
	Spawn(ctx context.Context, args []string) (AgentProcess, error)
}

// PrematureExitError reports an agent that exited before yielding the
// negotiated sockets. Output carries the agent's captured log so the
// device-side failure is diagnosable from the host.
type PrematureExitError struct {
	ExitCode int
	Output   []string
}

func (e *PrematureExitError) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("mirror: agent exited with status %d before connecting", e.ExitCode)
	}
	return fmt.Sprintf("mirror: agent exited with status %d before connecting:\n%s",
		e.ExitCode, strings.Join(e.Output, "\n"))
}

// Config assembles a mirroring client.
type Config struct {
	Options   Options
	Connector Connector
	Spawner   Spawner

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is one established mirroring session: the agent is running,
// the tunnel handshake has completed, and the negotiated channels are
// available. Obtain one through Start.
type Client struct {
	options    Options
	logger     *slog.Logger
	agent      AgentProcess
	deviceName string

	video      *MediaStream
	audio      *MediaStream
	controller *Controller

	geometry *geometryTracker

	closeOnce sync.Once
	closeErr  error
}

// acceptResult is what the socket-accepting goroutine resolves while
// Start races it against agent death.
type acceptResult struct {
	deviceName string
	video      *MediaStream
	audio      *MediaStream
	control    net.Conn
}

// Start spawns the device agent and completes the connection
// handshake. It establishes a reverse tunnel first and falls back to a
// forward tunnel exactly once if the device transport rejects reverse
// forwarding; Options.TunnelForward skips straight to forward mode.
//
// If the agent dies before all negotiated sockets arrive, Start
// returns a PrematureExitError carrying the agent's captured output.
func Start(ctx context.Context, config Config) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	options := config.Options
	if err := options.validate(); err != nil {
		return nil, err
	}

	tunnel, err := establishTunnel(ctx, config, logger)
	if err != nil {
		return nil, err
	}
	// The fallback may have switched the tunnel mode; the agent must be
	// told the mode actually in use or it dials out while the client
	// waits for it to listen.
	options.TunnelForward = tunnel.Mode() == transport.ModeForward

	arguments := agentArguments(options)
	logger.Debug("spawning agent", "args", arguments)
	agent, err := config.Spawner.Spawn(ctx, arguments)
	if err != nil {
		tunnel.Dispose()
		return nil, fmt.Errorf("mirror: spawning agent: %w", err)
	}

	result, err := awaitSockets(ctx, tunnel, agent, options, logger)
	// The streams are extracted; the tunnel's listener has no further
	// role either way.
	tunnel.Dispose()
	if err != nil {
		agent.Kill()
		return nil, err
	}

	client := &Client{
		options:    options,
		logger:     logger,
		agent:      agent,
		deviceName: result.deviceName,
		video:      result.video,
		audio:      result.audio,
	}
	if result.video != nil {
		client.geometry = newGeometryTracker(result.video.Codec, logger)
		result.video.inspector = client.geometry
	}
	if result.control != nil {
		client.controller = NewController(result.control, logger)
	}
	logger.Info("mirror session established",
		"device", result.deviceName,
		"tunnel", tunnel.Mode().String())
	return client, nil
}

// establishTunnel negotiates the side channel, trying reverse mode and
// falling back to forward exactly once on an unsupported-capability
// rejection.
func establishTunnel(ctx context.Context, config Config, logger *slog.Logger) (*transport.Tunnel, error) {
	forward := transport.TunnelConfig{
		Mode:   transport.ModeForward,
		Open:   config.Connector.Open,
		Logger: logger,
	}
	if config.Options.TunnelForward {
		return transport.Establish(ctx, forward)
	}
	tunnel, err := transport.Establish(ctx, transport.TunnelConfig{
		Mode:   transport.ModeReverse,
		Listen: config.Connector.Listen,
		Logger: logger,
	})
	if errors.Is(err, transport.ErrUnsupportedCapability) {
		logger.Debug("reverse tunnel unsupported, falling back to forward mode")
		return transport.Establish(ctx, forward)
	}
	if err != nil {
		return nil, err
	}
	return tunnel, nil
}

// agentArguments builds the fixed-order agent argument vector. The
// agent binds positionally: classpath export, runtime invocation,
// working directory, entry point, protocol version, then options.
func agentArguments(options Options) []string {
	arguments := []string{
		"CLASSPATH=" + options.AgentPath,
		"app_process",
		"/",
		agentEntryPoint,
		ProtocolVersion,
	}
	return append(arguments, options.Serialize()...)
}

// awaitSockets accepts the negotiated sockets in agent order, racing
// the accept sequence against agent death and context cancellation.
func awaitSockets(ctx context.Context, tunnel *transport.Tunnel, agent AgentProcess, options Options, logger *slog.Logger) (*acceptResult, error) {
	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	outcome := future.New[*acceptResult]()
	go func() {
		result, err := acceptAll(acceptCtx, tunnel, options)
		if err != nil {
			outcome.Reject(err)
			return
		}
		outcome.Resolve(result)
	}()

	select {
	case <-outcome.Done():
	case <-agent.Exit().Done():
		// The agent may have exited cleanly after handing over every
		// socket; only a still-pending accept makes this premature.
		select {
		case <-outcome.Done():
		default:
			code, _ := agent.Exit().Result()
			cancelAccept()
			// The process has exited, so its output pump finishes on
			// its own; wait for the tail of the log.
			agent.DrainOutput(ctx)
			return nil, &PrematureExitError{ExitCode: code, Output: agent.OutputLines()}
		}
	case <-ctx.Done():
		cancelAccept()
		return nil, context.Cause(ctx)
	}

	result, err := outcome.Result()
	if err != nil {
		return nil, fmt.Errorf("mirror: accepting agent sockets: %w", err)
	}
	logger.Debug("agent sockets accepted", "device", result.deviceName)
	return result, nil
}

// acceptAll accepts and demultiplexes the socket sequence the agent
// opens: video first when enabled, then audio, then control. The first
// socket additionally carries the device name record.
func acceptAll(ctx context.Context, tunnel *transport.Tunnel, options Options) (*acceptResult, error) {
	result := &acceptResult{}
	first := true

	acceptOne := func() (net.Conn, *wire.ReaderSource, error) {
		conn, err := tunnel.Accept(ctx)
		if err != nil {
			return nil, nil, err
		}
		source := wire.NewReaderSource(conn)
		if first {
			first = false
			name, err := readDeviceName(source)
			if err != nil {
				conn.Close()
				return nil, nil, err
			}
			result.deviceName = name
		}
		return conn, source, nil
	}

	closePartial := func() {
		if result.video != nil {
			result.video.Close()
		}
		if result.audio != nil {
			result.audio.Close()
		}
	}

	if options.Video {
		conn, source, err := acceptOne()
		if err != nil {
			return nil, err
		}
		result.video, err = parseVideoStream(source, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	if options.Audio {
		conn, source, err := acceptOne()
		if err != nil {
			closePartial()
			return nil, err
		}
		result.audio, err = parseAudioStream(source, conn)
		if err != nil {
			conn.Close()
			closePartial()
			return nil, err
		}
	}
	if options.Control {
		conn, _, err := acceptOne()
		if err != nil {
			closePartial()
			return nil, err
		}
		result.control = conn
	}
	return result, nil
}

// DeviceName returns the name the device announced in its first
// record.
func (c *Client) DeviceName() string { return c.deviceName }

// Video returns the video stream, or nil when video was not
// negotiated.
func (c *Client) Video() *MediaStream { return c.video }

// Audio returns the audio stream, or nil when audio was not
// negotiated.
func (c *Client) Audio() *MediaStream { return c.audio }

// Control returns the control channel, or nil when control was not
// negotiated.
func (c *Client) Control() *Controller { return c.controller }

// Geometry reports the cropped frame geometry extracted from the
// encoded bitstream, and false until the first parameter set has been
// observed.
func (c *Client) Geometry() (Geometry, bool) {
	if c.geometry == nil {
		return Geometry{}, false
	}
	return c.geometry.current()
}

// Exit exposes the agent's exit future so callers can watch for the
// device side ending the session.
func (c *Client) Exit() *future.Future[int] { return c.agent.Exit() }

// Describe returns a one-line human-readable session summary.
func (c *Client) Describe() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("device=%q", c.deviceName))
	if c.video != nil {
		if geometry, ok := c.Geometry(); ok {
			parts = append(parts, fmt.Sprintf("video=%s %dx%d",
				c.video.Codec, geometry.Width, geometry.Height))
		} else {
			parts = append(parts, fmt.Sprintf("video=%s %dx%d",
				c.video.Codec, c.video.InitialWidth, c.video.InitialHeight))
		}
	}
	if c.audio != nil {
		parts = append(parts, "audio="+c.audio.Codec.String())
	}
	if c.controller != nil {
		parts = append(parts, "control=on")
	}
	return strings.Join(parts, " ")
}

// Close tears the session down: the channels are closed and the agent
// is killed. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.controller != nil {
			if err := c.controller.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				errs = append(errs, err)
			}
		}
		if c.video != nil {
			if err := c.video.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				errs = append(errs, err)
			}
		}
		if c.audio != nil {
			if err := c.audio.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				errs = append(errs, err)
			}
		}
		if err := c.agent.Kill(); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
