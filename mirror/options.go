// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion is the agent protocol revision this client speaks.
// It is passed to the agent at spawn time and must match the deployed
// agent archive.
const ProtocolVersion = "2.4"

// CodecID identifies a negotiated media codec. Values are the FourCC
// form carried in the stream metadata header.
type CodecID uint32

const (
	// CodecH264 is AVC video.
	CodecH264 CodecID = 0x68323634 // "h264"
	// CodecH265 is HEVC video.
	CodecH265 CodecID = 0x68323635 // "h265"
	// CodecAV1 is AV1 video.
	CodecAV1 CodecID = 0x00617631 // "av1"
	// CodecOpus is Opus audio.
	CodecOpus CodecID = 0x6f707573 // "opus"
	// CodecAAC is AAC audio.
	CodecAAC CodecID = 0x00616163 // "aac"
	// CodecRaw is uncompressed PCM audio.
	CodecRaw CodecID = 0x00726177 // "raw"
)

// String returns the codec's lowercase name.
func (c CodecID) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecAV1:
		return "av1"
	case CodecOpus:
		return "opus"
	case CodecAAC:
		return "aac"
	case CodecRaw:
		return "raw"
	default:
		return fmt.Sprintf("codec(0x%08x)", uint32(c))
	}
}

// Options configures one mirroring session. The zero value is not
// useful; start from [DefaultOptions].
type Options struct {
	// AgentPath is where the agent archive is deployed on the device.
	AgentPath string

	// Video, Audio and Control toggle the corresponding streams. The
	// agent opens one socket per enabled stream, in that order.
	Video   bool
	Audio   bool
	Control bool

	// VideoCodec and AudioCodec request specific encoders.
	VideoCodec CodecID
	AudioCodec CodecID

	// MaxSize caps the longer video dimension in pixels; zero means
	// the device's native size.
	MaxSize int

	// VideoBitRate is the target encoder bit rate in bits per second.
	VideoBitRate int

	// TunnelForward selects the forward tunnel mode. Start flips this
	// once when the device rejects reverse forwarding; callers can
	// also set it up front.
	TunnelForward bool
}

// DefaultOptions returns the options for a plain mirroring session.
func DefaultOptions() *Options {
	return &Options{
		AgentPath:    "/data/local/tmp/devmirror-agent.jar",
		Video:        true,
		Audio:        true,
		Control:      true,
		VideoCodec:   CodecH264,
		AudioCodec:   CodecOpus,
		VideoBitRate: 8_000_000,
	}
}

// Serialize renders the option list the agent parses from its argv.
// The order is fixed: the agent reads key=value pairs positionally
// after the protocol version.
func (o *Options) Serialize() []string {
	return []string{
		"video=" + strconv.FormatBool(o.Video),
		"audio=" + strconv.FormatBool(o.Audio),
		"control=" + strconv.FormatBool(o.Control),
		"video_codec=" + o.VideoCodec.String(),
		"audio_codec=" + o.AudioCodec.String(),
		"max_size=" + strconv.Itoa(o.MaxSize),
		"video_bit_rate=" + strconv.Itoa(o.VideoBitRate),
		"tunnel_forward=" + strconv.FormatBool(o.TunnelForward),
	}
}

// validate rejects option combinations the agent cannot honor.
func (o *Options) validate() error {
	if o.AgentPath == "" {
		return fmt.Errorf("mirror: agent path not set")
	}
	if !o.Video && !o.Audio && !o.Control {
		return fmt.Errorf("mirror: at least one of video, audio or control must be enabled")
	}
	if o.Audio && !versionSupportsAudio(ProtocolVersion) {
		return fmt.Errorf("mirror: protocol %s does not support audio", ProtocolVersion)
	}
	return nil
}

// versionSupportsAudio reports whether an agent protocol version can
// carry an audio stream. Audio arrived in the 2.0 protocol; older
// agents never open an audio socket regardless of options.
func versionSupportsAudio(version string) bool {
	major, _, _ := strings.Cut(version, ".")
	value, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	return value >= 2
}
