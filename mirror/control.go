// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"

	"github.com/devmirror/devmirror/transport"
	"github.com/devmirror/devmirror/wire"
)

// Control message types, host to device. Values are positional in the
// agent's dispatch table.
const (
	controlInjectKeycode  = 0
	controlInjectText     = 1
	controlInjectTouch    = 2
	controlInjectScroll   = 3
	controlBackOrScreenOn = 4
	controlSetClipboard   = 9
	controlRotateDevice   = 11
)

// Device message types, device to host.
const (
	deviceMessageClipboard    = 0
	deviceMessageAckClipboard = 1
)

// KeyAction is the press phase of a key or back event.
type KeyAction uint8

const (
	KeyActionDown KeyAction = 0
	KeyActionUp   KeyAction = 1
)

// TouchAction is the phase of a touch event.
type TouchAction uint8

const (
	TouchActionDown TouchAction = 0
	TouchActionUp   TouchAction = 1
	TouchActionMove TouchAction = 2
)

// maxTextLength caps injected and clipboard text, matching the
// agent's receive buffer.
const maxTextLength = 300_000

// Control message schemas, all big-endian like the media side.
var (
	keycodeSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint8("action"),
		wire.Uint32("keycode"),
		wire.Uint32("repeat"),
		wire.Uint32("metaState"),
	)
	textSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint32("length"),
		wire.String("text", "length"),
	)
	touchSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint8("action"),
		wire.Uint64("pointerID"),
		wire.Uint32("x"),
		wire.Uint32("y"),
		wire.Uint16("screenWidth"),
		wire.Uint16("screenHeight"),
		wire.Uint16("pressure"),
		wire.Uint32("buttons"),
	)
	scrollSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint32("x"),
		wire.Uint32("y"),
		wire.Uint16("screenWidth"),
		wire.Uint16("screenHeight"),
		wire.Int32("horizontal"),
		wire.Int32("vertical"),
	)
	backSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint8("action"),
	)
	clipboardSetSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
		wire.Uint64("sequence"),
		wire.Uint8("paste"),
		wire.Uint32("length"),
		wire.String("text", "length"),
	)
	rotateSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint8("type"),
	)
	clipboardDeviceSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint32("length"),
		wire.String("text", "length"),
	)
	ackDeviceSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint64("sequence"),
	)
)

// DeviceMessage is one message received from the agent on the control
// channel.
type DeviceMessage struct {
	// Clipboard carries the device clipboard content when the device
	// announces a clipboard change, and is empty for acks.
	Clipboard string

	// AckSequence is the sequence number of an acknowledged
	// SetClipboard, zero for clipboard announcements.
	AckSequence uint64
}

// Controller injects input events into the device and receives the
// agent's device messages. Writers are serialized; one message is
// never interleaved with another.
type Controller struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	sequenceMu sync.Mutex
	sequence   uint64

	scrollMu         sync.Mutex
	scrollHorizontal float64
	scrollVertical   float64

	messages chan DeviceMessage

	readMu  sync.Mutex
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// NewController wraps an accepted control socket and starts the
// device-message reader.
func NewController(conn net.Conn, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	controller := &Controller{
		conn:     conn,
		logger:   logger,
		messages: make(chan DeviceMessage, 16),
	}
	go controller.readDeviceMessages()
	return controller
}

// Messages yields device messages in arrival order. The channel is
// closed when the control socket ends; Err distinguishes a clean end
// from a failure.
func (c *Controller) Messages() <-chan DeviceMessage { return c.messages }

// Err reports why the device-message reader stopped. It is nil while
// the reader is running and after a clean end, and carries the
// terminal error once Messages has closed on a failure.
func (c *Controller) Err() error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.readErr
}

func (c *Controller) send(schema *wire.Schema, values wire.Values) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := schema.EncodeTo(c.conn, values); err != nil {
		return fmt.Errorf("mirror: sending control message: %w", err)
	}
	return nil
}

// InjectKeycode sends one key event.
func (c *Controller) InjectKeycode(action KeyAction, keycode, repeat, metaState uint32) error {
	return c.send(keycodeSchema, wire.Values{
		"type":      uint8(controlInjectKeycode),
		"action":    uint8(action),
		"keycode":   keycode,
		"repeat":    repeat,
		"metaState": metaState,
	})
}

// InjectText types a UTF-8 string on the device.
func (c *Controller) InjectText(text string) error {
	if len(text) > maxTextLength {
		return fmt.Errorf("mirror: text length %d exceeds limit %d", len(text), maxTextLength)
	}
	return c.send(textSchema, wire.Values{
		"type": uint8(controlInjectText),
		"text": text,
	})
}

// InjectTouch sends one touch event at device coordinates. Pressure
// is normalized to [0, 1] and encoded as 16-bit fixed point.
func (c *Controller) InjectTouch(action TouchAction, pointerID uint64, x, y uint32, screenWidth, screenHeight uint16, pressure float64, buttons uint32) error {
	return c.send(touchSchema, wire.Values{
		"type":         uint8(controlInjectTouch),
		"action":       uint8(action),
		"pointerID":    pointerID,
		"x":            x,
		"y":            y,
		"screenWidth":  screenWidth,
		"screenHeight": screenHeight,
		"pressure":     fixedPointPressure(pressure),
		"buttons":      buttons,
	})
}

// fixedPointPressure encodes a [0, 1] pressure as unsigned 16-bit
// fixed point, saturating at the top of the range.
func fixedPointPressure(pressure float64) uint16 {
	if pressure <= 0 {
		return 0
	}
	if pressure >= 1 {
		return math.MaxUint16
	}
	return uint16(pressure * 0x10000)
}

// Scroll accumulates fractional scroll deltas at a device position
// and emits one scroll message each time an axis crosses a whole
// unit, carrying the integral part and retaining the remainder.
// Sub-unit deltas therefore coalesce instead of flooding the agent.
func (c *Controller) Scroll(x, y uint32, screenWidth, screenHeight uint16, horizontal, vertical float64) error {
	c.scrollMu.Lock()
	c.scrollHorizontal += horizontal
	c.scrollVertical += vertical
	wholeHorizontal := math.Trunc(c.scrollHorizontal)
	wholeVertical := math.Trunc(c.scrollVertical)
	c.scrollHorizontal -= wholeHorizontal
	c.scrollVertical -= wholeVertical
	c.scrollMu.Unlock()

	if wholeHorizontal == 0 && wholeVertical == 0 {
		return nil
	}
	return c.send(scrollSchema, wire.Values{
		"type":         uint8(controlInjectScroll),
		"x":            x,
		"y":            y,
		"screenWidth":  screenWidth,
		"screenHeight": screenHeight,
		"horizontal":   int32(wholeHorizontal),
		"vertical":     int32(wholeVertical),
	})
}

// PressBack sends a back event, which also wakes the screen when it
// is off.
func (c *Controller) PressBack(action KeyAction) error {
	return c.send(backSchema, wire.Values{
		"type":   uint8(controlBackOrScreenOn),
		"action": uint8(action),
	})
}

// SetClipboard replaces the device clipboard and returns the sequence
// number the agent will acknowledge with. When paste is set the agent
// also pastes the content into the focused field.
func (c *Controller) SetClipboard(text string, paste bool) (uint64, error) {
	if len(text) > maxTextLength {
		return 0, fmt.Errorf("mirror: clipboard length %d exceeds limit %d", len(text), maxTextLength)
	}
	c.sequenceMu.Lock()
	c.sequence++
	sequence := c.sequence
	c.sequenceMu.Unlock()

	pasteFlag := uint8(0)
	if paste {
		pasteFlag = 1
	}
	err := c.send(clipboardSetSchema, wire.Values{
		"type":     uint8(controlSetClipboard),
		"sequence": sequence,
		"paste":    pasteFlag,
		"text":     text,
	})
	if err != nil {
		return 0, err
	}
	return sequence, nil
}

// RotateDevice rotates the device screen one quarter turn.
func (c *Controller) RotateDevice() error {
	return c.send(rotateSchema, wire.Values{
		"type": uint8(controlRotateDevice),
	})
}

// readDeviceMessages pumps the device-to-host side of the control
// socket until it ends. A clean end closes the message channel
// without noise; a failure records the error, closes the socket and
// then closes the channel.
func (c *Controller) readDeviceMessages() {
	defer close(c.messages)
	source := wire.NewReaderSource(c.conn)
	for {
		header, err := source.Next(1)
		if err != nil {
			c.finishReader(err)
			return
		}
		switch header[0] {
		case deviceMessageClipboard:
			values, err := clipboardDeviceSchema.Decode(source)
			if err != nil {
				c.finishReader(err)
				return
			}
			text, _ := values.String("text")
			c.messages <- DeviceMessage{Clipboard: text}
		case deviceMessageAckClipboard:
			values, err := ackDeviceSchema.Decode(source)
			if err != nil {
				c.finishReader(err)
				return
			}
			sequence, _ := values.Uint("sequence")
			c.messages <- DeviceMessage{AckSequence: sequence}
		default:
			c.finishReader(fmt.Errorf("mirror: unknown device message type %d", header[0]))
			return
		}
	}
}

// finishReader settles the reader's terminal state. The error is
// recorded before the message channel closes so a consumer observing
// the close always sees it through Err.
func (c *Controller) finishReader(err error) {
	if err == io.EOF || transport.IsExpectedCloseError(err) {
		c.logger.Debug("control channel ended")
		return
	}
	c.logger.Warn("control channel read failed", "error", err)
	c.readMu.Lock()
	c.readErr = err
	c.readMu.Unlock()
	// A failed channel cannot accept further injections either.
	c.Close()
}

// Close closes the control socket, ending the reader.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
