// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"io"
	"sync"
)

// ErrUnexpectedEnd reports that a byte source was exhausted partway
// through a required byte count. It is distinct from io.EOF, which a
// source returns only when it ends exactly on a request boundary:
// callers treat io.EOF as a clean protocol boundary and ErrUnexpectedEnd
// as truncation.
var ErrUnexpectedEnd = errors.New("wire: unexpected end of input")

// Source delivers bytes to a decoder on demand. Next(n) returns exactly
// n bytes once they are available, blocking if the underlying source
// has not delivered them yet. The returned slice is owned by the
// caller.
//
// If the source ends with zero bytes pending for the current request,
// Next returns io.EOF; if it ends after delivering some but not all of
// the requested bytes, Next returns ErrUnexpectedEnd. Any other error
// from the underlying source is returned as-is.
type Source interface {
	Next(n int) ([]byte, error)
}

// ReaderSource satisfies Next from an io.Reader, blocking in Read until
// the requested count arrives. It performs no buffering of its own
// beyond the requested bytes, so it never reads past the current field.
type ReaderSource struct {
	reader io.Reader
}

// NewReaderSource wraps r as a Source.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{reader: r}
}

// Next reads exactly n bytes from the underlying reader.
func (s *ReaderSource) Next(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buffer := make([]byte, n)
	if _, err := io.ReadFull(s.reader, buffer); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrUnexpectedEnd
		}
		return nil, err
	}
	return buffer, nil
}

// PushSource is an explicit state-holding source for push-style
// delivery: a producer calls Feed as chunks arrive (in any sizes), and
// a decoding goroutine's Next(n) suspends until at least n bytes are
// buffered, then resumes exactly where it left off without re-parsing
// consumed bytes. One field codec therefore behaves identically whether
// its input is fully buffered or arrives one byte at a time.
type PushSource struct {
	mu      sync.Mutex
	arrived *sync.Cond
	buffer  []byte
	ended   bool
	failure error
}

// NewPushSource creates an empty source.
func NewPushSource() *PushSource {
	source := &PushSource{}
	source.arrived = sync.NewCond(&source.mu)
	return source
}

// Feed appends a copy of chunk to the buffered bytes and wakes any
// suspended Next. Feeding after End or Fail panics: the producer
// contract is one terminal call.
func (s *PushSource) Feed(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.failure != nil {
		panic("wire: Feed after PushSource terminated")
	}
	s.buffer = append(s.buffer, chunk...)
	s.arrived.Broadcast()
}

// End marks the source as cleanly finished. Pending and future Next
// calls that cannot be satisfied from the remaining buffer return
// io.EOF (nothing buffered) or ErrUnexpectedEnd (partial bytes
// buffered).
func (s *PushSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.arrived.Broadcast()
}

// Fail marks the source as failed. Pending and future Next calls
// return err once the buffer cannot satisfy them.
func (s *PushSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
	s.arrived.Broadcast()
}

// Next returns exactly n buffered bytes, suspending the calling
// goroutine until they have been fed.
func (s *PushSource) Next(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buffer) < n && !s.ended && s.failure == nil {
		s.arrived.Wait()
	}
	if len(s.buffer) >= n {
		chunk := s.buffer[:n:n]
		s.buffer = s.buffer[n:]
		return chunk, nil
	}
	if s.failure != nil {
		return nil, s.failure
	}
	if len(s.buffer) == 0 {
		return nil, io.EOF
	}
	return nil, ErrUnexpectedEnd
}

// Buffered returns the number of bytes fed but not yet consumed.
func (s *PushSource) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}
