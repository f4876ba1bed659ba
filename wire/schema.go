// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements a declarative binary record codec: a schema
// is an ordered list of named field codecs (the full numeric catalogue
// plus length-prefixed bytes), shared across every message of a
// protocol.
//
// Decoding is resumable. Each field requests exactly its byte count
// from a [Source]; a source backed by incremental delivery
// ([PushSource]) suspends the decoding goroutine mid-field until enough
// bytes arrive, then resumes without re-parsing. Decoding therefore
// behaves identically whether the input is fully buffered or dribbles
// in one byte at a time, and never speculatively over-reads past the
// current field.
//
// A source exhausted exactly on a record boundary yields io.EOF — a
// clean protocol end. Exhaustion mid-record yields [ErrUnexpectedEnd],
// which callers treat as truncation rather than termination.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Schema is an ordered, immutable sequence of named fields describing
// one record layout. The byte order applies to every numeric field.
type Schema struct {
	order  binary.ByteOrder
	fields []Field
}

// NewSchema builds a schema. Field names must be unique; a bytes field
// must name an earlier numeric field as its length.
func NewSchema(order binary.ByteOrder, fields ...Field) *Schema {
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		if seen[field.Name()] {
			panic(fmt.Sprintf("wire: duplicate field %q", field.Name()))
		}
		seen[field.Name()] = true
		if linked, ok := field.(*bytesField); ok && !seen[linked.lengthField] {
			panic(fmt.Sprintf("wire: field %q references length field %q that does not precede it",
				linked.name, linked.lengthField))
		}
	}
	return &Schema{order: order, fields: fields}
}

// Encode serializes values into a record. Length fields linked from a
// bytes field are filled in from the payload length automatically when
// the caller did not set them.
func (s *Schema) Encode(values Values) ([]byte, error) {
	filled := s.fillLengths(values)
	var buffer bytes.Buffer
	for _, field := range s.fields {
		if err := field.Encode(&buffer, filled, s.order); err != nil {
			return nil, fmt.Errorf("wire: encoding field %q: %w", field.Name(), err)
		}
	}
	return buffer.Bytes(), nil
}

// EncodeTo serializes values and writes the record to w in one Write
// call, so a packet is never interleaved with a concurrent writer's
// packet on the same stream.
func (s *Schema) EncodeTo(w io.Writer, values Values) error {
	record, err := s.Encode(values)
	if err != nil {
		return err
	}
	if _, err := w.Write(record); err != nil {
		return fmt.Errorf("wire: writing record: %w", err)
	}
	return nil
}

// fillLengths returns values extended with computed lengths for every
// bytes field whose linked length field the caller left unset.
func (s *Schema) fillLengths(values Values) Values {
	var filled Values
	for _, field := range s.fields {
		linked, ok := field.(*bytesField)
		if !ok {
			continue
		}
		if _, set := values[linked.lengthField]; set {
			continue
		}
		payload, err := linked.payload(values)
		if err != nil {
			// Encode will report the missing payload with context.
			continue
		}
		if filled == nil {
			filled = make(Values, len(values)+1)
			for name, value := range values {
				filled[name] = value
			}
		}
		filled[linked.lengthField] = len(payload)
	}
	if filled == nil {
		return values
	}
	return filled
}

// Decode reads one record from source, consuming exactly the declared
// byte count of every field. io.EOF before the first byte of the
// record is returned unchanged (clean boundary); exhaustion anywhere
// after that is reported as ErrUnexpectedEnd.
func (s *Schema) Decode(source Source) (Values, error) {
	values := make(Values, len(s.fields))
	for index, field := range s.fields {
		if err := field.Decode(source, values, s.order); err != nil {
			if index == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("wire: decoding field %q: %w", field.Name(), ErrUnexpectedEnd)
			}
			return nil, fmt.Errorf("wire: decoding field %q: %w", field.Name(), err)
		}
	}
	return values, nil
}
