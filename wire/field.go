// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Values holds the decoded or to-be-encoded field values of one record,
// keyed by field name. Numeric fields store their exact Go type
// (uint8 through int64); bytes fields store []byte; string fields store
// string.
type Values map[string]any

// Uint returns the named value coerced to uint64. It accepts any of
// the integer types a numeric field produces, so length arithmetic and
// tag dispatch do not need to know the field's declared width.
func (v Values) Uint(name string) (uint64, error) {
	raw, ok := v[name]
	if !ok {
		return 0, fmt.Errorf("wire: field %q missing", name)
	}
	value, ok := coerceUint(raw)
	if !ok {
		return 0, fmt.Errorf("wire: field %q is %T, not an integer", name, raw)
	}
	return value, nil
}

// Bytes returns the named []byte value.
func (v Values) Bytes(name string) ([]byte, error) {
	raw, ok := v[name]
	if !ok {
		return nil, fmt.Errorf("wire: field %q missing", name)
	}
	value, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: field %q is %T, not []byte", name, raw)
	}
	return value, nil
}

// String returns a text field's value, accepting either string or
// []byte storage.
func (v Values) String(name string) (string, error) {
	raw, ok := v[name]
	if !ok {
		return "", fmt.Errorf("wire: field %q missing", name)
	}
	switch value := raw.(type) {
	case string:
		return value, nil
	case []byte:
		return string(value), nil
	default:
		return "", fmt.Errorf("wire: field %q is %T, not string or []byte", name, raw)
	}
}

func coerceUint(raw any) (uint64, bool) {
	switch value := raw.(type) {
	case uint8:
		return uint64(value), true
	case uint16:
		return uint64(value), true
	case uint32:
		return uint64(value), true
	case uint64:
		return value, true
	case int8:
		return uint64(value), true
	case int16:
		return uint64(value), true
	case int32:
		return uint64(value), true
	case int64:
		return uint64(value), true
	case int:
		return uint64(value), true
	default:
		return 0, false
	}
}

// Field is one named unit of a record schema. Encode appends the
// field's serialized bytes; Decode requests exactly the field's byte
// count from the source and stores the decoded value. Both honor the
// schema-level byte order.
type Field interface {
	Name() string
	Encode(buffer *bytes.Buffer, values Values, order binary.ByteOrder) error
	Decode(source Source, values Values, order binary.ByteOrder) error
}

// numericField covers the full numeric catalogue: 1, 2, 4 and 8 byte
// widths, signed and unsigned. 8-byte values use Go's native
// int64/uint64 so no precision is lost.
type numericField struct {
	name   string
	size   int
	signed bool
}

// Uint8 declares a 1-byte unsigned field.
func Uint8(name string) Field { return &numericField{name: name, size: 1} }

// Int8 declares a 1-byte signed field.
func Int8(name string) Field { return &numericField{name: name, size: 1, signed: true} }

// Uint16 declares a 2-byte unsigned field.
func Uint16(name string) Field { return &numericField{name: name, size: 2} }

// Int16 declares a 2-byte signed field.
func Int16(name string) Field { return &numericField{name: name, size: 2, signed: true} }

// Uint32 declares a 4-byte unsigned field.
func Uint32(name string) Field { return &numericField{name: name, size: 4} }

// Int32 declares a 4-byte signed field.
func Int32(name string) Field { return &numericField{name: name, size: 4, signed: true} }

// Uint64 declares an 8-byte unsigned field.
func Uint64(name string) Field { return &numericField{name: name, size: 8} }

// Int64 declares an 8-byte signed field.
func Int64(name string) Field { return &numericField{name: name, size: 8, signed: true} }

func (f *numericField) Name() string { return f.name }

func (f *numericField) Encode(buffer *bytes.Buffer, values Values, order binary.ByteOrder) error {
	value, err := values.Uint(f.name)
	if err != nil {
		return err
	}
	var scratch [8]byte
	switch f.size {
	case 1:
		scratch[0] = byte(value)
	case 2:
		order.PutUint16(scratch[:2], uint16(value))
	case 4:
		order.PutUint32(scratch[:4], uint32(value))
	case 8:
		order.PutUint64(scratch[:8], value)
	}
	buffer.Write(scratch[:f.size])
	return nil
}

func (f *numericField) Decode(source Source, values Values, order binary.ByteOrder) error {
	raw, err := source.Next(f.size)
	if err != nil {
		return err
	}
	var value uint64
	switch f.size {
	case 1:
		value = uint64(raw[0])
	case 2:
		value = uint64(order.Uint16(raw))
	case 4:
		value = uint64(order.Uint32(raw))
	case 8:
		value = order.Uint64(raw)
	}
	values[f.name] = f.typed(value)
	return nil
}

// typed narrows the raw value to the field's exact Go type, sign
// extending for signed widths.
func (f *numericField) typed(value uint64) any {
	if f.signed {
		switch f.size {
		case 1:
			return int8(value)
		case 2:
			return int16(value)
		case 4:
			return int32(value)
		default:
			return int64(value)
		}
	}
	switch f.size {
	case 1:
		return uint8(value)
	case 2:
		return uint16(value)
	case 4:
		return uint32(value)
	default:
		return value
	}
}

// maxBytesFieldLength caps a decoded variable-length field. Protocols
// carried over this codec frame payloads far below this; a length
// beyond it indicates a corrupt or hostile stream, not a large record.
const maxBytesFieldLength = 1 << 30

// bytesField is a variable-length payload whose byte count comes from
// a previously decoded field. Decoding first resolves the length, then
// requests exactly that many bytes — never more.
type bytesField struct {
	name        string
	lengthField string
	asString    bool
}

// Bytes declares a variable-length byte field whose length is carried
// by the named earlier field. When encoding, the schema fills in the
// length field from the payload automatically unless the caller set it
// explicitly.
func Bytes(name, lengthField string) Field {
	return &bytesField{name: name, lengthField: lengthField}
}

// String declares a UTF-8 text field with the same length linkage as
// [Bytes].
func String(name, lengthField string) Field {
	return &bytesField{name: name, lengthField: lengthField, asString: true}
}

// fixedBytesField is a payload of a constant byte count known from the
// schema itself, such as a fixed-width name record.
type fixedBytesField struct {
	name string
	size int
}

// BytesFixed declares a byte field of exactly size bytes. Encoding
// pads a shorter value with zero bytes; a longer value is an error.
func BytesFixed(name string, size int) Field {
	return &fixedBytesField{name: name, size: size}
}

func (f *fixedBytesField) Name() string { return f.name }

func (f *fixedBytesField) Encode(buffer *bytes.Buffer, values Values, order binary.ByteOrder) error {
	raw, ok := values[f.name]
	if !ok {
		return fmt.Errorf("wire: field %q missing", f.name)
	}
	var payload []byte
	switch value := raw.(type) {
	case []byte:
		payload = value
	case string:
		payload = []byte(value)
	default:
		return fmt.Errorf("wire: field %q is %T, not bytes or string", f.name, raw)
	}
	if len(payload) > f.size {
		return fmt.Errorf("wire: field %q is %d bytes, exceeds fixed size %d", f.name, len(payload), f.size)
	}
	buffer.Write(payload)
	for pad := len(payload); pad < f.size; pad++ {
		buffer.WriteByte(0)
	}
	return nil
}

func (f *fixedBytesField) Decode(source Source, values Values, order binary.ByteOrder) error {
	raw, err := source.Next(f.size)
	if err != nil {
		return err
	}
	values[f.name] = raw
	return nil
}

func (f *bytesField) Name() string { return f.name }

// payload returns the field's bytes from values, accepting either
// []byte or string storage.
func (f *bytesField) payload(values Values) ([]byte, error) {
	raw, ok := values[f.name]
	if !ok {
		return nil, fmt.Errorf("wire: field %q missing", f.name)
	}
	switch value := raw.(type) {
	case []byte:
		return value, nil
	case string:
		return []byte(value), nil
	default:
		return nil, fmt.Errorf("wire: field %q is %T, not bytes or string", f.name, raw)
	}
}

func (f *bytesField) Encode(buffer *bytes.Buffer, values Values, order binary.ByteOrder) error {
	payload, err := f.payload(values)
	if err != nil {
		return err
	}
	buffer.Write(payload)
	return nil
}

func (f *bytesField) Decode(source Source, values Values, order binary.ByteOrder) error {
	length, err := values.Uint(f.lengthField)
	if err != nil {
		return fmt.Errorf("wire: length for field %q: %w", f.name, err)
	}
	if length > maxBytesFieldLength {
		return fmt.Errorf("wire: field %q length %d exceeds maximum %d", f.name, length, maxBytesFieldLength)
	}
	raw, err := source.Next(int(length))
	if err != nil {
		return err
	}
	if f.asString {
		values[f.name] = string(raw)
	} else {
		values[f.name] = raw
	}
	return nil
}
