// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the canonical serialization codec used by
// manifest artifacts: integers, byte strings, text strings, arrays,
// and maps, each encodable in either definite or indefinite (break-
// terminated) length form. The wire format follows CBOR's major-type
// conventions (as documented informally in bureau's lib/codec), but is
// hand-implemented here rather than delegated to a CBOR library,
// because the library available in this lineage (fxamacker/cbor/v2,
// wrapped by lib/codec) disables indefinite-length items in its
// canonical encoding mode and this codec's own streaming requirement
// depends on them.
package wire

import (
	"bufio"
	"fmt"
	"io"
)

// Major types, matching CBOR's own.
const (
	majorUint    = 0
	majorNegInt  = 1
	majorBytes   = 2
	majorText    = 3
	majorArray   = 4
	majorMap     = 5
	majorSpecial = 7
)

const (
	additionalIndefinite = 31
	breakByte            = 0xff
)

// Encoder writes wire-format values to an underlying writer.
type Encoder struct {
	w   io.Writer
	err error
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered by any write on e, if any.
// Once an Encoder has failed, all further writes are no-ops.
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) writeHeader(major byte, value uint64) {
	if e.err != nil {
		return
	}
	switch {
	case value < 24:
		e.writeBytes([]byte{major<<5 | byte(value)})
	case value <= 0xff:
		e.writeBytes([]byte{major<<5 | 24, byte(value)})
	case value <= 0xffff:
		e.writeBytes([]byte{major<<5 | 25, byte(value >> 8), byte(value)})
	case value <= 0xffffffff:
		e.writeBytes([]byte{
			major<<5 | 26,
			byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		})
	default:
		e.writeBytes([]byte{
			major<<5 | 27,
			byte(value >> 56), byte(value >> 48), byte(value >> 40), byte(value >> 32),
			byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		})
	}
}

func (e *Encoder) writeIndefiniteHeader(major byte) {
	if e.err != nil {
		return
	}
	e.writeBytes([]byte{major<<5 | additionalIndefinite})
}

func (e *Encoder) writeBytes(b []byte) {
	if e.err != nil {
		return
	}
	if _, err := e.w.Write(b); err != nil {
		e.err = err
	}
}

// WriteUint encodes a non-negative integer, covering the full
// unsigned 64-bit range.
func (e *Encoder) WriteUint(v uint64) {
	e.writeHeader(majorUint, v)
}

// WriteInt encodes a signed integer of any value representable as an
// int64, covering [-2^63, 2^63-1]. Values needing the extended
// unsigned range up to 2^64-1 should use WriteUint directly.
func (e *Encoder) WriteInt(v int64) {
	if v >= 0 {
		e.writeHeader(majorUint, uint64(v))
		return
	}
	e.writeHeader(majorNegInt, uint64(-1-v))
}

// WriteBytes encodes a definite-length byte string.
func (e *Encoder) WriteBytes(b []byte) {
	e.writeHeader(majorBytes, uint64(len(b)))
	e.writeBytes(b)
}

// WriteText encodes a definite-length UTF-8 text string.
func (e *Encoder) WriteText(s string) {
	e.writeHeader(majorText, uint64(len(s)))
	e.writeBytes([]byte(s))
}

// BeginArray writes a definite-length array header for n items. The
// caller must then write exactly n items.
func (e *Encoder) BeginArray(n uint64) {
	e.writeHeader(majorArray, n)
}

// BeginIndefiniteArray writes an indefinite-length array header. The
// caller must write EndIndefinite after the last item.
func (e *Encoder) BeginIndefiniteArray() {
	e.writeIndefiniteHeader(majorArray)
}

// BeginMap writes a definite-length map header for n key/value pairs.
func (e *Encoder) BeginMap(n uint64) {
	e.writeHeader(majorMap, n)
}

// BeginIndefiniteMap writes an indefinite-length map header.
func (e *Encoder) BeginIndefiniteMap() {
	e.writeIndefiniteHeader(majorMap)
}

// EndIndefinite writes the break marker terminating the most recently
// opened indefinite-length array or map.
func (e *Encoder) EndIndefinite() {
	e.writeBytes([]byte{breakByte})
}

// Decoder reads wire-format values from an underlying reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// Header describes one decoded item header: its major type, its
// numeric value (length for strings/arrays/maps, magnitude for
// integers), and whether it used the indefinite-length form.
type Header struct {
	Major       byte
	Value       uint64
	Indefinite  bool
}

// PeekIsBreak reports whether the next byte is the break marker,
// without consuming it unless it is. Call this before decoding the
// next item of an indefinite-length array or map to detect its end.
func (d *Decoder) PeekIsBreak() (bool, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return false, err
	}
	if b[0] == breakByte {
		if _, err := d.r.ReadByte(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ReadHeader decodes the next item's header.
func (d *Decoder) ReadHeader() (Header, error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return Header{}, err
	}

	if first == breakByte {
		return Header{Major: majorSpecial, Indefinite: true}, nil
	}

	major := first >> 5
	additional := first & 0x1f

	switch {
	case additional < 24:
		return Header{Major: major, Value: uint64(additional)}, nil
	case additional == 24:
		b, err := d.r.ReadByte()
		if err != nil {
			return Header{}, err
		}
		return Header{Major: major, Value: uint64(b)}, nil
	case additional == 25:
		return d.readHeaderN(major, 2)
	case additional == 26:
		return d.readHeaderN(major, 4)
	case additional == 27:
		return d.readHeaderN(major, 8)
	case additional == additionalIndefinite:
		return Header{Major: major, Indefinite: true}, nil
	default:
		return Header{}, fmt.Errorf("wire: reserved additional-info value %d", additional)
	}
}

func (d *Decoder) readHeaderN(major byte, n int) (Header, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return Header{}, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return Header{Major: major, Value: v}, nil
}

// ReadUint decodes an unsigned integer item.
func (d *Decoder) ReadUint() (uint64, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return 0, err
	}
	if h.Major != majorUint {
		return 0, fmt.Errorf("wire: expected uint major type, got %d", h.Major)
	}
	return h.Value, nil
}

// ReadInt decodes a signed integer item (either major type 0 or 1).
func (d *Decoder) ReadInt() (int64, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return 0, err
	}
	switch h.Major {
	case majorUint:
		return int64(h.Value), nil
	case majorNegInt:
		return -1 - int64(h.Value), nil
	default:
		return 0, fmt.Errorf("wire: expected integer major type, got %d", h.Major)
	}
}

// ReadBytes decodes a definite-length byte string item.
func (d *Decoder) ReadBytes() ([]byte, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return nil, err
	}
	if h.Major != majorBytes || h.Indefinite {
		return nil, fmt.Errorf("wire: expected definite byte string")
	}
	buf := make([]byte, h.Value)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadText decodes a definite-length text string item.
func (d *Decoder) ReadText() (string, error) {
	b, err := d.readStringMajor(majorText)
	return string(b), err
}

func (d *Decoder) readStringMajor(major byte) ([]byte, error) {
	h, err := d.ReadHeader()
	if err != nil {
		return nil, err
	}
	if h.Major != major || h.Indefinite {
		return nil, fmt.Errorf("wire: expected definite string of major type %d", major)
	}
	buf := make([]byte, h.Value)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadArrayHeader decodes an array header, returning length 0 with
// indefinite=true when it is the indefinite-length form (in which
// case the caller should read items until PeekIsBreak reports true).
func (d *Decoder) ReadArrayHeader() (length uint64, indefinite bool, err error) {
	h, err := d.ReadHeader()
	if err != nil {
		return 0, false, err
	}
	if h.Major != majorArray {
		return 0, false, fmt.Errorf("wire: expected array, got major type %d", h.Major)
	}
	return h.Value, h.Indefinite, nil
}

// ReadMapHeader decodes a map header analogously to ReadArrayHeader.
func (d *Decoder) ReadMapHeader() (length uint64, indefinite bool, err error) {
	h, err := d.ReadHeader()
	if err != nil {
		return 0, false, err
	}
	if h.Major != majorMap {
		return 0, false, fmt.Errorf("wire: expected map, got major type %d", h.Major)
	}
	return h.Value, h.Indefinite, nil
}
