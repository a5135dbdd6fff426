// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frames are encoded in the protobuf wire format:
//
//	message Trace  { repeated Frame frame = 1; }
//	message Frame  { uint64 ip = 1; uint64 symbol_address = 2; bool resolved = 3; repeated Symbol symbol = 4; }
//	message Symbol { optional bytes name = 1; optional uint64 addr = 2; optional string filename = 3; optional uint32 lineno = 4; }
//
// The encoder always writes fields in order and omits absent ones,
// and the decoder only accepts this canonical form. So decoding and encoding
// a record again reproduces the original bytes.

var ErrMalformedRecord = errors.New("malformed backtrace record")

const (
	traceFrame protowire.Number = 1

	frameIP            protowire.Number = 1
	frameSymbolAddress protowire.Number = 2
	frameResolved      protowire.Number = 3
	frameSymbol        protowire.Number = 4

	symbolName     protowire.Number = 1
	symbolAddr     protowire.Number = 2
	symbolFilename protowire.Number = 3
	symbolLineno   protowire.Number = 4
)

// MarshalBinary encodes the frame address pair and its symbols.
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(nil)
}

// AppendBinary is like MarshalBinary, but appends to b.
func (f Frame) AppendBinary(b []byte) ([]byte, error) {
	return appendFrame(b, f), nil
}

// UnmarshalBinary restores a frame encoded with MarshalBinary.
// The frame is not linked to any live stack; its symbols are exactly the encoded ones.
func (f *Frame) UnmarshalBinary(data []byte) error {
	frame, err := decodeFrame(data)
	if err != nil {
		return err
	}
	*f = frame
	return nil
}

// EncodeFrames encodes a sequence of frames as one record.
func EncodeFrames(frames []Frame) []byte {
	var b, tmp []byte
	for _, f := range frames {
		tmp = appendFrame(tmp[:0], f)
		b = protowire.AppendTag(b, traceFrame, protowire.BytesType)
		b = protowire.AppendBytes(b, tmp)
	}
	return b
}

// DecodeFrames decodes frames encoded with EncodeFrames.
func DecodeFrames(data []byte) ([]Frame, error) {
	d := &decoder{buf: data, what: "trace"}
	var frames []Frame
	for !d.done() {
		if err := d.field(traceFrame, protowire.BytesType, true); err != nil {
			return nil, err
		}
		msg, err := d.bytes()
		if err != nil {
			return nil, err
		}
		frame, err := decodeFrame(msg)
		if err != nil {
			return nil, fmt.Errorf("frame #%v: %w", len(frames), err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func appendFrame(b []byte, f Frame) []byte {
	b = protowire.AppendTag(b, frameIP, protowire.VarintType)
	b = protowire.AppendVarint(b, f.IP())
	b = protowire.AppendTag(b, frameSymbolAddress, protowire.VarintType)
	b = protowire.AppendVarint(b, f.SymbolAddress())
	if !f.resolved {
		return b
	}
	b = protowire.AppendTag(b, frameResolved, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	var tmp []byte
	for _, s := range f.symbols {
		tmp = appendSymbol(tmp[:0], s)
		b = protowire.AppendTag(b, frameSymbol, protowire.BytesType)
		b = protowire.AppendBytes(b, tmp)
	}
	return b
}

func appendSymbol(b []byte, s Symbol) []byte {
	if s.has&hasName != 0 {
		b = protowire.AppendTag(b, symbolName, protowire.BytesType)
		b = protowire.AppendBytes(b, s.name)
	}
	if s.has&hasAddr != 0 {
		b = protowire.AppendTag(b, symbolAddr, protowire.VarintType)
		b = protowire.AppendVarint(b, s.addr)
	}
	if s.has&hasFilename != 0 {
		b = protowire.AppendTag(b, symbolFilename, protowire.BytesType)
		b = protowire.AppendString(b, s.filename)
	}
	if s.has&hasLineno != 0 {
		b = protowire.AppendTag(b, symbolLineno, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.lineno))
	}
	return b
}

func decodeFrame(data []byte) (Frame, error) {
	d := &decoder{buf: data, what: "frame"}
	var h reconstructedHandle
	var err error
	if err := d.field(frameIP, protowire.VarintType, false); err != nil {
		return Frame{}, err
	}
	if h.ip, err = d.varint(); err != nil {
		return Frame{}, err
	}
	if err := d.field(frameSymbolAddress, protowire.VarintType, false); err != nil {
		return Frame{}, err
	}
	if h.symbolAddress, err = d.varint(); err != nil {
		return Frame{}, err
	}
	f := Frame{handle: h}
	if d.done() {
		return f, nil
	}
	if err := d.field(frameResolved, protowire.VarintType, false); err != nil {
		return Frame{}, err
	}
	v, err := d.varint()
	if err != nil {
		return Frame{}, err
	}
	if v != protowire.EncodeBool(true) {
		return Frame{}, d.errorf("bad resolved flag %v", v)
	}
	f.resolved = true
	f.symbols = []Symbol{}
	for !d.done() {
		if err := d.field(frameSymbol, protowire.BytesType, true); err != nil {
			return Frame{}, err
		}
		msg, err := d.bytes()
		if err != nil {
			return Frame{}, err
		}
		s, err := decodeSymbol(msg)
		if err != nil {
			return Frame{}, fmt.Errorf("symbol #%v: %w", len(f.symbols), err)
		}
		f.symbols = append(f.symbols, s)
	}
	return f, nil
}

func decodeSymbol(data []byte) (Symbol, error) {
	d := &decoder{buf: data, what: "symbol"}
	var s Symbol
	for !d.done() {
		num, typ, err := d.tag()
		if err != nil {
			return Symbol{}, err
		}
		switch {
		case num == symbolName && typ == protowire.BytesType:
			v, err := d.bytes()
			if err != nil {
				return Symbol{}, err
			}
			s.name = bytes.Clone(v)
			if s.name == nil {
				s.name = []byte{}
			}
			s.has |= hasName
		case num == symbolAddr && typ == protowire.VarintType:
			if s.addr, err = d.varint(); err != nil {
				return Symbol{}, err
			}
			s.has |= hasAddr
		case num == symbolFilename && typ == protowire.BytesType:
			v, err := d.bytes()
			if err != nil {
				return Symbol{}, err
			}
			s.filename = string(v)
			s.has |= hasFilename
		case num == symbolLineno && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return Symbol{}, err
			}
			if v > math.MaxUint32 {
				return Symbol{}, d.errorf("line number %v is too large", v)
			}
			s.lineno = uint32(v)
			s.has |= hasLineno
		default:
			return Symbol{}, d.errorf("unexpected field %v of type %v", num, typ)
		}
	}
	return s, nil
}

// decoder consumes fields of one message and enforces the canonical encoding.
type decoder struct {
	buf  []byte
	what string
	last protowire.Number
}

func (d *decoder) done() bool {
	return len(d.buf) == 0
}

func (d *decoder) errorf(msg string, args ...any) error {
	return fmt.Errorf("%w: %v: %v", ErrMalformedRecord, d.what, fmt.Sprintf(msg, args...))
}

// tag consumes the next field tag. Fields must go in increasing order,
// only repeated fields may be present several times (see field).
func (d *decoder) tag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		return 0, 0, d.errorf("bad tag: %v", protowire.ParseError(n))
	}
	if n != protowire.SizeTag(num) {
		return 0, 0, d.errorf("non-canonical tag of field %v", num)
	}
	if num <= d.last {
		return 0, 0, d.errorf("field %v after field %v", num, d.last)
	}
	d.buf = d.buf[n:]
	d.last = num
	return num, typ, nil
}

// field consumes the tag of the expected field.
func (d *decoder) field(num protowire.Number, typ protowire.Type, repeated bool) error {
	if d.done() {
		return d.errorf("missing field %v", num)
	}
	if repeated && d.last == num {
		d.last--
	}
	got, gotTyp, err := d.tag()
	if err != nil {
		return err
	}
	if got != num || gotTyp != typ {
		return d.errorf("unexpected field %v of type %v, want field %v of type %v", got, gotTyp, num, typ)
	}
	return nil
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, d.errorf("bad varint: %v", protowire.ParseError(n))
	}
	if n != protowire.SizeVarint(v) {
		return 0, d.errorf("non-canonical varint")
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, d.errorf("bad length-delimited field: %v", protowire.ParseError(n))
	}
	if protowire.SizeVarint(uint64(len(v))) != n-len(v) {
		return nil, d.errorf("non-canonical length")
	}
	d.buf = d.buf[n:]
	return v, nil
}
