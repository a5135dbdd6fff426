// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON records mirror the binary ones. ip and symbol_address are required,
// "symbols": null marks an unresolved frame, absent symbol properties are null.
// Unknown fields are rejected.

type jsonFrame struct {
	IP            *uint64        `json:"ip"`
	SymbolAddress *uint64        `json:"symbol_address"`
	Symbols       *[]*jsonSymbol `json:"symbols"`
}

type jsonSymbol struct {
	Name     *[]byte `json:"name"`
	Addr     *uint64 `json:"addr"`
	Filename *string `json:"filename"`
	Lineno   *uint32 `json:"lineno"`
}

type jsonBacktrace struct {
	Start  *int    `json:"start"`
	Frames []Frame `json:"frames"`
}

func (f Frame) MarshalJSON() ([]byte, error) {
	ip, symbolAddress := f.IP(), f.SymbolAddress()
	jf := jsonFrame{
		IP:            &ip,
		SymbolAddress: &symbolAddress,
	}
	if f.resolved {
		symbols := make([]*jsonSymbol, len(f.symbols))
		for i, s := range f.symbols {
			symbols[i] = s.toJSON()
		}
		jf.Symbols = &symbols
	}
	return json.Marshal(jf)
}

// UnmarshalJSON restores a frame encoded with MarshalJSON.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var jf jsonFrame
	if err := decodeJSON(data, &jf); err != nil {
		return err
	}
	if jf.IP == nil {
		return malformedJSON("frame: missing ip")
	}
	if jf.SymbolAddress == nil {
		return malformedJSON("frame: missing symbol_address")
	}
	frame := Frame{handle: reconstructedHandle{ip: *jf.IP, symbolAddress: *jf.SymbolAddress}}
	if jf.Symbols != nil {
		frame.resolved = true
		frame.symbols = make([]Symbol, len(*jf.Symbols))
		for i, js := range *jf.Symbols {
			if js == nil {
				return malformedJSON("frame: symbol #%v is null", i)
			}
			frame.symbols[i] = js.toSymbol()
		}
	}
	*f = frame
	return nil
}

// decodeJSON strictly decodes one JSON object into v.
func decodeJSON(data []byte, v any) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return malformedJSON("unexpected null")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, ErrMalformedRecord) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if dec.More() {
		return malformedJSON("trailing data")
	}
	return nil
}

func malformedJSON(msg string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrMalformedRecord, fmt.Sprintf(msg, args...))
}

func (s Symbol) toJSON() *jsonSymbol {
	js := new(jsonSymbol)
	if name, ok := s.Name(); ok {
		v := []byte(name)
		js.Name = &v
	}
	if addr, ok := s.Addr(); ok {
		js.Addr = &addr
	}
	if file, ok := s.Filename(); ok {
		js.Filename = &file
	}
	if line, ok := s.Lineno(); ok {
		js.Lineno = &line
	}
	return js
}

func (js *jsonSymbol) toSymbol() Symbol {
	var s Symbol
	if js.Name != nil {
		s.name = append([]byte{}, *js.Name...)
		s.has |= hasName
	}
	if js.Addr != nil {
		s.addr = *js.Addr
		s.has |= hasAddr
	}
	if js.Filename != nil {
		s.filename = *js.Filename
		s.has |= hasFilename
	}
	if js.Lineno != nil {
		s.lineno = *js.Lineno
		s.has |= hasLineno
	}
	return s
}

// MarshalJSON encodes all frames together with the trim index.
func (bt *Backtrace) MarshalJSON() ([]byte, error) {
	frames := bt.frames
	if frames == nil {
		frames = []Frame{}
	}
	return json.Marshal(jsonBacktrace{
		Start:  &bt.start,
		Frames: frames,
	})
}

// UnmarshalJSON restores a backtrace encoded with MarshalJSON.
func (bt *Backtrace) UnmarshalJSON(data []byte) error {
	var jb jsonBacktrace
	if err := decodeJSON(data, &jb); err != nil {
		return err
	}
	if jb.Start == nil {
		return malformedJSON("backtrace: missing start")
	}
	if jb.Frames == nil {
		return malformedJSON("backtrace: missing frames")
	}
	if *jb.Start < 0 || *jb.Start > len(jb.Frames) {
		return malformedJSON("backtrace: start %v is out of range [0, %v]", *jb.Start, len(jb.Frames))
	}
	*bt = Backtrace{
		frames: jb.Frames,
		start:  *jb.Start,
	}
	return nil
}
