// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBinaryRoundTrip(t *testing.T) {
	frames := testBacktrace().AllFrames()
	frames = append(frames, Frame{
		handle:   reconstructedHandle{ip: 1<<64 - 1, symbolAddress: 1<<64 - 16},
		resolved: true,
		symbols: []Symbol{
			makeSymbol("", 0, "", 0),
			{name: []byte{}, has: hasName},
			{name: []byte{0xff, 0x00}, has: hasName | hasLineno, lineno: 0},
		},
	})
	for i, f := range frames {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			data, err := f.MarshalBinary()
			require.NoError(t, err)
			var decoded Frame
			require.NoError(t, decoded.UnmarshalBinary(data))
			if diff := cmp.Diff(snapshotOf([]Frame{f}), snapshotOf([]Frame{decoded})); diff != "" {
				t.Fatal(diff)
			}
			assert.IsType(t, reconstructedHandle{}, decoded.handle)
			again, err := decoded.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestBinaryUnresolvedExact(t *testing.T) {
	bt := chainA(false)
	for _, f := range bt.AllFrames() {
		data, err := f.MarshalBinary()
		require.NoError(t, err)
		var decoded Frame
		require.NoError(t, decoded.UnmarshalBinary(data))
		assert.False(t, decoded.Resolved())
		assert.Nil(t, decoded.Symbols())
		assert.Equal(t, f.IP(), decoded.IP())
		assert.Equal(t, f.SymbolAddress(), decoded.SymbolAddress())
		again, err := decoded.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, data, again)
	}
}

func TestBinaryEmptySymbols(t *testing.T) {
	f := Frame{handle: reconstructedHandle{ip: 0x10, symbolAddress: 0x8}, resolved: true, symbols: []Symbol{}}
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	var decoded Frame
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.True(t, decoded.Resolved())
	assert.NotNil(t, decoded.Symbols())
	assert.Empty(t, decoded.Symbols())
}

func TestEncodeFrames(t *testing.T) {
	bt := chainA(true)
	data := EncodeFrames(bt.AllFrames())
	frames, err := DecodeFrames(data)
	require.NoError(t, err)
	if diff := cmp.Diff(snapshotOf(bt.AllFrames()), snapshotOf(frames)); diff != "" {
		t.Fatal(diff)
	}
	assert.Equal(t, data, EncodeFrames(frames))
	restored := FromFrames(frames, bt.Start())
	assert.Equal(t, bt.String(), restored.String())
	assert.Equal(t, bt.Signature(), restored.Signature())

	empty, err := DecodeFrames(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeMalformed(t *testing.T) {
	var (
		tag = func(b []byte, num protowire.Number, typ protowire.Type) []byte {
			return protowire.AppendTag(b, num, typ)
		}
		varint = protowire.AppendVarint
		frame  = func(rest ...byte) []byte {
			b := tag(nil, frameIP, protowire.VarintType)
			b = varint(b, 0x10)
			b = tag(b, frameSymbolAddress, protowire.VarintType)
			b = varint(b, 0x8)
			return append(b, rest...)
		}
		resolved = func(rest ...byte) []byte {
			b := tag(nil, frameResolved, protowire.VarintType)
			b = varint(b, 1)
			return frame(append(b, rest...)...)
		}
		symbol = func(msg []byte) []byte {
			b := tag(nil, frameSymbol, protowire.BytesType)
			return protowire.AppendBytes(b, msg)
		}
	)
	good := resolved(symbol(appendSymbol(nil, makeSymbol("a", 1, "b", 2)))...)
	var decoded Frame
	require.NoError(t, decoded.UnmarshalBinary(good))

	tests := map[string][]byte{
		"empty":            {},
		"truncated":        good[:len(good)-1],
		"no address":       varint(tag(nil, frameIP, protowire.VarintType), 0x10),
		"swapped":          varint(tag(varint(tag(nil, frameSymbolAddress, protowire.VarintType), 1), frameIP, protowire.VarintType), 2),
		"wrong type":       protowire.AppendBytes(tag(nil, frameIP, protowire.BytesType), nil),
		"unknown field":    frame(varint(tag(nil, 9, protowire.VarintType), 1)...),
		"bad resolved":     frame(varint(tag(nil, frameResolved, protowire.VarintType), 2)...),
		"symbols only":     frame(symbol(nil)...),
		"long varint":      append(tag(nil, frameIP, protowire.VarintType), 0x80, 0x00),
		"duplicate ip":     varint(tag(frame(), frameIP, protowire.VarintType), 1),
		"duplicate name":   resolved(symbol(protowire.AppendString(tag(appendSymbol(nil, makeSymbol("a", 0, "", 0)), symbolName, protowire.BytesType), "b"))...),
		"huge line":        resolved(symbol(varint(tag(nil, symbolLineno, protowire.VarintType), 1<<33))...),
		"unordered symbol": resolved(symbol(append(appendSymbol(nil, makeSymbol("", 1, "", 0)), appendSymbol(nil, makeSymbol("a", 0, "", 0))...))...),
		"truncated symbol": resolved(tag(nil, frameSymbol, protowire.BytesType)...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var f Frame
			err := f.UnmarshalBinary(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRecord), err)
		})
	}

	_, err := DecodeFrames(append(protowire.AppendTag(nil, traceFrame, protowire.BytesType), 5, 1))
	assert.True(t, errors.Is(err, ErrMalformedRecord), err)
	_, err = DecodeFrames(protowire.AppendBytes(protowire.AppendTag(nil, traceFrame, protowire.BytesType), []byte{1}))
	assert.True(t, errors.Is(err, ErrMalformedRecord), err)
}

func TestJSONFrame(t *testing.T) {
	frames := testBacktrace().AllFrames()
	data, err := json.Marshal(frames[1:])
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"ip": 4100, "symbol_address": 4096, "symbols": [
			{"name": "bWFpbi5pbm5lcg==", "addr": 4096, "filename": "/src/main.go", "lineno": 12},
			{"name": "bWFpbi5vdXRlcg==", "addr": 4096, "filename": "/src/main.go", "lineno": 20}
		]},
		{"ip": 8200, "symbol_address": 8192, "symbols": [
			{"name": null, "addr": 8192, "filename": "/src/main.go", "lineno": null}
		]},
		{"ip": 12304, "symbol_address": 12288, "symbols": []},
		{"ip": 16400, "symbol_address": 16384, "symbols": null}
	]`, string(data))
	var decoded []Frame
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(snapshotOf(frames[1:]), snapshotOf(decoded)); diff != "" {
		t.Fatal(diff)
	}
}

func TestJSONMalformedFrame(t *testing.T) {
	tests := map[string]string{
		"null frame":         `[null]`,
		"empty frame":        `[{}]`,
		"no ip":              `[{"symbol_address": 5, "symbols": null}]`,
		"no symbol address":  `[{"ip": 1}]`,
		"null symbol":        `[{"ip": 1, "symbol_address": 1, "symbols": [null]}]`,
		"unknown field":      `[{"ip": 1, "symbol_address": 1, "symbols": null, "module": "a"}]`,
		"unknown sym field":  `[{"ip": 1, "symbol_address": 1, "symbols": [{"name": null, "offset": 1}]}]`,
		"bad ip":             `[{"ip": "x", "symbol_address": 1}]`,
		"negative lineno":    `[{"ip": 1, "symbol_address": 1, "symbols": [{"lineno": -1}]}]`,
		"symbols not a list": `[{"ip": 1, "symbol_address": 1, "symbols": {}}]`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var frames []Frame
			err := json.Unmarshal([]byte(data), &frames)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRecord), err)
		})
	}
	var frames []Frame
	require.NoError(t, json.Unmarshal([]byte(`[{"ip": 0, "symbol_address": 0, "symbols": null}]`), &frames))
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Resolved())
}

func TestJSONBacktrace(t *testing.T) {
	bt := testBacktrace()
	data, err := json.Marshal(bt)
	require.NoError(t, err)
	restored := new(Backtrace)
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, bt.Start(), restored.Start())
	assert.Equal(t, bt.String(), restored.String())

	empty := new(Backtrace)
	data, err = json.Marshal(FromFrames(nil, 0))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, empty))
	assert.Empty(t, empty.AllFrames())

	for _, bad := range []string{
		`null`,
		`{}`,
		`{"start": 2, "frames": []}`,
		`{"start": 0}`,
		`{"frames": []}`,
		`{"start": 0, "frames": null}`,
		`{"start": 0, "frames": [{}, null]}`,
		`{"start": 0, "frames": [{"ip": "x"}]}`,
		`{"start": 0, "frames": [], "end": 1}`,
	} {
		err := json.Unmarshal([]byte(bad), restored)
		assert.True(t, errors.Is(err, ErrMalformedRecord), "%v: %v", bad, err)
	}
	// Failed decoding leaves the backtrace intact.
	assert.Equal(t, bt.String(), restored.String())
}
