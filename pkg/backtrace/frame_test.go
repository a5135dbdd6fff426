// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"testing"

	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/unwind"
	"github.com/stretchr/testify/assert"
)

func TestFrameHandles(t *testing.T) {
	live := Frame{handle: liveHandle{unwind.StaticFrame{PC: 0x1010, Entry: 0x1000}}}
	reconstructed := Frame{handle: reconstructedHandle{ip: 0x1010, symbolAddress: 0x1000}}
	for _, f := range []Frame{live, reconstructed} {
		assert.Equal(t, uint64(0x1010), f.IP())
		assert.Equal(t, uint64(0x1000), f.SymbolAddress())
		assert.False(t, f.Resolved())
		assert.Equal(t, "Frame{ip: 0x1010, symbol_address: 0x1000}", f.String())
	}
	var zero Frame
	assert.Zero(t, zero.IP())
	assert.Zero(t, zero.SymbolAddress())
}

func TestSymbolAccessors(t *testing.T) {
	s := makeSymbol("main.main", 0x1000, "main.go", 7)
	name, ok := s.Name()
	assert.True(t, ok)
	assert.Equal(t, []byte("main.main"), name.Bytes())
	addr, ok := s.Addr()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x1000), addr)
	file, ok := s.Filename()
	assert.True(t, ok)
	assert.Equal(t, "main.go", file)
	line, ok := s.Lineno()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), line)
	assert.Equal(t, `Symbol{name: "main.main", addr: 0x1000, filename: "main.go", lineno: 7}`, s.String())

	var empty Symbol
	_, ok = empty.Name()
	assert.False(t, ok)
	_, ok = empty.Addr()
	assert.False(t, ok)
	_, ok = empty.Filename()
	assert.False(t, ok)
	_, ok = empty.Lineno()
	assert.False(t, ok)
	assert.Equal(t, "Symbol{name: none, addr: none, filename: none, lineno: none}", empty.String())
}

func TestSymbolsAreCopied(t *testing.T) {
	f := Frame{resolved: true, symbols: []Symbol{makeSymbol("a", 0, "", 0)}}
	symbols := f.Symbols()
	symbols[0] = makeSymbol("b", 0, "", 0)
	name, _ := f.Symbols()[0].Name()
	assert.Equal(t, "a", name.String())
}

func TestSymbolName(t *testing.T) {
	tests := []struct {
		raw  []byte
		name string
	}{
		{[]byte("main.main"), "main.main"},
		{[]byte("github.com/google/syz-backtrace/pkg/backtrace.(*Tracer).New"),
			"github.com/google/syz-backtrace/pkg/backtrace.(*Tracer).New"},
		{[]byte("_ZN3foo3barEv"), "foo::bar()"},
		{[]byte{'f', 0xff, 'o'}, "f�o"},
		{[]byte{}, ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.name, SymbolName(test.raw).String())
		assert.Equal(t, test.raw, SymbolName(test.raw).Bytes())
	}
}

func TestSymbolFrom(t *testing.T) {
	s := symbolFrom(symbolizer.Frame{PC: 0x1010, Func: "foo", Line: 3})
	assert.Equal(t, makeSymbol("foo", 0, "", 3), s)
	assert.Equal(t, Symbol{}, symbolFrom(symbolizer.Frame{PC: 0x1010, Line: -1}))
}

func TestSymbolsOfStopsEarly(t *testing.T) {
	sym := symbolizer.Func(func(pc uint64) []symbolizer.Frame {
		return []symbolizer.Frame{{Func: "a"}, {Func: "b"}, {Func: "c"}}
	})
	var names []string
	for s := range symbolsOf(sym, reconstructedHandle{ip: 0x10}) {
		name, _ := s.Name()
		names = append(names, name.String())
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, names)
	for range symbolsOf(sym, reconstructedHandle{}) {
		t.Fatal("symbols for a zero address")
	}
}
