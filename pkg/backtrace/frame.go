// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/google/syz-backtrace/pkg/unwind"
	"github.com/ianlancetaylor/demangle"
)

// handle identifies the stack frame a Frame was made from.
// It is either liveHandle (captured from a walker) or reconstructedHandle (decoded).
type handle interface {
	isHandle()
}

type liveHandle struct {
	frame unwind.Frame
}

type reconstructedHandle struct {
	ip            uint64
	symbolAddress uint64
}

func (liveHandle) isHandle()          {}
func (reconstructedHandle) isHandle() {}

// Frame is one captured stack frame together with its symbols, if resolved.
type Frame struct {
	handle   handle
	resolved bool
	symbols  []Symbol
}

// IP returns the instruction pointer of the frame.
func (f Frame) IP() uint64 {
	switch h := f.handle.(type) {
	case liveHandle:
		return h.frame.IP()
	case reconstructedHandle:
		return h.ip
	}
	return 0
}

// SymbolAddress returns the start address of the function containing IP,
// as reported by the stack walker.
func (f Frame) SymbolAddress() uint64 {
	switch h := f.handle.(type) {
	case liveHandle:
		return h.frame.SymbolAddress()
	case reconstructedHandle:
		return h.symbolAddress
	}
	return 0
}

// Resolved reports whether symbols of the frame were looked up.
// A resolved frame may still have no symbols.
func (f Frame) Resolved() bool {
	return f.resolved
}

// Symbols returns the functions covering the frame.
// Normally there is one, but functions inlined into the frame come first,
// followed by their callers; the last one is the outermost function.
// Unresolved frames have no symbols.
func (f Frame) Symbols() []Symbol {
	return slices.Clone(f.symbols)
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{ip: %#x, symbol_address: %#x}", f.IP(), f.SymbolAddress())
}

func (f Frame) clone() Frame {
	f.symbols = cloneSymbols(f.symbols)
	return f
}

func cloneSymbols(symbols []Symbol) []Symbol {
	if symbols == nil {
		return nil
	}
	res := make([]Symbol, len(symbols))
	for i, s := range symbols {
		res[i] = s
		res[i].name = bytes.Clone(s.name)
	}
	return res
}

type field uint8

const (
	hasName field = 1 << iota
	hasAddr
	hasFilename
	hasLineno
)

// Symbol is an owned copy of the metadata the resolver reported for one function.
// Every property is optional.
type Symbol struct {
	name     []byte
	addr     uint64
	filename string
	lineno   uint32
	has      field
}

// Name returns the raw symbol name. The returned bytes must not be modified.
func (s Symbol) Name() (SymbolName, bool) {
	return SymbolName(s.name), s.has&hasName != 0
}

// Addr returns the start address of the symbol.
func (s Symbol) Addr() (uint64, bool) {
	return s.addr, s.has&hasAddr != 0
}

// Filename returns the source file of the symbolized location.
func (s Symbol) Filename() (string, bool) {
	return s.filename, s.has&hasFilename != 0
}

// Lineno returns the source line of the symbolized location.
func (s Symbol) Lineno() (uint32, bool) {
	return s.lineno, s.has&hasLineno != 0
}

func (s Symbol) String() string {
	buf := new(strings.Builder)
	buf.WriteString("Symbol{name: ")
	if name, ok := s.Name(); ok {
		fmt.Fprintf(buf, "%q", name.String())
	} else {
		buf.WriteString("none")
	}
	buf.WriteString(", addr: ")
	if addr, ok := s.Addr(); ok {
		fmt.Fprintf(buf, "%#x", addr)
	} else {
		buf.WriteString("none")
	}
	buf.WriteString(", filename: ")
	if file, ok := s.Filename(); ok {
		fmt.Fprintf(buf, "%q", file)
	} else {
		buf.WriteString("none")
	}
	buf.WriteString(", lineno: ")
	if line, ok := s.Lineno(); ok {
		fmt.Fprintf(buf, "%v", line)
	} else {
		buf.WriteString("none")
	}
	buf.WriteString("}")
	return buf.String()
}

func (s Symbol) equal(other Symbol) bool {
	return s.has == other.has && bytes.Equal(s.name, other.name) && s.addr == other.addr &&
		s.filename == other.filename && s.lineno == other.lineno
}

// SymbolName is a raw symbol name as found in symbol tables.
// It is not guaranteed to be valid UTF-8 and may be mangled.
type SymbolName []byte

// Bytes returns the name verbatim.
func (n SymbolName) Bytes() []byte {
	return n
}

// String returns the demangled name if the name is mangled (C++ or Rust),
// and the name with invalid UTF-8 sequences replaced otherwise.
func (n SymbolName) String() string {
	s := strings.ToValidUTF8(string(n), "�")
	return demangle.Filter(s)
}
