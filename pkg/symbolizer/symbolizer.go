// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package symbolizer maps code addresses to function names and source locations.
package symbolizer

// Frame is one function covering an address.
// An address inside inlined code is covered by several functions,
// they are returned innermost first with Inline set for all but the last one.
type Frame struct {
	PC     uint64
	Func   string
	Addr   uint64 // start address of Func, 0 if unknown
	File   string
	Line   int
	Inline bool
}

type Symbolizer interface {
	// Symbolize returns functions covering pc, innermost first.
	// An address without any symbol information yields no frames.
	Symbolize(pc uint64) []Frame
	Close()
}

// Make returns a symbolizer for code of the current process.
func Make() Symbolizer {
	return runtimeSymbolizer{}
}

// Nop returns a symbolizer that knows nothing.
func Nop() Symbolizer {
	return nop{}
}

type nop struct{}

func (nop) Symbolize(pc uint64) []Frame { return nil }
func (nop) Close()                      {}

// Func adapts a function to the Symbolizer interface.
type Func func(pc uint64) []Frame

func (f Func) Symbolize(pc uint64) []Frame { return f(pc) }
func (f Func) Close()                      {}
