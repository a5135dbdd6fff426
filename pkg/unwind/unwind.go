// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package unwind enumerates physical frames of the calling goroutine's stack.
package unwind

import (
	"fmt"
	"runtime"
)

// Frame is an opaque token describing one physical stack frame.
type Frame interface {
	// IP returns the frame's instruction pointer.
	// For all frames produced by Runtime this is a return address.
	IP() uint64
	// SymbolAddress returns the entry address of the function that contains IP.
	// If the function is unknown, IP is returned.
	SymbolAddress() uint64
}

// Walker enumerates stack frames innermost first.
// Walk calls fn once per frame until fn returns false or the stack is exhausted.
// Walk must not be invoked recursively from fn.
type Walker interface {
	Walk(fn func(Frame) bool)
}

// WalkerFunc adapts an ordinary function to the Walker interface.
type WalkerFunc func(fn func(Frame) bool)

func (w WalkerFunc) Walk(fn func(Frame) bool) {
	w(fn)
}

// Runtime walks the current goroutine with runtime.Callers.
// MaxDepth limits the number of reported frames, 0 means no limit.
type Runtime struct {
	MaxDepth int
}

const initialDepth = 64

// Walk reports one Frame per physical frame: return addresses that runtime.Callers
// reports for functions inlined into the same physical frame are folded into the
// innermost one.
func (r Runtime) Walk(fn func(Frame) bool) {
	pcs := r.callers()
	for i := 0; i < len(pcs); i++ {
		f := newPCFrame(pcs[i])
		for inlined := f.inlined(); inlined && i+1 < len(pcs); i++ {
			next := newPCFrame(pcs[i+1])
			if next.entry != f.entry {
				break
			}
			inlined = next.inlined()
		}
		if !fn(f) {
			return
		}
	}
}

func (r Runtime) callers() []uintptr {
	size := r.clamp(initialDepth)
	for {
		pcs := make([]uintptr, size)
		// Skip runtime.Callers and callers.
		n := runtime.Callers(2, pcs)
		if n < size || size == r.clamp(size*2) {
			return pcs[:n]
		}
		size = r.clamp(size * 2)
	}
}

func (r Runtime) clamp(size int) int {
	if r.MaxDepth > 0 && size > r.MaxDepth {
		return r.MaxDepth
	}
	return size
}

// Walk walks the calling goroutine stack with an unbounded Runtime walker.
func Walk(fn func(Frame) bool) {
	Runtime{}.Walk(fn)
}

type pcFrame struct {
	pc    uintptr
	fn    *runtime.Func
	entry uintptr
}

func newPCFrame(pc uintptr) pcFrame {
	// Return addresses point past the call instruction.
	f := pcFrame{pc: pc, fn: runtime.FuncForPC(pc - 1)}
	if f.fn != nil {
		f.entry = f.fn.Entry()
	}
	return f
}

// inlined reports whether the call instruction belongs to code inlined into
// another function.
func (f pcFrame) inlined() bool {
	if f.fn == nil {
		return false
	}
	outer := runtime.FuncForPC(f.entry)
	return outer != nil && outer.Name() != f.fn.Name()
}

func (f pcFrame) IP() uint64 {
	return uint64(f.pc)
}

func (f pcFrame) SymbolAddress() uint64 {
	if f.fn == nil {
		return uint64(f.pc)
	}
	return uint64(f.entry)
}

func (f pcFrame) String() string {
	return fmt.Sprintf("%#x", f.pc)
}

// StaticFrame is a Frame with fixed addresses.
// It is used by walkers that replay previously recorded stacks.
type StaticFrame struct {
	PC    uint64
	Entry uint64
}

func (f StaticFrame) IP() uint64 {
	return f.PC
}

func (f StaticFrame) SymbolAddress() uint64 {
	if f.Entry == 0 {
		return f.PC
	}
	return f.Entry
}

// Replay returns a Walker that reports frames in order.
func Replay(frames ...Frame) Walker {
	return WalkerFunc(func(fn func(Frame) bool) {
		for _, f := range frames {
			if !fn(f) {
				return
			}
		}
	})
}
