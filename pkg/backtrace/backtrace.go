// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package backtrace captures backtraces of the current goroutine and resolves them to symbols.
//
// Capturing only records addresses and is cheap. Resolution maps the addresses to function
// names, files and lines, and can be done right away or deferred until the backtrace
// is printed. Backtraces own all their data, so they can be kept around, passed
// to other goroutines, serialized and restored without access to the original stack.
package backtrace

import (
	"slices"
	"time"

	"github.com/google/syz-backtrace/pkg/hash"
	"github.com/google/syz-backtrace/pkg/log"
	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/unwind"
)

// Backtrace is a snapshot of a goroutine stack.
// It is not safe to call Resolve concurrently with any other method.
type Backtrace struct {
	frames []Frame
	// start is the index of the first frame that belongs to the caller
	// (frames before it are the capture machinery).
	start  int
	tracer *Tracer
}

// New captures a resolved backtrace of the calling goroutine using the default tracer.
//
//go:noinline
func New() *Backtrace {
	return Default().capture(callerEntry(), true)
}

// NewUnresolved captures a backtrace of the calling goroutine using the default tracer.
// Symbols are looked up on the first call to Resolve, or when the backtrace is printed.
//
//go:noinline
func NewUnresolved() *Backtrace {
	return Default().capture(callerEntry(), false)
}

// Capture captures a backtrace of the calling goroutine using the default tracer.
//
//go:noinline
func Capture(resolve bool) *Backtrace {
	return Default().capture(callerEntry(), resolve)
}

// FromFrames creates a backtrace from previously captured or decoded frames.
// Frames before start are hidden from Frames; start is clamped to the number of frames.
func FromFrames(frames []Frame, start int) *Backtrace {
	start = max(0, min(start, len(frames)))
	bt := &Backtrace{
		frames: make([]Frame, len(frames)),
		start:  start,
	}
	for i, f := range frames {
		bt.frames[i] = f.clone()
	}
	return bt
}

//go:noinline
func (t *Tracer) capture(marker uint64, resolve bool) *Backtrace {
	bt := &Backtrace{tracer: t}
	t.walk(func(f unwind.Frame) bool {
		bt.frames = append(bt.frames, Frame{handle: liveHandle{f}})
		return true
	})
	bt.start = trimIndex(bt.frames, marker)
	statCaptures.Add(1)
	statDepth.Add(len(bt.frames))
	if resolve {
		bt.Resolve()
	}
	return bt
}

func (t *Tracer) walk(fn func(unwind.Frame) bool) {
	defer t.acquire()()
	t.walker.Walk(fn)
}

// trimIndex returns the index of the frame following the one of the capture entry point.
// If the entry point is not on the stack (e.g. it was inlined), nothing is trimmed.
func trimIndex(frames []Frame, marker uint64) int {
	for i, f := range frames {
		if f.SymbolAddress() == marker {
			return i + 1
		}
	}
	statUntrimmed.Add(1)
	log.Logf(2, "backtrace: capture entry %#x is not on the stack of %v frames", marker, len(frames))
	return 0
}

// Frames returns the frames of the caller, innermost first.
// Frames of the capture machinery are not included.
// The slice is shared with the backtrace and must not be modified.
func (bt *Backtrace) Frames() []Frame {
	return slices.Clip(bt.frames[bt.start:])
}

// AllFrames returns all captured frames including the capture machinery.
// The slice is shared with the backtrace and must not be modified.
func (bt *Backtrace) AllFrames() []Frame {
	return slices.Clip(bt.frames)
}

// Start returns the index of the first frame returned by Frames within AllFrames.
func (bt *Backtrace) Start() int {
	return bt.start
}

// Resolve looks up symbols of all frames that were not resolved yet.
// Frames that are already resolved are not touched, so calling it again is a no-op.
func (bt *Backtrace) Resolve() {
	t := bt.tracer
	if t == nil {
		t = Default()
	}
	bt.resolve(t, t.symbolizer)
}

// ResolveWith is like Resolve, but uses the given resolver instead of the tracer one.
// It is used to resolve decoded backtraces against the binary they were captured in.
func (bt *Backtrace) ResolveWith(sym symbolizer.Symbolizer) {
	t := bt.tracer
	if t == nil {
		t = Default()
	}
	bt.resolve(t, sym)
}

func (bt *Backtrace) resolve(t *Tracer, sym symbolizer.Symbolizer) {
	if bt.Resolved() {
		return
	}
	defer resolveTime.Since(time.Now())
	defer t.acquire()()
	for i := range bt.frames {
		f := &bt.frames[i]
		if f.resolved {
			continue
		}
		symbols := []Symbol{}
		for s := range symbolsOf(sym, f.handle) {
			symbols = append(symbols, s)
		}
		f.symbols = symbols
		f.resolved = true
		statResolved.Add(1)
		if len(symbols) == 0 {
			statNoSymbols.Add(1)
		}
	}
}

// Resolved reports whether all frames have been resolved.
func (bt *Backtrace) Resolved() bool {
	for _, f := range bt.frames {
		if !f.resolved {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the backtrace.
func (bt *Backtrace) Clone() *Backtrace {
	res := FromFrames(bt.frames, bt.start)
	res.tracer = bt.tracer
	return res
}

// Signature identifies the stack by the instruction pointers of the visible frames.
// Backtraces captured at the same place in the same binary have the same signature.
func (bt *Backtrace) Signature() hash.Sig {
	frames := bt.Frames()
	ips := make([]uint64, len(frames))
	for i, f := range frames {
		ips[i] = f.IP()
	}
	return hash.Addrs(ips...)
}
