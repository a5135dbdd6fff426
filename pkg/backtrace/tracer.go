// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/syz-backtrace/pkg/stat"
	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/unwind"
)

var (
	statCaptures = stat.New("backtraces", "Number of captured backtraces",
		stat.Console, stat.Rate{}, stat.Prometheus("syz_backtrace_captures"))
	statDepth = stat.New("backtrace depth", "Number of frames in captured backtraces",
		stat.Distribution{})
	statUntrimmed = stat.New("untrimmed backtraces",
		"Backtraces where the capture routine was not found on the stack")
	statResolved = stat.New("resolved frames", "Number of frames passed to the resolver",
		stat.Console, stat.Prometheus("syz_backtrace_resolved_frames"))
	statNoSymbols = stat.New("frames without symbols", "Resolved frames the resolver knew nothing about")
	_             = stat.New("resolve latency", "Average duration of a resolution pass (us)",
		func() int { return int(resolveTime.Value().Microseconds()) })
)

var resolveTime stat.AverageValue[time.Duration]

// Tracer captures and resolves backtraces with a particular stack walker and resolver.
// A Tracer is safe for concurrent use if its walker and resolver are, or if it has a lock.
type Tracer struct {
	walker     unwind.Walker
	symbolizer symbolizer.Symbolizer
	lock       sync.Locker
}

type Option func(*Tracer)

// WithWalker sets the stack walker. The default is unwind.Runtime{}.
func WithWalker(w unwind.Walker) Option {
	return func(t *Tracer) {
		t.walker = w
	}
}

// WithSymbolizer sets the resolver. The default is symbolizer.Make().
func WithSymbolizer(s symbolizer.Symbolizer) Option {
	return func(t *Tracer) {
		t.symbolizer = s
	}
}

// WithLock makes the tracer hold l while walking the stack and while resolving.
// It is needed when the walker or resolver use state that can't be accessed concurrently.
func WithLock(l sync.Locker) Option {
	return func(t *Tracer) {
		t.lock = l
	}
}

func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{
		walker:     unwind.Runtime{},
		symbolizer: symbolizer.Make(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var (
	defaultMu     sync.Mutex
	defaultTracer = NewTracer()
)

// Default returns the tracer used by package-level functions.
func Default() *Tracer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultTracer
}

// SetDefault replaces the tracer used by package-level functions.
func SetDefault(t *Tracer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTracer = t
}

// acquire takes the tracer lock, if any, and returns the function releasing it.
func (t *Tracer) acquire() func() {
	if t.lock == nil {
		return func() {}
	}
	t.lock.Lock()
	return t.lock.Unlock
}

// New captures a resolved backtrace of the calling goroutine.
//
//go:noinline
func (t *Tracer) New() *Backtrace {
	return t.capture(callerEntry(), true)
}

// NewUnresolved captures a backtrace of the calling goroutine without resolving it.
//
//go:noinline
func (t *Tracer) NewUnresolved() *Backtrace {
	return t.capture(callerEntry(), false)
}

// Capture captures a backtrace of the calling goroutine, resolving it if resolve is set.
//
//go:noinline
func (t *Tracer) Capture(resolve bool) *Backtrace {
	return t.capture(callerEntry(), resolve)
}

// callerEntry returns the entry address of the function calling it.
func callerEntry() uint64 {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return 0
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return 0
	}
	return uint64(fn.Entry())
}
