// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"iter"

	"github.com/google/syz-backtrace/pkg/symbolizer"
)

// symbolsOf returns the symbols the resolver reports for the frame, innermost first.
func symbolsOf(sym symbolizer.Symbolizer, h handle) iter.Seq[Symbol] {
	var pc uint64
	switch h := h.(type) {
	case liveHandle:
		pc = h.frame.IP()
	case reconstructedHandle:
		pc = h.ip
	}
	return func(yield func(Symbol) bool) {
		if pc == 0 {
			return
		}
		for _, frame := range sym.Symbolize(pc) {
			if !yield(symbolFrom(frame)) {
				return
			}
		}
	}
}

func symbolFrom(frame symbolizer.Frame) Symbol {
	var s Symbol
	if frame.Func != "" {
		s.name = []byte(frame.Func)
		s.has |= hasName
	}
	if frame.Addr != 0 {
		s.addr = frame.Addr
		s.has |= hasAddr
	}
	if frame.File != "" {
		s.filename = frame.File
		s.has |= hasFilename
	}
	if frame.Line > 0 {
		s.lineno = uint32(frame.Line)
		s.has |= hasLineno
	}
	return s
}
