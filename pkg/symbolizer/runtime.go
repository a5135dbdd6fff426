// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"runtime"
)

// runtimeSymbolizer resolves return addresses of the running binary
// with the runtime's own symbol and inlining tables.
type runtimeSymbolizer struct{}

func (runtimeSymbolizer) Symbolize(pc uint64) []Frame {
	if pc == 0 || uint64(uintptr(pc)) != pc {
		return nil
	}
	iter := runtime.CallersFrames([]uintptr{uintptr(pc)})
	var frames []Frame
	for {
		f, more := iter.Next()
		if f.Function != "" {
			frames = append(frames, Frame{
				PC:   pc,
				Func: f.Function,
				Addr: uint64(f.Entry),
				File: f.File,
				Line: f.Line,
			})
		}
		if !more {
			break
		}
	}
	for i := 0; i < len(frames)-1; i++ {
		frames[i].Inline = true
	}
	return frames
}

func (runtimeSymbolizer) Close() {}
