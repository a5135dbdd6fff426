// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"fmt"
	"io"
	"strings"
)

// String returns the report of the caller frames.
// Symbols are printed only for frames that were resolved.
func (bt *Backtrace) String() string {
	buf := new(strings.Builder)
	render(buf, bt.Frames())
	return buf.String()
}

// Format implements fmt.Formatter.
// %v and %s print the same report as String, %+v also includes frames of the capture machinery.
func (bt *Backtrace) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			render(f, bt.AllFrames())
			return
		}
		render(f, bt.Frames())
	case 's':
		render(f, bt.Frames())
	default:
		fmt.Fprintf(f, "%%!%c(*backtrace.Backtrace)", verb)
	}
}

// render writes the report in the following format:
//
//	stack backtrace:
//	0000: <unresolved> (0x4a1f20)
//	0001: <no info> (0x4a1f80)
//	0002: main.inner (0x4a2010)
//	             at /src/main.go:12
//	      main.outer
//	             at /src/main.go:20
func render(w io.Writer, frames []Frame) {
	io.WriteString(w, "stack backtrace:")
	for idx, frame := range frames {
		fmt.Fprintf(w, "\n%04d: ", idx)
		switch {
		case !frame.resolved:
			fmt.Fprintf(w, "<unresolved> (%#x)", frame.IP())
			continue
		case len(frame.symbols) == 0:
			fmt.Fprintf(w, "<no info> (%#x)", frame.IP())
			continue
		}
		for i, sym := range frame.symbols {
			if i != 0 {
				io.WriteString(w, "\n      ")
			}
			if name, ok := sym.Name(); ok {
				io.WriteString(w, name.String())
			} else {
				io.WriteString(w, "<unknown>")
			}
			if i == 0 {
				fmt.Fprintf(w, " (%#x)", frame.IP())
			}
			file, hasFile := sym.Filename()
			line, hasLine := sym.Lineno()
			if hasFile && hasLine {
				fmt.Fprintf(w, "\n             at %v:%v", file, line)
			}
		}
	}
}
