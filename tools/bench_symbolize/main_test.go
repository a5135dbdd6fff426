// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"strings"
	"testing"

	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPCs(t *testing.T) {
	pcs, err := readPCs(strings.NewReader("0x1000\n\n  4096\nfoo\n0xffffffff81000000\n0010:\n"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1000, 0x4096, 0xffffffff81000000}, pcs)
}

func TestReadPCsFromBacktrace(t *testing.T) {
	input := `stack backtrace:
0000: backtrace.capture (0x100)
             at capture.go:5
0001: main.inner (0x1004)
             at /src/main.go:12
      main.outer
             at /src/main.go:20
0010: <no info> (0x3010)
0011: <unresolved> (0x4010)
`
	pcs, err := readPCs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x100, 0x1004, 0x3010, 0x4010}, pcs)
}

func TestSymbolizeAll(t *testing.T) {
	symb := symbolizer.Func(func(pc uint64) []symbolizer.Frame {
		return make([]symbolizer.Frame, pc)
	})
	pcs := []uint64{1, 2, 3, 4, 5}
	for procs := 1; procs <= 8; procs++ {
		assert.Equal(t, 15, symbolizeAll(symb, pcs, procs))
	}
}
