// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/syz-backtrace/pkg/stat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintStats(t *testing.T) {
	val := stat.New("tool test stat", "Stat for tool tests", stat.Console)
	val.Add(42)
	buf := new(bytes.Buffer)
	PrintStats(buf, stat.Console)
	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(l, "tool test stat:") {
			line = l
		}
	}
	assert.Contains(t, line, "42")
	assert.Contains(t, line, "(Stat for tool tests)")
}

func TestSince(t *testing.T) {
	got := Since(time.Now().Add(-1500 * time.Millisecond))
	assert.True(t, strings.HasPrefix(got, "1.5"), got)
}

func TestProfiler(t *testing.T) {
	dir := t.TempDir()
	prof := &Profiler{
		CPUFile: filepath.Join(dir, "cpu"),
		MemFile: filepath.Join(dir, "mem"),
	}
	require.NoError(t, prof.Start())
	require.NoError(t, prof.Stop())
	for _, file := range []string{prof.CPUFile, prof.MemFile} {
		fi, err := os.Stat(file)
		require.NoError(t, err)
		assert.NotZero(t, fi.Size(), file)
	}
	// Stopping twice only rewrites the heap profile.
	require.NoError(t, prof.Stop())
}

func TestProfilerDisabled(t *testing.T) {
	prof := new(Profiler)
	require.NoError(t, prof.Start())
	require.NoError(t, prof.Stop())
}

func TestProfilerBadFile(t *testing.T) {
	prof := &Profiler{CPUFile: filepath.Join(t.TempDir(), "missing", "cpu")}
	assert.ErrorContains(t, prof.Start(), "failed to create cpu profile")
	prof = &Profiler{MemFile: filepath.Join(t.TempDir(), "missing", "mem")}
	require.NoError(t, prof.Start())
	assert.ErrorContains(t, prof.Stop(), "failed to create mem profile")
}
