// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/btstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpRoundTrip(t *testing.T) {
	bt := backtrace.New()
	for _, name := range []string{"dump", "dump.xz", "dump.json"} {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), name)
			require.NoError(t, writeDump(file, bt))
			restored, err := readDump(file)
			require.NoError(t, err)
			assert.Equal(t, bt.String(), restored.String())
			assert.Equal(t, bt.Signature(), restored.Signature())
		})
	}
}

func TestReadBadDump(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		"dump":      "{garbage",
		"dump.json": `{"start": 5, "frames": []}`,
	} {
		file := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(file, []byte(data), 0644))
		_, err := readDump(file)
		assert.True(t, errors.Is(err, backtrace.ErrMalformedRecord), err)
	}
	file := filepath.Join(dir, "dump.xz")
	require.NoError(t, os.WriteFile(file, []byte("garbage"), 0644))
	_, err := readDump(file)
	assert.Error(t, err)
	_, err = readDump(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestShowAndList(t *testing.T) {
	store := &btstore.Store{BaseDir: t.TempDir(), Compress: true}
	bt := backtrace.NewUnresolved()
	_, err := store.Save(bt)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, show(buf, store, bt.Signature().String()))
	assert.True(t, strings.HasPrefix(buf.String(), "stack backtrace:\n0000: <unresolved>"), buf.String())

	buf.Reset()
	require.NoError(t, list(buf, store))
	assert.True(t, strings.HasPrefix(buf.String(), bt.Signature().String()+" hits=1"), buf.String())

	assert.Error(t, list(buf, nil))
}
