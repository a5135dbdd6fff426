// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/osutil"
	"github.com/ulikunitz/xz"
)

// Dumps are stored in one of the formats, depending on the file extension:
//   - .json: backtrace.Backtrace JSON encoding, including the trim index;
//   - .xz: xz-compressed backtrace.EncodeFrames of the visible frames;
//   - anything else: uncompressed backtrace.EncodeFrames of the visible frames.

func writeDump(file string, bt *backtrace.Backtrace) error {
	var data []byte
	switch filepath.Ext(file) {
	case ".json":
		var err error
		if data, err = json.Marshal(bt); err != nil {
			return err
		}
	case ".xz":
		buf := new(bytes.Buffer)
		w, err := xz.NewWriter(buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(backtrace.EncodeFrames(bt.Frames())); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		data = buf.Bytes()
	default:
		data = backtrace.EncodeFrames(bt.Frames())
	}
	if err := osutil.WriteFile(file, data); err != nil {
		return fmt.Errorf("failed to write dump: %w", err)
	}
	return nil
}

func readDump(file string) (*backtrace.Backtrace, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	switch filepath.Ext(file) {
	case ".json":
		bt := new(backtrace.Backtrace)
		if err := json.Unmarshal(data, bt); err != nil {
			return nil, fmt.Errorf("failed to parse %v: %w", file, err)
		}
		return bt, nil
	case ".xz":
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("xz reader failed: %w", err)
		}
		if data, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("xz decompression failed: %w", err)
		}
	}
	frames, err := backtrace.DecodeFrames(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", file, err)
	}
	return backtrace.FromFrames(frames, 0), nil
}
