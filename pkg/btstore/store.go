// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package btstore persists backtraces on disk grouped by stack signature.
//
// Every unique stack gets its own directory under BaseDir:
//
//	<sig>/backtrace[.xz] - frames encoded with backtrace.EncodeFrames
//	<sig>/report         - the rendered backtrace
//	<sig>/hits           - number of times the stack was saved
//	<sig>/log            - recent log output at the time of the first save, if log caching is enabled
package btstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/hash"
	"github.com/google/syz-backtrace/pkg/log"
	"github.com/google/syz-backtrace/pkg/osutil"
	"github.com/google/syz-backtrace/pkg/stat"
	"github.com/ulikunitz/xz"
)

var (
	statSaved = stat.New("saved backtraces", "Number of backtraces saved to the store",
		stat.Console, stat.Prometheus("syz_backtrace_saved"))
	statUnique = stat.New("unique backtraces", "Number of new stacks saved to the store",
		stat.Console)
)

var ErrNotFound = errors.New("backtrace not found")

const (
	dataFile   = "backtrace"
	xzSuffix   = ".xz"
	reportFile = "report"
	hitsFile   = "hits"
	logFile    = "log"
)

type Store struct {
	BaseDir string
	// Compress makes new records xz-compressed. Records of both kinds can be loaded.
	Compress bool

	mu sync.Mutex
}

// Info describes one stored stack.
type Info struct {
	Sig    string
	Hits   int
	First  time.Time
	Last   time.Time
	Report string
	// Log is the cached log output saved with the stack (empty if there was none).
	Log string
}

// Save stores the visible frames of bt. If the stack was already saved,
// only the hit counter is updated. Returns whether the stack is new.
func (st *Store) Save(bt *backtrace.Backtrace) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sig := bt.Signature().String()
	dir := filepath.Join(st.BaseDir, sig)
	statSaved.Add(1)
	hits, err := readHits(dir)
	if err != nil {
		return false, err
	}
	first := hits == 0
	if first {
		if err := osutil.MkdirAll(dir); err != nil {
			return false, fmt.Errorf("failed to create %v: %w", dir, err)
		}
		if err := st.writeData(dir, backtrace.EncodeFrames(bt.Frames())); err != nil {
			return false, err
		}
		if err := osutil.WriteFile(filepath.Join(dir, reportFile), []byte(bt.String()+"\n")); err != nil {
			return false, fmt.Errorf("failed to write report: %w", err)
		}
		statUnique.Add(1)
		log.Logf(1, "saved new backtrace %v", sig)
		if output := log.CachedLogOutput(); output != "" {
			if err := osutil.WriteFile(filepath.Join(dir, logFile), []byte(output)); err != nil {
				return false, fmt.Errorf("failed to write log: %w", err)
			}
		}
	}
	hits++
	if err := osutil.WriteFile(filepath.Join(dir, hitsFile), []byte(strconv.Itoa(hits))); err != nil {
		return false, fmt.Errorf("failed to write hits: %w", err)
	}
	return first, nil
}

func (st *Store) writeData(dir string, data []byte) error {
	name := filepath.Join(dir, dataFile)
	if st.Compress {
		buf := new(bytes.Buffer)
		w, err := xz.NewWriter(buf)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("xz compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("xz compression failed: %w", err)
		}
		name += xzSuffix
		data = buf.Bytes()
	}
	if err := osutil.WriteFile(name, data); err != nil {
		return fmt.Errorf("failed to write %v: %w", name, err)
	}
	return nil
}

// Load restores the backtrace saved under sig. The frames are not resolved
// unless they were resolved when saved.
func (st *Store) Load(sig string) (*backtrace.Backtrace, error) {
	if _, err := hash.FromString(sig); err != nil {
		return nil, fmt.Errorf("bad signature %q: %w", sig, err)
	}
	data, err := st.readData(filepath.Join(st.BaseDir, sig))
	if err != nil {
		return nil, err
	}
	frames, err := backtrace.DecodeFrames(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %v: %w", sig, err)
	}
	return backtrace.FromFrames(frames, 0), nil
}

func (st *Store) readData(dir string) ([]byte, error) {
	name := filepath.Join(dir, dataFile)
	if data, err := os.ReadFile(name); err == nil {
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.Open(name + xzSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, filepath.Base(dir))
	} else if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("xz reader failed: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decompression failed: %w", err)
	}
	return data, nil
}

// Info returns information about the stack saved under sig.
func (st *Store) Info(sig string) (*Info, error) {
	dir := filepath.Join(st.BaseDir, sig)
	report, err := os.ReadFile(filepath.Join(dir, reportFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, sig)
	} else if err != nil {
		return nil, err
	}
	info := &Info{
		Sig:    sig,
		Report: strings.TrimSuffix(string(report), "\n"),
	}
	if output, err := os.ReadFile(filepath.Join(dir, logFile)); err == nil {
		info.Log = string(output)
	}
	if info.Hits, err = readHits(dir); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(filepath.Join(dir, reportFile)); err == nil {
		info.First = fi.ModTime()
	}
	if fi, err := os.Stat(filepath.Join(dir, hitsFile)); err == nil {
		info.Last = fi.ModTime()
	}
	return info, nil
}

// List returns all stored stacks, most frequent first.
func (st *Store) List() ([]*Info, error) {
	dirs, err := osutil.ListDir(st.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var res []*Info
	for _, sig := range dirs {
		if _, err := hash.FromString(sig); err != nil {
			continue
		}
		info, err := st.Info(sig)
		if err != nil {
			log.Errorf("skipping broken backtrace %v: %v", sig, err)
			continue
		}
		res = append(res, info)
	}
	sortInfos(res)
	return res, nil
}

func readHits(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, hitsFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	hits, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad hits file in %v: %w", dir, err)
	}
	return hits, nil
}

func sortInfos(infos []*Info) {
	slices.SortStableFunc(infos, func(a, b *Info) int {
		if a.Hits != b.Hits {
			return b.Hits - a.Hits
		}
		return strings.Compare(a.Sig, b.Sig)
	})
}
