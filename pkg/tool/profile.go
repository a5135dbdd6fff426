// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Profiler writes CPU and heap profiles of the running tool.
// Empty file names disable the corresponding profile.
type Profiler struct {
	CPUFile string
	MemFile string

	cpu *os.File
}

// Start begins CPU profiling. It is a no-op if CPUFile is empty.
func (p *Profiler) Start() error {
	if p.CPUFile == "" {
		return nil
	}
	f, err := os.Create(p.CPUFile)
	if err != nil {
		return fmt.Errorf("failed to create cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start cpu profile: %w", err)
	}
	p.cpu = f
	return nil
}

// Stop finishes the CPU profile and writes the heap profile.
func (p *Profiler) Stop() error {
	var errs []error
	if p.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, p.cpu.Close())
		p.cpu = nil
	}
	if p.MemFile != "" {
		errs = append(errs, writeHeapProfile(p.MemFile))
	}
	return errors.Join(errs...)
}

func writeHeapProfile(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create mem profile: %w", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write mem profile: %w", err)
	}
	return f.Close()
}
