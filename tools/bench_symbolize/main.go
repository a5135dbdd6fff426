// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bench_symbolize measures resolution speed of the ELF resolver.
// It reads hex PCs from stdin, one per line. Output of syz-backtrace -full is accepted too,
// in which case the frame addresses in parentheses are used:
//
//	bench_symbolize -bin ./server < pcs.in
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/tool"
	"golang.org/x/sync/errgroup"
)

var (
	flagBin      = flag.String("bin", "", "binary to resolve PCs against")
	flagInitOnly = flag.Bool("init_only", false, "benchmark initialization only")
	flagProcs    = flag.Int("procs", 1, "number of concurrent resolvers")
)

func main() {
	defer tool.Init()()
	if *flagBin == "" || *flagProcs < 1 {
		fmt.Fprintf(os.Stderr, "usage: bench_symbolize -bin=path/to/binary < pcs.in\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var pcs []uint64
	if !*flagInitOnly {
		var err error
		if pcs, err = readPCs(os.Stdin); err != nil {
			tool.Fail(err)
		}
		fmt.Printf("Loaded %d PCs\n", len(pcs))
	}

	startInit := time.Now()
	symb, err := symbolizer.Open(*flagBin)
	if err != nil {
		tool.Fail(err)
	}
	cache := symbolizer.NewCache(symb)
	defer cache.Close()
	fmt.Printf("Initialization time: %v\n", tool.Since(startInit))

	if *flagInitOnly {
		return
	}
	for _, pass := range []string{"Cold", "Warm"} {
		start := time.Now()
		frames := symbolizeAll(cache, pcs, *flagProcs)
		duration := time.Since(start)
		fmt.Printf("symbolized %d PCs into %d frames in %v (%v)\n", len(pcs), frames, duration, pass)
		fmt.Printf("Speed: %.2f PCs/sec\n", float64(len(pcs))/duration.Seconds())
	}
}

var frameAddrRe = regexp.MustCompile(`\((0x[0-9a-fA-F]+)\)$`)

// readPCs parses PCs, one per line. A line is either a hex number (0x prefix is optional)
// or a rendered backtrace frame ending with the address in parentheses.
// Other lines are ignored.
func readPCs(r io.Reader) ([]uint64, error) {
	var pcs []uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if match := frameAddrRe.FindStringSubmatch(line); match != nil {
			line = match[1]
		}
		line = strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X")
		if line == "" {
			continue
		}
		if pc, err := strconv.ParseUint(line, 16, 64); err == nil {
			pcs = append(pcs, pc)
		}
	}
	return pcs, scanner.Err()
}

// symbolizeAll resolves pcs with procs goroutines and returns the total number of frames.
func symbolizeAll(symb symbolizer.Symbolizer, pcs []uint64, procs int) int {
	counts := make([]int, procs)
	var g errgroup.Group
	for p := 0; p < procs; p++ {
		g.Go(func() error {
			for i := p; i < len(pcs); i += procs {
				counts[p] += len(symb.Symbolize(pcs[i]))
			}
			return nil
		})
	}
	g.Wait()
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
