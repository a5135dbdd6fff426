// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/syz-backtrace/pkg/stat"
)

// Init parses command line flags and sets up profiling and stats.
// Logging verbosity is controlled by the -vv flag of the log package.
// The returned function needs to be called on exit (usually deferred in main).
func Init() func() {
	flagCPUProfile := flag.String("cpuprofile", "", "write CPU profile to this file")
	flagMemProfile := flag.String("memprofile", "", "write memory profile to this file")
	flagStats := flag.Bool("stats", false, "print stats on exit")
	flag.Parse()
	prof := &Profiler{CPUFile: *flagCPUProfile, MemFile: *flagMemProfile}
	if err := prof.Start(); err != nil {
		Fail(err)
	}
	return func() {
		if err := prof.Stop(); err != nil {
			Fail(err)
		}
		if *flagStats {
			PrintStats(os.Stderr, stat.All)
		}
	}
}

// PrintStats prints the current values of all stats of the given level.
func PrintStats(w io.Writer, level stat.Level) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, ui := range stat.Collect(level) {
		fmt.Fprintf(tw, "%v:\t%v\t(%v)\n", ui.Name, ui.Value, ui.Desc)
	}
	tw.Flush()
}

func Failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}

// Since formats the time elapsed since start for human consumption.
func Since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
