// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// syz-backtrace captures, stores, decodes and symbolizes backtraces.
//
// Without arguments it captures own backtrace (handy to check the configuration):
//
//	syz-backtrace -config bt.cfg -out dump.xz
//
// With an argument it prints a dump, resolving it against the binary it was captured in:
//
//	syz-backtrace -bin ./server dump.xz
//	syz-backtrace -store ./backtraces -bin ./server 6d3fd6e1b4c0...
//	syz-backtrace -store ./backtraces -list
//
// With -http it serves stats, Prometheus metrics and the store contents until interrupted:
//
//	syz-backtrace -store ./backtraces -http localhost:8080
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/btconfig"
	"github.com/google/syz-backtrace/pkg/btstore"
	"github.com/google/syz-backtrace/pkg/hash"
	"github.com/google/syz-backtrace/pkg/log"
	"github.com/google/syz-backtrace/pkg/stat"
	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/tool"
)

var (
	flagConfig = flag.String("config", "", "config file (optional)")
	flagJSON   = flag.Bool("json", false, "print backtraces as JSON")
	flagFull   = flag.Bool("full", false, "print frames of the capture machinery too")
	flagBin    = flag.String("bin", "", "binary to resolve decoded backtraces against")
	flagBias   = flag.Uint64("load_bias", 0, "load bias of -bin in the process the backtrace was captured in")
	flagStore  = flag.String("store", "", "backtrace store directory (overrides config)")
	flagList   = flag.Bool("list", false, "list backtraces in the store")
	flagOut    = flag.String("out", "", "save the captured backtrace to this file")
	flagHTTP   = flag.String("http", "", "serve stats, metrics and stored backtraces on this address")
)

func main() {
	defer tool.Init()()
	cfg := btconfig.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = btconfig.LoadFile(*flagConfig); err != nil {
			tool.Fail(err)
		}
	}
	if *flagStore != "" {
		cfg.StoreDir = *flagStore
		if err := btconfig.Complete(cfg); err != nil {
			tool.Fail(err)
		}
	}
	store := cfg.Store()
	if store != nil {
		// Stored backtraces come with the log output that preceded them.
		log.EnableLogCaching(1000, 1<<20)
	}
	var err error
	switch {
	case *flagHTTP != "":
		err = serve(cfg, store)
	case *flagList:
		err = list(os.Stdout, store)
	case flag.NArg() == 0:
		err = capture(os.Stdout, cfg, store)
	case flag.NArg() == 1:
		err = show(os.Stdout, store, flag.Arg(0))
	default:
		fmt.Fprintf(os.Stderr, "usage: syz-backtrace [flags] [dump file or signature]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err != nil {
		tool.Fail(err)
	}
}

func capture(w io.Writer, cfg *btconfig.Config, store *btstore.Store) error {
	tracer, sym, err := cfg.NewTracer()
	if err != nil {
		return err
	}
	defer sym.Close()
	bt := tracer.New()
	if log.V(1) {
		tool.PrintStats(os.Stderr, stat.Console)
	}
	if *flagOut != "" {
		if err := writeDump(*flagOut, bt); err != nil {
			return err
		}
	}
	if store != nil {
		first, err := store.Save(bt)
		if err != nil {
			return err
		}
		log.Logf(0, "saved backtrace %v (new: %v)", bt.Signature(), first)
	}
	return printBacktrace(w, bt)
}

func serve(cfg *btconfig.Config, store *btstore.Store) error {
	tracer, sym, err := cfg.NewTracer()
	if err != nil {
		return err
	}
	defer sym.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	serv := &httpServer{tracer: tracer, sym: sym, store: store}
	return serv.serve(ctx, *flagHTTP)
}

func show(w io.Writer, store *btstore.Store, arg string) error {
	var bt *backtrace.Backtrace
	var err error
	if _, sigErr := hash.FromString(arg); sigErr == nil && store != nil {
		bt, err = store.Load(arg)
	} else {
		bt, err = readDump(arg)
	}
	if err != nil {
		return err
	}
	if *flagBin != "" {
		sym, err := symbolizer.Open(*flagBin, symbolizer.WithLoadBias(*flagBias))
		if err != nil {
			return fmt.Errorf("failed to open %v: %w", *flagBin, err)
		}
		defer sym.Close()
		start := time.Now()
		bt.ResolveWith(symbolizer.NewCache(sym))
		log.Logf(1, "resolved %v frames in %v", len(bt.AllFrames()), tool.Since(start))
	}
	return printBacktrace(w, bt)
}

func list(w io.Writer, store *btstore.Store) error {
	if store == nil {
		return fmt.Errorf("no store directory specified")
	}
	infos, err := store.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%v hits=%v last=%v\n%v\n\n", info.Sig, info.Hits,
			info.Last.Format(time.DateTime), info.Report)
	}
	return nil
}

func printBacktrace(w io.Writer, bt *backtrace.Backtrace) error {
	if *flagJSON {
		data, err := json.MarshalIndent(bt, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	format := "%v\n"
	if *flagFull {
		format = "%+v\n"
	}
	_, err := fmt.Fprintf(w, format, bt)
	return err
}
