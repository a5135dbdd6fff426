// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/btstore"
	"github.com/google/syz-backtrace/pkg/hash"
	"github.com/google/syz-backtrace/pkg/log"
	"github.com/google/syz-backtrace/pkg/stat"
	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/tool"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type httpServer struct {
	tracer *backtrace.Tracer
	sym    symbolizer.Symbolizer
	store  *btstore.Store
}

func (serv *httpServer) handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	handle("/backtrace", serv.httpBacktrace)
	handle("/backtraces", serv.httpBacktraces)
	handle("/capture", serv.httpCapture)
	handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}).ServeHTTP)
	handle("/stats", serv.httpStats)
	return mux
}

func (serv *httpServer) serve(ctx context.Context, addr string) error {
	log.Logf(0, "serving http on http://%v", addr)
	server := &http.Server{Addr: addr, Handler: serv.handler()}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (serv *httpServer) httpStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	tool.PrintStats(w, stat.All)
}

// httpCapture captures a backtrace of the handler and saves it to the store.
func (serv *httpServer) httpCapture(w http.ResponseWriter, r *http.Request) {
	bt := serv.tracer.New()
	if serv.store != nil {
		if _, err := serv.store.Save(bt); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%v\n", bt)
}

func (serv *httpServer) httpBacktraces(w http.ResponseWriter, r *http.Request) {
	if serv.store == nil {
		http.Error(w, "no backtrace store", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := list(w, serv.store); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (serv *httpServer) httpBacktrace(w http.ResponseWriter, r *http.Request) {
	if serv.store == nil {
		http.Error(w, "no backtrace store", http.StatusNotFound)
		return
	}
	sig := r.FormValue("sig")
	if _, err := hash.FromString(sig); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bt, err := serv.store.Load(sig)
	if errors.Is(err, btstore.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bt.ResolveWith(serv.sym)
	if r.FormValue("json") != "" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(bt); err != nil {
			log.Errorf("failed to encode %v: %v", sig, err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%v\n", bt)
}
