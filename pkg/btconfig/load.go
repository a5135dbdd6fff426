// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package btconfig

import (
	"fmt"
	"sync"

	"github.com/google/syz-backtrace/pkg/backtrace"
	"github.com/google/syz-backtrace/pkg/btstore"
	"github.com/google/syz-backtrace/pkg/config"
	"github.com/google/syz-backtrace/pkg/osutil"
	"github.com/google/syz-backtrace/pkg/symbolizer"
	"github.com/google/syz-backtrace/pkg/unwind"
)

func LoadData(data []byte) (*Config, error) {
	cfg := Default()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg := Default()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Resolver: ResolverRuntime,
		Cache:    true,
		Compress: true,
	}
}

func Complete(cfg *Config) error {
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("bad config param max_depth: %v, want >= 0", cfg.MaxDepth)
	}
	switch cfg.Resolver {
	case ResolverRuntime, ResolverNone:
		if cfg.Binary != "" {
			return fmt.Errorf("config param binary is set, but resolver is %q", cfg.Resolver)
		}
	case ResolverELF:
		if cfg.Binary == "" {
			return fmt.Errorf("config param binary is empty")
		}
		cfg.Binary = osutil.Abs(cfg.Binary)
		if err := osutil.IsAccessible(cfg.Binary); err != nil {
			return fmt.Errorf("bad config param binary: %w", err)
		}
	default:
		return fmt.Errorf("config param resolver must contain one of runtime/elf/none")
	}
	cfg.StoreDir = osutil.Abs(cfg.StoreDir)
	return nil
}

// Symbolizer creates the resolver described by the config.
func (cfg *Config) Symbolizer() (symbolizer.Symbolizer, error) {
	var sym symbolizer.Symbolizer
	switch cfg.Resolver {
	case ResolverRuntime:
		sym = symbolizer.Make()
	case ResolverELF:
		var err error
		if sym, err = symbolizer.Open(cfg.Binary); err != nil {
			return nil, err
		}
	case ResolverNone:
		return symbolizer.Nop(), nil
	default:
		return nil, fmt.Errorf("unknown resolver %q", cfg.Resolver)
	}
	if cfg.Cache {
		sym = symbolizer.NewCache(sym)
	}
	return sym, nil
}

// NewTracer creates a tracer with the configured walker and resolver.
// The caller owns the resolver and should call Close on the returned symbolizer
// once the tracer is not needed anymore.
func (cfg *Config) NewTracer() (*backtrace.Tracer, symbolizer.Symbolizer, error) {
	sym, err := cfg.Symbolizer()
	if err != nil {
		return nil, nil, err
	}
	opts := []backtrace.Option{
		backtrace.WithWalker(unwind.Runtime{MaxDepth: cfg.MaxDepth}),
		backtrace.WithSymbolizer(sym),
	}
	if cfg.Serialize {
		opts = append(opts, backtrace.WithLock(new(sync.Mutex)))
	}
	return backtrace.NewTracer(opts...), sym, nil
}

// Store returns the backtrace store, or nil if store_dir is not set.
func (cfg *Config) Store() *btstore.Store {
	if cfg.StoreDir == "" {
		return nil
	}
	return &btstore.Store{
		BaseDir:  cfg.StoreDir,
		Compress: cfg.Compress,
	}
}
