// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package btconfig describes how backtraces are captured, resolved and stored.
package btconfig

type Config struct {
	// Maximum number of frames to capture, 0 means no limit.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	// How frames are resolved to symbols:
	//  - "runtime": with the symbol tables of the running binary (default);
	//  - "elf": with the DWARF info of Binary, used for backtraces decoded from dumps;
	//  - "none": frames stay unresolved.
	Resolver string `json:"resolver" yaml:"resolver"`
	// Binary with debug info for the "elf" resolver.
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty"`
	// Cache resolved addresses in memory.
	Cache bool `json:"cache" yaml:"cache"`
	// Serialize stack walks and resolution with a lock.
	// Needed for resolvers that are not safe for concurrent use.
	Serialize bool `json:"serialize,omitempty" yaml:"serialize,omitempty"`
	// Directory to save backtraces to (optional).
	StoreDir string `json:"store_dir,omitempty" yaml:"store_dir,omitempty"`
	// Compress saved backtraces with xz.
	Compress bool `json:"compress" yaml:"compress"`
}

const (
	ResolverRuntime = "runtime"
	ResolverELF     = "elf"
	ResolverNone    = "none"
)
