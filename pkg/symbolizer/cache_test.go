// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

type countingSymbolizer struct {
	mu    sync.Mutex
	calls map[uint64]int
}

func (cs *countingSymbolizer) Symbolize(pc uint64) []Frame {
	cs.mu.Lock()
	cs.calls[pc]++
	cs.mu.Unlock()
	if pc%2 == 1 {
		return nil
	}
	return []Frame{
		{PC: pc, Func: fmt.Sprintf("inner%v", pc), File: "file.go", Line: 1, Inline: true},
		{PC: pc, Func: fmt.Sprintf("outer%v", pc), File: "file.go", Line: 2},
	}
}

func (cs *countingSymbolizer) Close() {}

func TestCache(t *testing.T) {
	inner := &countingSymbolizer{calls: make(map[uint64]int)}
	cache := NewCache(inner)
	defer cache.Close()

	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			for pc := uint64(0); pc < 100; pc++ {
				frames := cache.Symbolize(pc)
				if pc%2 == 1 {
					if len(frames) != 0 {
						return fmt.Errorf("pc %v: got %v frames", pc, len(frames))
					}
					continue
				}
				if len(frames) != 2 || frames[1].Func != fmt.Sprintf("outer%v", pc) {
					return fmt.Errorf("pc %v: bad frames %+v", pc, frames)
				}
			}
			return nil
		})
	}
	assert.NoError(t, eg.Wait())
	assert.Equal(t, 100, cache.Len())
	for pc := uint64(0); pc < 100; pc++ {
		assert.Equal(t, 1, inner.calls[pc], "pc %v", pc)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache(&countingSymbolizer{calls: make(map[uint64]int)})
	frames := cache.Symbolize(2)
	frames[0].Func = "mutated"
	assert.Equal(t, "inner2", cache.Symbolize(2)[0].Func)
}

func TestInterner(t *testing.T) {
	var in Interner
	a := in.Do(string([]byte("foo")))
	b := in.Do(string([]byte("foo")))
	assert.Equal(t, "foo", a)
	assert.Equal(t, a, b)
	assert.Equal(t, "", in.Do(""))
}
