// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/syz-backtrace/pkg/stat"
	"golang.org/x/sync/singleflight"
)

var (
	statCacheHits   = stat.New("symbolizer cache hits", "Addresses served from symbolizer cache")
	statCacheMisses = stat.New("symbolizer cache misses", "Addresses passed to the underlying symbolizer")
)

// Cache caches symbolization results of the wrapped Symbolizer in a thread-safe way.
// Concurrent lookups of the same address share a single underlying call.
type Cache struct {
	inner    Symbolizer
	mu       sync.RWMutex
	cache    map[uint64][]Frame
	group    singleflight.Group
	interner Interner
}

func NewCache(inner Symbolizer) *Cache {
	return &Cache{
		inner: inner,
		cache: make(map[uint64][]Frame),
	}
}

func (c *Cache) Symbolize(pc uint64) []Frame {
	c.mu.RLock()
	frames, ok := c.cache[pc]
	c.mu.RUnlock()
	if ok {
		statCacheHits.Add(1)
		return slices.Clone(frames)
	}
	res, _, _ := c.group.Do(strconv.FormatUint(pc, 16), func() (interface{}, error) {
		c.mu.RLock()
		frames, ok := c.cache[pc]
		c.mu.RUnlock()
		if ok {
			return frames, nil
		}
		statCacheMisses.Add(1)
		frames = c.inner.Symbolize(pc)
		for i := range frames {
			frames[i].Func = c.interner.Do(frames[i].Func)
			frames[i].File = c.interner.Do(frames[i].File)
		}
		c.mu.Lock()
		c.cache[pc] = frames
		c.mu.Unlock()
		return frames, nil
	})
	return slices.Clone(res.([]Frame))
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cache) Close() {
	c.inner.Close()
}

// Interner allows to intern/deduplicate strings.
// Interner.Do semantically returns the same string, but physically it will point
// to an existing string with the same contents (if there was one passed to Do in the past).
// Interned strings are also "cloned", that is, if the passed string points to a large
// buffer, it won't after interning (and won't prevent GC'ing of the large buffer).
type Interner struct {
	m sync.Map
}

func (in *Interner) Do(s string) string {
	if interned, ok := in.m.Load(s); ok {
		return interned.(string)
	}
	s = strings.Clone(s)
	in.m.Store(s, s)
	return s
}
