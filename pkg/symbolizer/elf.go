// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symbolizer

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/syz-backtrace/pkg/log"
)

// Option configures symbolizers returned by Open.
type Option func(*options)

type options struct {
	returnAddresses bool
	inlined         bool
	loadBias        uint64
}

// WithReturnAddresses says that symbolized addresses are return addresses
// (as produced by stack walkers), so lookups use the preceding instruction.
func WithReturnAddresses(enabled bool) Option {
	return func(o *options) {
		o.returnAddresses = enabled
	}
}

// WithInlinedFns sets whether to report inlined functions covering an address.
func WithInlinedFns(enabled bool) Option {
	return func(o *options) {
		o.inlined = enabled
	}
}

// WithLoadBias sets the difference between runtime addresses and addresses in the binary.
// It is needed for position independent binaries and shared libraries, which are not
// loaded at their link address. Looked up addresses are translated to the binary
// and function start addresses are translated back, so frames stay in runtime addresses.
func WithLoadBias(bias uint64) Option {
	return func(o *options) {
		o.loadBias = bias
	}
}

type elfSymbolizer struct {
	path      string
	opts      options
	ef        *elf.File
	dw        *dwarf.Data
	cuRanges  []cuRange
	symbols   []elf.Symbol
	mu        sync.Mutex
	lineCache map[dwarf.Offset]*parsedCU
	subCache  map[dwarf.Offset][]subprogram
}

type parsedCU struct {
	entries []dwarf.LineEntry
	files   []*dwarf.LineFile
}

type cuRange struct {
	low   uint64
	high  uint64
	entry *dwarf.Entry
}

type subprogram struct {
	low   uint64
	high  uint64
	entry *dwarf.Entry
}

// Open returns a symbolizer for the ELF binary bin.
// DWARF is used when present, otherwise only the symbol table is consulted.
func Open(bin string, opts ...Option) (Symbolizer, error) {
	es := &elfSymbolizer{
		path: bin,
		opts: options{
			returnAddresses: true,
			inlined:         true,
		},
		lineCache: make(map[dwarf.Offset]*parsedCU),
		subCache:  make(map[dwarf.Offset][]subprogram),
	}
	for _, opt := range opts {
		opt(&es.opts)
	}
	ef, err := elf.Open(bin)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary %v: %w", bin, err)
	}
	es.ef = ef
	es.symbols, _ = ef.Symbols()
	es.symbols = funcSymbols(es.symbols)
	dw, err := ef.DWARF()
	if err != nil {
		log.Logf(1, "symbolizer: no DWARF in %v: %v", bin, err)
	} else {
		es.dw = dw
		if err := es.buildIndex(); err != nil {
			es.Close()
			return nil, fmt.Errorf("failed to index DWARF %v: %w", bin, err)
		}
	}
	if es.dw == nil && len(es.symbols) == 0 {
		es.Close()
		return nil, fmt.Errorf("binary %v has neither DWARF nor symbols", bin)
	}
	return es, nil
}

func funcSymbols(all []elf.Symbol) []elf.Symbol {
	var symbols []elf.Symbol
	for _, s := range all {
		if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
			symbols = append(symbols, s)
		}
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Value != symbols[j].Value {
			return symbols[i].Value < symbols[j].Value
		}
		if symbols[i].Size != symbols[j].Size {
			return symbols[i].Size < symbols[j].Size
		}
		return symbols[i].Name > symbols[j].Name
	})
	return symbols
}

func (es *elfSymbolizer) buildIndex() error {
	r := es.dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		ranges, err := es.dw.Ranges(entry)
		if err != nil {
			continue
		}
		for _, rng := range ranges {
			es.cuRanges = append(es.cuRanges, cuRange{
				low:   rng[0],
				high:  rng[1],
				entry: entry,
			})
		}
		r.SkipChildren()
	}
	sort.Slice(es.cuRanges, func(i, j int) bool {
		return es.cuRanges[i].low < es.cuRanges[j].low
	})
	return nil
}

func (es *elfSymbolizer) findCU(pc uint64) *dwarf.Entry {
	idx := sort.Search(len(es.cuRanges), func(i int) bool {
		return es.cuRanges[i].high > pc
	})
	if idx < len(es.cuRanges) && es.cuRanges[idx].low <= pc {
		return es.cuRanges[idx].entry
	}
	return nil
}

func (es *elfSymbolizer) getParsedCU(cu *dwarf.Entry) (*parsedCU, error) {
	es.mu.Lock()
	p, ok := es.lineCache[cu.Offset]
	es.mu.Unlock()
	if ok {
		return p, nil
	}
	lr, err := es.dw.LineReader(cu)
	if err != nil {
		return nil, err
	}
	if lr == nil {
		return nil, fmt.Errorf("no line table")
	}
	var entries []dwarf.LineEntry
	var entry dwarf.LineEntry
	for {
		if err := lr.Next(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})
	p = &parsedCU{
		entries: entries,
		files:   lr.Files(),
	}
	es.mu.Lock()
	es.lineCache[cu.Offset] = p
	es.mu.Unlock()
	return p, nil
}

func (es *elfSymbolizer) getFunction(cu *dwarf.Entry, pc uint64) (subprogram, bool) {
	es.mu.Lock()
	subs, ok := es.subCache[cu.Offset]
	es.mu.Unlock()
	if !ok {
		var err error
		subs, err = es.parseSubprograms(cu)
		if err != nil {
			return subprogram{}, false
		}
		es.mu.Lock()
		es.subCache[cu.Offset] = subs
		es.mu.Unlock()
	}
	idx := sort.Search(len(subs), func(i int) bool {
		return subs[i].high > pc
	})
	if idx < len(subs) && subs[idx].low <= pc {
		return subs[idx], true
	}
	return subprogram{}, false
}

func (es *elfSymbolizer) parseSubprograms(cu *dwarf.Entry) ([]subprogram, error) {
	var subs []subprogram
	r := es.dw.Reader()
	r.Seek(cu.Offset)
	if _, err := r.Next(); err != nil { // Skip CU.
		return nil, err
	}
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Tag == 0 {
			break
		}
		if entry.Tag == dwarf.TagSubprogram {
			if ranges, err := es.dw.Ranges(entry); err == nil {
				for _, rng := range ranges {
					subs = append(subs, subprogram{
						low:   rng[0],
						high:  rng[1],
						entry: entry,
					})
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].low < subs[j].low
	})
	return subs, nil
}

func (es *elfSymbolizer) Symbolize(pc uint64) []Frame {
	if pc == 0 || pc <= es.opts.loadBias {
		return nil
	}
	lookup := pc - es.opts.loadBias
	if es.opts.returnAddresses {
		lookup--
	}
	frames := es.symbolizeDWARF(lookup)
	if len(frames) == 0 {
		frames = es.symbolizeSymtab(lookup)
	}
	for i := range frames {
		frames[i].PC = pc
		if frames[i].Addr != 0 {
			frames[i].Addr += es.opts.loadBias
		}
	}
	return frames
}

func (es *elfSymbolizer) symbolizeDWARF(pc uint64) []Frame {
	if es.dw == nil {
		return nil
	}
	cu := es.findCU(pc)
	if cu == nil {
		return nil
	}
	p, err := es.getParsedCU(cu)
	if err != nil {
		log.Logf(2, "symbolizer: bad line table at %#x: %v", pc, err)
		return nil
	}
	var lineEntry *dwarf.LineEntry
	idx := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].Address > pc
	})
	// The last entry at or before pc covers it, unless it terminates a sequence.
	if idx > 0 && !p.entries[idx-1].EndSequence {
		lineEntry = &p.entries[idx-1]
	}
	sub, ok := es.getFunction(cu, pc)
	if !ok {
		return nil
	}
	return es.unwindInlines(sub, pc, lineEntry, p.files)
}

func (es *elfSymbolizer) symbolizeSymtab(pc uint64) []Frame {
	s, ok := es.findSymbol(pc)
	if !ok {
		return nil
	}
	return []Frame{{Func: s.Name, Addr: s.Value}}
}

func (es *elfSymbolizer) findSymbol(pc uint64) (elf.Symbol, bool) {
	idx := sort.Search(len(es.symbols), func(i int) bool {
		return es.symbols[i].Value > pc
	})
	if idx == 0 {
		return elf.Symbol{}, false
	}
	s := es.symbols[idx-1]
	limit := s.Value + s.Size
	if s.Size == 0 {
		limit = s.Value + 4096
		if idx < len(es.symbols) {
			limit = es.symbols[idx].Value
		}
	}
	if pc >= s.Value && pc < limit {
		return s, true
	}
	return elf.Symbol{}, false
}

func (es *elfSymbolizer) unwindInlines(sub subprogram, pc uint64, lineEntry *dwarf.LineEntry,
	files []*dwarf.LineFile) []Frame {
	var stack []*dwarf.Entry
	if es.opts.inlined && sub.entry.Children {
		r := es.dw.Reader()
		r.Seek(sub.entry.Offset)
		r.Next()
		findCoveringInlined(es.dw, r, pc, &stack)
	}
	stack = append(stack, sub.entry)

	var frames []Frame
	for i, die := range stack {
		origin := es.resolveAbstractOrigin(die)
		f := Frame{
			Func:   es.getName(die, origin),
			Addr:   lowPC(es.dw, die, pc),
			Inline: i != len(stack)-1,
		}
		es.fillLocation(&f, i, die, origin, stack, lineEntry, files)
		frames = append(frames, f)
	}
	if len(frames) != 0 && frames[len(frames)-1].Addr == 0 {
		frames[len(frames)-1].Addr = sub.low
	}
	return frames
}

// getName returns the raw symbol name of a DIE: mangled linkage names are preferred
// and are not demangled here.
func (es *elfSymbolizer) getName(die, origin *dwarf.Entry) string {
	for _, attr := range []dwarf.Attr{dwarf.AttrLinkageName, dwarf.AttrName} {
		if name, ok := die.Val(attr).(string); ok {
			return name
		}
		if origin != nil {
			if name, ok := origin.Val(attr).(string); ok {
				return name
			}
		}
	}
	return fmt.Sprintf("func_%x", die.Offset)
}

func lowPC(dw *dwarf.Data, die *dwarf.Entry, pc uint64) uint64 {
	ranges, err := dw.Ranges(die)
	if err != nil {
		return 0
	}
	for _, rng := range ranges {
		if pc >= rng[0] && pc < rng[1] {
			return rng[0]
		}
	}
	return 0
}

// findCoveringInlined appends inlined subroutines covering pc to stack, innermost first.
func findCoveringInlined(dw *dwarf.Data, r *dwarf.Reader, pc uint64, stack *[]*dwarf.Entry) bool {
	for {
		entry, err := r.Next()
		if err != nil || entry == nil || entry.Tag == 0 {
			return false
		}
		covers := false
		if ranges, err := dw.Ranges(entry); err == nil {
			for _, rng := range ranges {
				if pc >= rng[0] && pc < rng[1] {
					covers = true
					break
				}
			}
		}
		if !covers {
			if entry.Children {
				r.SkipChildren()
			}
			continue
		}
		if entry.Tag == dwarf.TagInlinedSubroutine {
			if entry.Children {
				findCoveringInlined(dw, r, pc, stack)
			}
			*stack = append(*stack, entry)
			return true
		}
		// Other tags (e.g. LexicalBlock).
		if entry.Children && findCoveringInlined(dw, r, pc, stack) {
			return true
		}
	}
}

func (es *elfSymbolizer) resolveAbstractOrigin(die *dwarf.Entry) *dwarf.Entry {
	ref, ok := die.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		return nil
	}
	r := es.dw.Reader()
	r.Seek(ref)
	entry, err := r.Next()
	if err != nil {
		return nil
	}
	return entry
}

func (es *elfSymbolizer) fillLocation(f *Frame, i int, die, origin *dwarf.Entry, stack []*dwarf.Entry,
	lineEntry *dwarf.LineEntry, files []*dwarf.LineFile) {
	if i == 0 {
		if lineEntry != nil && lineEntry.Line != 0 && lineEntry.File != nil {
			f.File = lineEntry.File.Name
			f.Line = lineEntry.Line
			return
		}
		// Fallback to function declaration file.
		target := die
		if origin != nil {
			target = origin
		}
		if name := lineFile(files, target.Val(dwarf.AttrDeclFile)); name != "" {
			f.File = name
		}
		return
	}
	// Callers of inlined code are located at the call site of the inlined callee.
	prev := stack[i-1]
	callLine, _ := prev.Val(dwarf.AttrCallLine).(int64)
	f.File = lineFile(files, prev.Val(dwarf.AttrCallFile))
	f.Line = int(callLine)
}

func lineFile(files []*dwarf.LineFile, val interface{}) string {
	idx, ok := val.(int64)
	if !ok || idx < 0 || int(idx) >= len(files) || files[idx] == nil {
		return ""
	}
	return files[idx].Name
}

func (es *elfSymbolizer) Close() {
	if es.ef != nil {
		es.ef.Close()
	}
}
