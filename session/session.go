/*
Copyright (C) 2026  memscan contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package session bundles a process access port, a cached region list, a
// match store, and the scan/filter operations the collaborator UI (shell,
// pointer-chain discovery, snapshot I/O) drives through a single handle.
package session

import (
	"fmt"
	"log"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/launix-de/memscan/complang"
	"github.com/launix-de/memscan/jit"
	"github.com/launix-de/memscan/matchstore"
	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
	"github.com/launix-de/memscan/scanner"
)

// indexEntry is one row of the address-ordered secondary index, rebuilt
// wholesale after every mutating session operation.
type indexEntry struct {
	addr  memtype.Address
	match memtype.Match
}

func indexLess(a, b indexEntry) bool {
	if a.addr != b.addr {
		return a.addr < b.addr
	}
	return a.match.TypeTag < b.match.TypeTag
}

// Session is the single handle the collaborator layers (shell, pointer
// chains, snapshot I/O) drive a scan/filter workflow through.
type Session struct {
	ID uuid.UUID

	proc    procaccess.Process
	regions []memtype.Region
	store   *matchstore.Store
	index   *btree.BTreeG[indexEntry]
}

// New wraps proc in a fresh, empty session.
func New(proc procaccess.Process) *Session {
	return &Session{
		ID:    uuid.New(),
		proc:  proc,
		store: matchstore.New(),
		index: btree.NewG(32, indexLess),
	}
}

// RefreshRegions re-reads the target's region list from proc.
func (s *Session) RefreshRegions() error {
	regions, err := s.proc.Regions()
	if err != nil {
		return fmt.Errorf("session: refresh regions: %w", err)
	}
	s.regions = regions
	return nil
}

// Regions returns the most recently refreshed region list.
func (s *Session) Regions() []memtype.Region { return s.regions }

// ScanIn runs a single scan pass over exactly the given regions with an
// already-built predicate, without touching this session's match store.
// Scan is built on top of it; pointerscan.FindChains uses it directly to
// probe arbitrary region subsets (e.g. only a module's static region) for
// pointer-chain discovery, without disturbing the session's current match
// set.
func (s *Session) ScanIn(regions []memtype.Region, predicate matchstore.Predicate, tags []memtype.MatchTypeTag, step int) ([]memtype.Match, error) {
	desc := scanner.Descriptor{
		TypeTags:  tags,
		Step:      step,
		Predicate: predicate,
	}
	return scanner.Run(s.proc, regions, desc)
}

// Process returns the process access port the session reads and writes
// through, for collaborators (pointerscan, snapshot I/O) that need direct
// access rather than going through the match store.
func (s *Session) Process() procaccess.Process { return s.proc }

// Scan runs an initial scan expressed as a comparator source string
// (e.g. "= 100", or a bare expression) over every cached region, resetting
// the match store to the freshly discovered candidates.
func (s *Session) Scan(src string, tags []memtype.MatchTypeTag, step int) error {
	cmp, err := complang.Parse(src)
	if err != nil {
		return fmt.Errorf("session: scan: %w", err)
	}
	found, err := s.ScanIn(s.regions, cmp, tags, step)
	if err != nil {
		return fmt.Errorf("session: scan: %w", err)
	}
	s.store.Reset()
	s.store.Extend(found)
	s.rebuildIndex()
	return nil
}

// Filter re-reads every surviving match and keeps the ones accepted by the
// comparator parsed from src. Constant comparators (complang.Comparator's
// own eligibility flag) run directly, since they never need a native
// buffer; everything else lowers to an exprlang tree and runs through the
// JIT, falling back to interpretation on any encoder the current
// architecture can't handle.
func (s *Session) Filter(src string) error {
	cmp, err := complang.Parse(src)
	if err != nil {
		return fmt.Errorf("session: filter: %w", err)
	}
	pred := choosePredicate(*cmp)
	if err := s.store.FilterWith(s.proc, pred); err != nil {
		return fmt.Errorf("session: filter: %w", err)
	}
	s.rebuildIndex()
	return nil
}

// choosePredicate picks the cheapest predicate implementation capable of
// evaluating cmp: the comparator itself when every operand already folds
// to a constant, a JIT-compiled wrapper otherwise. The wrapper compiles
// cmp's expression once under signed int64 ordering and once under native
// uint64 ordering, since a single filter pass can run across a match set
// holding both signed and unsigned integral types; EvalScalar picks
// whichever compiled form matches each candidate's own type tag.
func choosePredicate(cmp complang.Comparator) matchstore.Predicate {
	if cmp.Constant() {
		return cmp
	}
	expr := cmp.Expr()
	return jitPredicate{
		signed:   jit.Compile(expr, true),
		unsigned: jit.Compile(expr, false),
	}
}

// jitPredicate adapts a jit.Compiled boolean expression to
// matchstore.Predicate. Per the match store's typing rule, a JIT predicate
// only ever judges integral matches; floating-point and BYTES matches are
// retained unmodified, with a warning logged for each such match on every
// filter pass.
type jitPredicate struct {
	signed, unsigned jit.Compiled
}

func (p jitPredicate) EvalScalar(tag memtype.MatchTypeTag, old, current uint64, addr memtype.Address) bool {
	if tag.Float() {
		log.Printf("session: JIT filter does not apply to floating-point match at %s, retaining unmodified", addr)
		return true
	}
	compiled := p.unsigned
	if tag.Signed() {
		compiled = p.signed
	}
	return compiled.Eval(old, current, uint64(addr.Uintptr())) != 0
}

func (p jitPredicate) EvalBytes(old, current []byte, addr memtype.Address) bool {
	log.Printf("session: JIT filter does not apply to BYTES match at %s, retaining unmodified", addr)
	return true
}

// UpdateAll re-reads every surviving match's current value without
// discarding any, for a viewer that wants fresh values between filters.
func (s *Session) UpdateAll() error {
	if err := s.store.RefreshValues(s.proc); err != nil {
		return fmt.Errorf("session: update all: %w", err)
	}
	s.rebuildIndex()
	return nil
}

// Reset drops every surviving match, returning to the pre-scan state.
func (s *Session) Reset() {
	s.store.Reset()
	s.rebuildIndex()
}

// Len, At and All delegate to the underlying match store.
func (s *Session) Len() int               { return s.store.Len() }
func (s *Session) At(i int) memtype.Match { return s.store.At(i) }
func (s *Session) All() []memtype.Match   { return s.store.All() }

// InRegion returns every surviving match whose address falls within
// region, in ascending-address order, using the secondary index rather
// than a linear scan of the whole match set.
func (s *Session) InRegion(region memtype.Region) []memtype.Match {
	var out []memtype.Match
	lo := indexEntry{addr: region.Begin}
	hi := indexEntry{addr: region.End}
	s.index.AscendRange(lo, hi, func(e indexEntry) bool {
		out = append(out, e.match)
		return true
	})
	return out
}

// rebuildIndex replaces the secondary index wholesale from the match
// store's current contents. Called after every mutating operation;
// simpler and, at the sizes a single scan session reaches, cheaper than
// maintaining tree invariants incrementally alongside FilterWith's
// gather-then-test loop.
func (s *Session) rebuildIndex() {
	s.index.Clear(false)
	for _, m := range s.store.All() {
		s.index.ReplaceOrInsert(indexEntry{addr: m.Address, match: m})
	}
}

// Suspend stops the target process for the duration of a multi-step
// operation that needs a consistent memory image, returning a resume
// function the caller defers. sameUser additionally stops every other
// process owned by the target's uid.
func (s *Session) Suspend(sameUser bool) (func() error, error) {
	if err := s.proc.Suspend(sameUser); err != nil {
		return nil, fmt.Errorf("session: suspend: %w", err)
	}
	return func() error {
		if err := s.proc.Resume(sameUser); err != nil {
			return fmt.Errorf("session: resume: %w", err)
		}
		return nil
	}, nil
}
