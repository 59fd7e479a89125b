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

// Package matchstore holds the ordered set of candidate addresses a scan
// session is narrowing, and drives the gather-read/re-filter cycle that
// turns one match set into a smaller one.
package matchstore

import (
	"fmt"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
)

// Predicate decides whether a match survives a filter pass, given its
// previously recorded value ($old in the comparator language) and the
// value just re-read from the target ($new / bare value references).
// complang.Comparator implements this directly; JIT-compiled comparators
// reach it through session's jitPredicate adapter, since jit.Compiled
// only exposes Eval(old, new, addr).
type Predicate interface {
	EvalScalar(tag memtype.MatchTypeTag, old, current uint64, addr memtype.Address) bool
	EvalBytes(old, current []byte, addr memtype.Address) bool
}

// Store is the ordered set of matches surviving so far. Order is the
// order matches were first discovered: (region index, ascending address)
// from the originating scan, preserved across every subsequent filter.
type Store struct {
	matches []memtype.Match
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Len returns the number of surviving matches.
func (s *Store) Len() int { return len(s.matches) }

// At returns the match at index i.
func (s *Store) At(i int) memtype.Match { return s.matches[i] }

// All returns the full match slice. Callers must not mutate it in place;
// treat it as a snapshot.
func (s *Store) All() []memtype.Match { return s.matches }

// Reset discards every match, returning the store to its initial scan
// state.
func (s *Store) Reset() { s.matches = nil }

// Extend appends freshly discovered matches, e.g. from a scan pass. The
// caller is responsible for passing them in (region, ascending address)
// order; Extend does not sort.
func (s *Store) Extend(found []memtype.Match) {
	s.matches = append(s.matches, found...)
}

// gather reads the current bytes at every match's address in one batched
// call, returning one buffer per match sized to its SizeBytes (or the
// width implied by its type tag for non-BYTES matches).
func (s *Store) gather(proc procaccess.Process) ([][]byte, error) {
	locals := make([][]byte, len(s.matches))
	remotes := make([]procaccess.RemoteSpan, len(s.matches))
	for i, m := range s.matches {
		width := m.SizeBytes
		if width == 0 {
			width = m.TypeTag.Width()
		}
		locals[i] = make([]byte, width)
		remotes[i] = procaccess.RemoteSpan{Addr: m.Address, Len: width}
	}
	if _, err := proc.ReadVec(locals, remotes); err != nil {
		return nil, fmt.Errorf("matchstore: gather read: %w", err)
	}
	return locals, nil
}

// FilterWith re-reads every surviving match's current value through proc
// and keeps only the ones for which pred accepts (old, current). Kept
// matches have their LastValue/LastBytes updated to the freshly read
// value, becoming the new $old for the next pass.
func (s *Store) FilterWith(proc procaccess.Process, pred Predicate) error {
	current, err := s.gather(proc)
	if err != nil {
		return err
	}

	kept := s.matches[:0:0]
	for i, m := range s.matches {
		buf := current[i]
		var ok bool
		if m.TypeTag == memtype.BYTES {
			ok = pred.EvalBytes(m.LastBytes, buf, m.Address)
		} else {
			ok = pred.EvalScalar(m.TypeTag, m.LastValue, decodeScalar(m.TypeTag, buf), m.Address)
		}
		if !ok {
			continue
		}
		if m.TypeTag == memtype.BYTES {
			m.LastBytes = append([]byte(nil), buf...)
		} else {
			m.LastValue = decodeScalar(m.TypeTag, buf)
		}
		m.Generation++
		kept = append(kept, m)
	}
	s.matches = kept
	return nil
}

// RefreshValues re-reads every match's current value without discarding
// any, used by the session's "update all" operation so a viewer sees
// live values between filter passes.
func (s *Store) RefreshValues(proc procaccess.Process) error {
	current, err := s.gather(proc)
	if err != nil {
		return err
	}
	for i := range s.matches {
		m := &s.matches[i]
		buf := current[i]
		if m.TypeTag == memtype.BYTES {
			m.LastBytes = append([]byte(nil), buf...)
		} else {
			m.LastValue = decodeScalar(m.TypeTag, buf)
		}
		m.Generation++
	}
	return nil
}

func decodeScalar(tag memtype.MatchTypeTag, buf []byte) uint64 {
	var v uint64
	for i := 0; i < len(buf) && i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}
