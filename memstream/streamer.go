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

// Package memstream reads one memory region in bounded-size chunks,
// carrying the unaligned tail of each chunk over to the next so a scan
// stepping by a stride greater than one byte never misses a candidate
// that straddles a chunk boundary.
package memstream

import (
	"errors"
	"fmt"

	"github.com/launix-de/memscan/memtype"
)

// Reader is the minimal read port a Streamer needs. procaccess.Process
// satisfies it without either package importing the other.
type Reader interface {
	Read(addr memtype.Address, buf []byte) (int, error)
}

// DefaultChunkSize is the chunk capacity used when callers don't have a
// reason to pick their own; 8 MiB matches the cache size the scan engine
// this package is modeled on uses by default.
const DefaultChunkSize = 8 * 1024 * 1024

// MaxChunkSize bounds how large a single chunk buffer New will allocate.
// A region this wide never occurs in a real address space; the limit
// exists to turn a miscomputed or attacker-influenced chunkSize into an
// error instead of an attempted multi-gigabyte allocation.
const MaxChunkSize = 1 << 32

// ErrReadFailed reports that a read from the target process failed or
// returned no bytes before the streamer reached its end address.
var ErrReadFailed = errors.New("memstream: read failed")

// ErrOutOfMemory reports that New was asked for a chunk buffer too large
// to allocate safely.
var ErrOutOfMemory = errors.New("memstream: chunk size too large")

// Streamer walks [Begin, End) in a target address space, yielding
// successive windows whose length is always a multiple of Step.
type Streamer struct {
	r    Reader
	end  memtype.Address
	step int

	next memtype.Address // next unread address in the target

	chunk []byte // scratch buffer sized to the requested chunk capacity
	buf   []byte // carry prefix + freshly read bytes, reused each Next
	carry []byte // tail left over from the previous window, length < step

	window     []byte
	windowAddr memtype.Address

	err error
}

// New creates a Streamer over [begin, end) reading through r in chunks of
// up to chunkSize bytes, advancing by step-sized elements. step must be
// at least 1.
func New(r Reader, begin, end memtype.Address, step int, chunkSize int) (*Streamer, error) {
	if step < 1 {
		return nil, fmt.Errorf("memstream: invalid step %d", step)
	}
	if chunkSize < step {
		chunkSize = step
	}
	if chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("memstream: chunk size %d exceeds %d: %w", chunkSize, MaxChunkSize, ErrOutOfMemory)
	}
	return &Streamer{
		r:     r,
		end:   end,
		step:  step,
		next:  begin,
		chunk: make([]byte, chunkSize),
		buf:   make([]byte, step-1+chunkSize),
		carry: nil,
	}, nil
}

// Next reads the following window, if any remains. It returns false once
// [begin, end) is exhausted or a read error occurred; check Err to tell
// the two apart.
func (s *Streamer) Next() bool {
	if s.err != nil {
		return false
	}
	if s.next >= s.end {
		return false
	}

	want := s.end.Diff(s.next)
	if want > int64(len(s.chunk)) {
		want = int64(len(s.chunk))
	}

	n, err := s.r.Read(s.next, s.chunk[:want])
	if err != nil {
		s.err = fmt.Errorf("memstream: read at %s: %w: %w", s.next, ErrReadFailed, err)
		return false
	}
	if n <= 0 {
		s.err = fmt.Errorf("memstream: short read at %s returned no bytes before reaching end address: %w", s.next, ErrReadFailed)
		return false
	}

	carryLen := len(s.carry)
	total := carryLen + n
	if total > len(s.buf) {
		// a caller-supplied chunkSize smaller than what New received can't
		// happen through New, but guard rather than corrupt memory.
		grown := make([]byte, total)
		s.buf = grown
	}
	copy(s.buf[:carryLen], s.carry)
	copy(s.buf[carryLen:total], s.chunk[:n])

	tail := total % s.step
	usable := total - tail

	s.windowAddr = s.next.Sub(uintptr(carryLen))
	s.window = s.buf[:usable]

	newCarry := make([]byte, tail)
	copy(newCarry, s.buf[usable:total])
	s.carry = newCarry

	s.next = s.next.Add(uintptr(n))
	return true
}

// Window returns the current window's bytes. Its length is always a
// multiple of Step. Valid only between a Next call returning true and
// the next call to Next.
func (s *Streamer) Window() []byte { return s.window }

// WindowAddr returns the target-process address corresponding to
// Window()[0].
func (s *Streamer) WindowAddr() memtype.Address { return s.windowAddr }

// Step returns the stride the streamer was constructed with.
func (s *Streamer) Step() int { return s.step }

// Err returns the error that stopped iteration, if any.
func (s *Streamer) Err() error { return s.err }
