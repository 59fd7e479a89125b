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

// Package procaccess reads and writes the address space of a foreign
// process. Process is the common interface; Live talks to a real running
// process through process_vm_readv/writev with a ptrace fallback, and
// Snapshot replays a previously captured memory image for offline work.
package procaccess

import (
	"errors"

	"github.com/launix-de/memscan/memtype"
)

// ErrWriteFailed reports that a write to the target address space could
// not complete, whether because the underlying transport failed (Live)
// or because the backend has no writable target at all (Snapshot).
var ErrWriteFailed = errors.New("procaccess: write failed")

// State mirrors the single-character process state field found in
// /proc/<pid>/stat.
type State byte

const (
	Running     State = 'R'
	Sleeping    State = 'S'
	DiskSleep   State = 'D'
	Zombie      State = 'Z'
	Stopped     State = 'T'
	TracingStop State = 't'
	Dead        State = 'X'
	Wakekill    State = 'K'
	Waking      State = 'W'
	Parked      State = 'P'
	Idle        State = 'I'
)

// RemoteSpan addresses one contiguous range in the target for a gather
// read or scatter write.
type RemoteSpan struct {
	Addr memtype.Address
	Len  int
}

// Process is the access port the scanner and session layer read and write
// a target address space through. Implementations must be safe to use
// from a single goroutine at a time; the session layer never calls a
// Process concurrently with itself.
type Process interface {
	Pid() int

	// Read copies up to len(buf) bytes starting at addr into buf, returning
	// the number of bytes actually read.
	Read(addr memtype.Address, buf []byte) (int, error)

	// Write copies buf to addr in the target, returning the number of
	// bytes actually written.
	Write(addr memtype.Address, buf []byte) (int, error)

	// ReadVec gathers many remote spans into the matching local buffers in
	// one call. len(locals) must equal len(remotes), and locals[i] must be
	// sized to remotes[i].Len.
	ReadVec(locals [][]byte, remotes []RemoteSpan) (int, error)

	// Suspend stops the target so a multi-pass filter sees a consistent
	// image. sameUser additionally stops every other process owned by the
	// target's uid, mirroring tools that need to freeze a whole game or
	// runtime, not just one process of it.
	Suspend(sameUser bool) error
	Resume(sameUser bool) error

	State() (State, error)

	// Regions returns the current region list in ascending-address order.
	Regions() ([]memtype.Region, error)
}
