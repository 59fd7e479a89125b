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

//go:build linux

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// execPage is a block of mmap'd memory holding compiled machine code.
// Allocated read-write, filled in, then flipped to read-execute: never
// both writable and executable at once.
type execPage struct {
	mem []byte
}

func newExecPage(code []byte) (*execPage, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("jit: empty code buffer")
	}
	pageSize := unix.Getpagesize()
	size := (len(code) + pageSize - 1) &^ (pageSize - 1)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}
	return &execPage{mem: mem}, nil
}

func (p *execPage) addr() uintptr {
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

func (p *execPage) close() error {
	return unix.Munmap(p.mem)
}
