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

//go:build !linux

package jit

import "fmt"

// execPage has no non-Linux backend; process-memory scanning itself is
// Linux-only (procfs, ptrace), so native code generation simply declines
// everywhere the rest of this module doesn't run anyway.
type execPage struct{}

func newExecPage(code []byte) (*execPage, error) {
	return nil, fmt.Errorf("jit: executable page allocation not supported on this platform")
}

func (p *execPage) addr() uintptr { return 0 }

func (p *execPage) close() error { return nil }
