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
package memtype

import "fmt"

// Address is an opaque host-width address in a foreign address space. It
// carries no pointer semantics of its own: dereferencing it requires a
// process access port.
type Address uintptr

// Uintptr returns the raw integer value of the address.
func (a Address) Uintptr() uintptr { return uintptr(a) }

// Add returns a + n.
func (a Address) Add(n uintptr) Address { return a + Address(n) }

// Sub returns a - n.
func (a Address) Sub(n uintptr) Address { return a - Address(n) }

// Diff returns a - b as a signed byte count.
func (a Address) Diff(b Address) int64 { return int64(a) - int64(b) }

func (a Address) String() string { return fmt.Sprintf("0x%x", uintptr(a)) }
