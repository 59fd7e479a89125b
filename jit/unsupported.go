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

//go:build !amd64 && !arm64

package jit

import "github.com/launix-de/memscan/exprlang"

// compileNative declines on every architecture without a machine-code
// encoder (amd64.go and arm64.go provide the real thing). Compile then
// falls back to Interpret.
func compileNative(node exprlang.Node, signed bool) (Compiled, bool) {
	return nil, false
}
