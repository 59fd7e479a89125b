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
package jit

import "github.com/launix-de/memscan/exprlang"

// Compiled evaluates old/new/addr against a fixed expression, the same
// three references exprlang.Env exposes, without needing to build an Env
// or walk a tree at call time.
type Compiled interface {
	Eval(old, newv, addr uint64) uint64
}

// Interpret wraps an exprlang.Node as a Compiled value that walks the
// tree on every call. Always available, regardless of GOARCH; it is the
// fallback Compile uses when native code generation is unsupported or
// fails, and it is the only implementation on architectures with no
// encoder at all. Signed carries the same signed/unsigned relational
// lowering choice the native encoders make, so Interpret and the native
// path stay behaviorally identical for any given Compile call.
type Interpret struct {
	Node   exprlang.Node
	Signed bool
}

// Eval implements Compiled. An evaluation error (e.g. an unresolved
// reference) yields 0, matching the convention that a failed comparator
// evaluation is simply not a match rather than a crash.
func (i Interpret) Eval(old, newv, addr uint64) uint64 {
	v, err := i.Node.Eval(exprlang.Env{Old: old, New: newv, Addr: addr, Signed: i.Signed})
	if err != nil {
		return 0
	}
	return v
}

// Compile attempts to turn node into natively executing machine code for
// the running GOARCH, returning an Interpret instead whenever no encoder
// exists for the platform or the tree uses a construct the encoder
// doesn't handle (compileNative is defined per architecture; the no-op
// build-tag-gated fallback in unsupported.go always declines).
//
// signed selects which ordering the relational operators (>,>=,<,<=) use:
// int64 comparison for a signed match type, native uint64 comparison
// otherwise. A caller comparing against both signed and unsigned match
// types in the same filter pass compiles the tree twice, once with each
// value, and picks the result matching each candidate's type tag.
func Compile(node exprlang.Node, signed bool) Compiled {
	if c, ok := compileNative(node, signed); ok {
		return c
	}
	return Interpret{Node: node, Signed: signed}
}
