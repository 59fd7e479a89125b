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

// MatchTypeTag is the closed set of scalar/byte-blob types the scanner and
// match store understand.
type MatchTypeTag uint8

const (
	U8 MatchTypeTag = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
	BYTES
)

var allNumericTags = [...]MatchTypeTag{U8, U16, U32, U64, I8, I16, I32, I64, F32, F64}

// NumericTypeTags returns the closed set of type tags a scan may request,
// excluding BYTES (which has no fixed width and is never produced by a
// scalar scan).
func NumericTypeTags() []MatchTypeTag {
	out := make([]MatchTypeTag, len(allNumericTags))
	copy(out, allNumericTags[:])
	return out
}

// Width returns the fixed byte width of the type, or 0 for BYTES (whose
// length is carried per-match).
func (t MatchTypeTag) Width() int {
	switch t {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, F32:
		return 4
	case U64, I64, F64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the type tag is a signed integer type.
func (t MatchTypeTag) Signed() bool {
	switch t {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// Float reports whether the type tag is a floating-point type.
func (t MatchTypeTag) Float() bool {
	return t == F32 || t == F64
}

func (t MatchTypeTag) String() string {
	switch t {
	case U8:
		return "U8"
	case U16:
		return "U16"
	case U32:
		return "U32"
	case U64:
		return "U64"
	case I8:
		return "I8"
	case I16:
		return "I16"
	case I32:
		return "I32"
	case I64:
		return "I64"
	case F32:
		return "F32"
	case F64:
		return "F64"
	case BYTES:
		return "BYTES"
	default:
		return "?"
	}
}

// Match is one discovered location in the target: an address, its type
// tag, and the value most recently observed there. LastValue is inline
// for scalars (stored via its low bytes) and a variable-length slice for
// BYTES.
type Match struct {
	Address    Address
	TypeTag    MatchTypeTag
	SizeBytes  int
	LastValue  uint64 // scalar payload, raw bit pattern for floats
	LastBytes  []byte // only populated when TypeTag == BYTES
	Generation uint64 // diagnostics only, never used for ordering/equality
}
