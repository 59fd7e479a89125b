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

// Package complang is the comparator language a filter pass is written
// in: a relational operator applied to an exprlang expression, a range
// or mask test, a bare comparison of the new value against the old one,
// or a standalone boolean expression.
package complang

import (
	"fmt"
	"math"
	"strings"

	"github.com/launix-de/memscan/exprlang"
	"github.com/launix-de/memscan/memtype"
)

// Op is the relational operator a comparator applies.
type Op int

const (
	OpEQ Op = iota
	OpNE
	OpGT
	OpGE
	OpLT
	OpLE
)

func (o Op) String() string {
	return map[Op]string{OpEQ: "=", OpNE: "!=", OpGT: ">", OpGE: ">=", OpLT: "<", OpLE: "<="}[o]
}

// Mode selects how a Comparator's operands combine with Op.
type Mode int

const (
	// ModeBare compares the freshly read value against the previously
	// recorded one: "=" alone means "unchanged", ">" means "increased".
	ModeBare Mode = iota
	// ModeExpr compares the freshly read value against Expr1.
	ModeExpr
	// ModeRange tests Expr1 <= value <= Expr2 (Op must be EQ or NE; NE
	// negates the test).
	ModeRange
	// ModeMask tests (value & Expr2) == (Expr1 & Expr2) (Op must be EQ
	// or NE; NE negates the test).
	ModeMask
	// ModeBoolean evaluates Expr1 directly; nonzero is a match. $old,
	// $new and $addr are all available inside Expr1.
	ModeBoolean
)

// Comparator is one parsed filter-pass expression.
type Comparator struct {
	Op    Op
	Mode  Mode
	Expr1 exprlang.Node
	Expr2 exprlang.Node
}

// Constant reports whether every operand expression the comparator has
// folds to a literal, so no operand reads $old/$new/$addr. ModeBare has
// no operands and always reports true, although it still compares $new
// against $old. session.choosePredicate uses this to run the comparator
// directly instead of compiling it with the JIT.
func (c Comparator) Constant() bool {
	fold := func(n exprlang.Node) bool {
		if n == nil {
			return true
		}
		_, ok := n.Fold().(exprlang.NumberNode)
		return ok
	}
	return fold(c.Expr1) && fold(c.Expr2)
}

// Parse reads one comparator expression. The leading relational operator
// is optional; omitting it (or supplying a bare expression with no
// operator at all) selects ModeBoolean.
func Parse(src string) (*Comparator, error) {
	src = strings.TrimSpace(src)
	op, rest, hasOp := splitOp(src)
	if !hasOp {
		expr, err := exprlang.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("complang: %w", err)
		}
		return &Comparator{Mode: ModeBoolean, Expr1: expr}, nil
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return &Comparator{Op: op, Mode: ModeBare}, nil
	}

	if rest[0] == '[' || rest[0] == '{' {
		if op != OpEQ && op != OpNE {
			return nil, fmt.Errorf("complang: range/mask syntax only valid with = or !=, got %s", op)
		}
		closing := byte(']')
		mode := ModeRange
		if rest[0] == '{' {
			closing = '}'
			mode = ModeMask
		}
		if rest[len(rest)-1] != closing {
			return nil, fmt.Errorf("complang: unterminated %c...%c", rest[0], closing)
		}
		inner := rest[1 : len(rest)-1]
		parts, err := splitTopLevelComma(inner)
		if err != nil {
			return nil, err
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("complang: expected exactly two comma-separated operands, got %d", len(parts))
		}
		e1, err := exprlang.Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("complang: first operand: %w", err)
		}
		e2, err := exprlang.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("complang: second operand: %w", err)
		}
		return &Comparator{Op: op, Mode: mode, Expr1: e1, Expr2: e2}, nil
	}

	expr, err := exprlang.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("complang: %w", err)
	}
	return &Comparator{Op: op, Mode: ModeExpr, Expr1: expr}, nil
}

// splitOp recognizes a leading relational operator, longest match first
// so ">=" isn't mistaken for ">" followed by "=".
func splitOp(src string) (Op, string, bool) {
	type prefixOp struct {
		prefix string
		op     Op
	}
	candidates := []prefixOp{
		{"!=", OpNE}, {">=", OpGE}, {"<=", OpLE},
		{"=", OpEQ}, {">", OpGT}, {"<", OpLT},
	}
	for _, c := range candidates {
		if strings.HasPrefix(src, c.prefix) {
			return c.op, src[len(c.prefix):], true
		}
	}
	return 0, src, false
}

// splitTopLevelComma splits s on commas that aren't nested inside
// parentheses, so "(1,2)+3, 4" splits into two operands rather than
// three.
func splitTopLevelComma(s string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("complang: unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("complang: unbalanced parentheses")
	}
	parts = append(parts, s[start:])
	return parts, nil
}

// EvalScalar implements matchstore.Predicate for numeric match types.
func (c Comparator) EvalScalar(tag memtype.MatchTypeTag, old, current uint64, addr memtype.Address) bool {
	env := exprlang.Env{Old: old, New: current, Addr: uint64(addr.Uintptr()), Signed: tag.Signed()}
	ok, err := c.eval(env, tag)
	if err != nil {
		return false
	}
	return ok
}

// EvalBytes implements matchstore.Predicate for byte-blob matches. Only
// ModeBare (unchanged/changed) and ModeBoolean are meaningful for BYTES;
// anything else rejects the match rather than panicking on a
// non-numeric comparison.
func (c Comparator) EvalBytes(old, current []byte, addr memtype.Address) bool {
	switch c.Mode {
	case ModeBare:
		equal := bytesEqual(old, current)
		switch c.Op {
		case OpEQ:
			return equal
		case OpNE:
			return !equal
		default:
			return false
		}
	case ModeBoolean:
		env := exprlang.Env{Addr: uint64(addr.Uintptr())}
		v, err := c.Expr1.Eval(env)
		return err == nil && v != 0
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (c Comparator) eval(env exprlang.Env, tag memtype.MatchTypeTag) (bool, error) {
	switch c.Mode {
	case ModeBare:
		return compare(c.Op, env.Old, env.New, tag), nil
	case ModeExpr:
		rhs, err := c.Expr1.Eval(env)
		if err != nil {
			return false, err
		}
		return compare(c.Op, rhs, env.New, tag), nil
	case ModeRange:
		lo, err := c.Expr1.Eval(env)
		if err != nil {
			return false, err
		}
		hi, err := c.Expr2.Eval(env)
		if err != nil {
			return false, err
		}
		var in bool
		if tag.Signed() {
			in = int64(env.New) >= int64(lo) && int64(env.New) <= int64(hi)
		} else {
			in = env.New >= lo && env.New <= hi
		}
		if c.Op == OpNE {
			return !in, nil
		}
		return in, nil
	case ModeMask:
		value, err := c.Expr1.Eval(env)
		if err != nil {
			return false, err
		}
		mask, err := c.Expr2.Eval(env)
		if err != nil {
			return false, err
		}
		eq := (env.New & mask) == (value & mask)
		if c.Op == OpNE {
			return !eq, nil
		}
		return eq, nil
	case ModeBoolean:
		v, err := c.Expr1.Eval(env)
		if err != nil {
			return false, err
		}
		return v != 0, nil
	default:
		return false, fmt.Errorf("complang: unknown mode %d", c.Mode)
	}
}

// compare applies op to (rhs, new) as "new <op> rhs", matching bare
// comparator semantics where $new is always the left-hand side
// ("increased" means new > old). Floating-point match types compare as
// their proper width rather than raw bit patterns.
func compare(op Op, rhs, newValue uint64, tag memtype.MatchTypeTag) bool {
	if tag == memtype.F32 || tag == memtype.F64 {
		a := decodeFloat(tag, newValue)
		b := decodeFloat(tag, rhs)
		switch op {
		case OpEQ:
			return a == b
		case OpNE:
			return a != b
		case OpGT:
			return a > b
		case OpGE:
			return a >= b
		case OpLT:
			return a < b
		case OpLE:
			return a <= b
		}
		return false
	}
	if tag.Signed() {
		a := int64(newValue)
		b := int64(rhs)
		switch op {
		case OpEQ:
			return a == b
		case OpNE:
			return a != b
		case OpGT:
			return a > b
		case OpGE:
			return a >= b
		case OpLT:
			return a < b
		case OpLE:
			return a <= b
		}
		return false
	}
	switch op {
	case OpEQ:
		return newValue == rhs
	case OpNE:
		return newValue != rhs
	case OpGT:
		return newValue > rhs
	case OpGE:
		return newValue >= rhs
	case OpLT:
		return newValue < rhs
	case OpLE:
		return newValue <= rhs
	}
	return false
}

// decodeFloat reinterprets the low bytes of v as a floating-point value
// of the width tag describes, widening F32 to float64 for comparison.
func decodeFloat(tag memtype.MatchTypeTag, v uint64) float64 {
	if tag == memtype.F32 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

// Expr lowers the comparator to a single boolean exprlang.Node so the JIT
// emitter can compile it directly, sidestepping a per-candidate call back
// into Comparator.eval. The tree is tag-agnostic: relational operators
// don't resolve to signed or unsigned ordering until jit.Compile is given
// a signedness to compile (or interpret) it under, mirroring compare's own
// tag.Signed() branch. Callers must keep using the interpreted Comparator
// for float and BYTES matches, per the typing rule that restricts JIT
// predicates to integral matches.
func (c Comparator) Expr() exprlang.Node {
	oldRef := exprlang.RefNode{Name: "$old"}
	newRef := exprlang.RefNode{Name: "$new"}
	switch c.Mode {
	case ModeBare:
		return exprlang.BinaryNode{Op: binOpFor(c.Op), Left: newRef, Right: oldRef}
	case ModeExpr:
		return exprlang.BinaryNode{Op: binOpFor(c.Op), Left: newRef, Right: c.Expr1}
	case ModeRange:
		in := exprlang.BinaryNode{
			Op:   exprlang.OpLAnd,
			Left: exprlang.BinaryNode{Op: exprlang.OpGE, Left: newRef, Right: c.Expr1},
			Right: exprlang.BinaryNode{Op: exprlang.OpLE, Left: newRef, Right: c.Expr2},
		}
		if c.Op == OpNE {
			return exprlang.UnaryNode{Op: exprlang.UnaryLNot, Expr: in}
		}
		return in
	case ModeMask:
		eq := exprlang.BinaryNode{
			Op:   exprlang.OpEQ,
			Left: exprlang.BinaryNode{Op: exprlang.OpAnd, Left: newRef, Right: c.Expr2},
			Right: exprlang.BinaryNode{Op: exprlang.OpAnd, Left: c.Expr1, Right: c.Expr2},
		}
		if c.Op == OpNE {
			return exprlang.UnaryNode{Op: exprlang.UnaryLNot, Expr: eq}
		}
		return eq
	case ModeBoolean:
		return c.Expr1
	default:
		return exprlang.NumberNode{Value: 0}
	}
}

// binOpFor maps a relational Op onto the matching exprlang.BinaryOp,
// keeping "new <op> rhs" ordering consistent with compare.
func binOpFor(op Op) exprlang.BinaryOp {
	switch op {
	case OpEQ:
		return exprlang.OpEQ
	case OpNE:
		return exprlang.OpNE
	case OpGT:
		return exprlang.OpGT
	case OpGE:
		return exprlang.OpGE
	case OpLT:
		return exprlang.OpLT
	case OpLE:
		return exprlang.OpLE
	default:
		return exprlang.OpEQ
	}
}
