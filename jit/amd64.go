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

//go:build amd64

package jit

import (
	"fmt"

	"github.com/launix-de/memscan/exprlang"
)

// amd64Reg is an x86-64 general-purpose register number, RAX=0 .. R15=15.
type amd64Reg byte

const (
	regRAX amd64Reg = 0
	regRCX amd64Reg = 1
	regRDX amd64Reg = 2
	regRBX amd64Reg = 3
	regRSI amd64Reg = 6
	regRDI amd64Reg = 7
	regR8  amd64Reg = 8
	regR9  amd64Reg = 9
	regR10 amd64Reg = 10
	regR11 amd64Reg = 11
)

// scratchPool is every register compileAmd64Node may allocate and free. R8/R9/
// R10 hold old/new/addr for the whole function and are never part of it.
var scratchPool = []amd64Reg{regRAX, regRCX, regRDX, regRBX, regRSI, regRDI, regR11}

type amd64Alloc struct {
	free []amd64Reg
}

func newAmd64Alloc() *amd64Alloc {
	free := make([]amd64Reg, len(scratchPool))
	copy(free, scratchPool)
	return &amd64Alloc{free: free}
}

func (a *amd64Alloc) alloc() (amd64Reg, error) {
	if len(a.free) == 0 {
		return 0, fmt.Errorf("jit: amd64 register pool exhausted")
	}
	r := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return r, nil
}

func (a *amd64Alloc) release(r amd64Reg) {
	a.free = append(a.free, r)
}

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modRM(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

func emitMovRegReg(w *Writer, dst, src amd64Reg) {
	w.Byte(rex(true, src >= 8, false, dst >= 8))
	w.Byte(0x89) // MOV r/m64, r64
	w.Byte(modRM(3, byte(src), byte(dst)))
}

func emitMovRegImm64(w *Writer, dst amd64Reg, imm uint64) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xB8 + (byte(dst) & 7))
	w.Uint64(imm)
}

// emitALU emits "dst <op>= src" for the two-operand r/m64,r64 ALU forms:
// ADD=0x01 SUB=0x29 AND=0x21 OR=0x09 XOR=0x31.
func emitALU(w *Writer, opcode byte, dst, src amd64Reg) {
	w.Byte(rex(true, src >= 8, false, dst >= 8))
	w.Byte(opcode)
	w.Byte(modRM(3, byte(src), byte(dst)))
}

func emitIMUL(w *Writer, dst, src amd64Reg) {
	// IMUL r64, r/m64 : 0F AF /r, dst=reg, src=rm
	w.Byte(rex(true, dst >= 8, false, src >= 8))
	w.Byte(0x0F)
	w.Byte(0xAF)
	w.Byte(modRM(3, byte(dst), byte(src)))
}

func emitCmpRegReg(w *Writer, dst, src amd64Reg) {
	// CMP r/m64, r64 : computes dst - src, sets flags only.
	w.Byte(rex(true, src >= 8, false, dst >= 8))
	w.Byte(0x39)
	w.Byte(modRM(3, byte(src), byte(dst)))
}

func emitCmpRegImm0(w *Writer, dst amd64Reg) {
	// CMP r/m64, imm8 (sign-extended) with imm=0, opcode extension /7.
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0x83)
	w.Byte(modRM(3, 7, byte(dst)))
	w.Byte(0x00)
}

func emitNeg(w *Writer, dst amd64Reg) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xF7)
	w.Byte(modRM(3, 3, byte(dst)))
}

func emitNot(w *Writer, dst amd64Reg) {
	w.Byte(rex(true, false, false, dst >= 8))
	w.Byte(0xF7)
	w.Byte(modRM(3, 2, byte(dst)))
}

// condition codes for Jcc/SETcc/CMOVcc (Intel nibble encoding). ccL/ccGE/
// ccLE/ccG are the signed (int64) orderings; ccB/ccAE/ccBE/ccA are their
// unsigned counterparts, selected instead whenever the comparator is
// judging an unsigned match type.
const (
	ccE  = 0x4
	ccNE = 0x5
	ccB  = 0x2
	ccAE = 0x3
	ccBE = 0x6
	ccA  = 0x7
	ccL  = 0xC
	ccGE = 0xD
	ccLE = 0xE
	ccG  = 0xF
)

func emitCMOVcc(w *Writer, cc byte, dst, src amd64Reg) {
	w.Byte(rex(true, dst >= 8, false, src >= 8))
	w.Byte(0x0F)
	w.Byte(0x40 + cc)
	w.Byte(modRM(3, byte(dst), byte(src)))
}

func emitJcc(w *Writer, cc byte, label uint8) {
	w.Byte(0x0F)
	w.Byte(0x80 + cc)
	w.AddFixup(label, 4, true)
	w.Uint32(0)
}

func emitJmp(w *Writer, label uint8) {
	w.Byte(0xE9)
	w.AddFixup(label, 4, true)
	w.Uint32(0)
}

// boolFromFlags materializes a 0/1 value into dst from flags already set
// by a preceding CMP, without disturbing those flags (MOV/CMOV don't
// touch them).
func boolFromFlags(w *Writer, ra *amd64Alloc, cc byte, dst amd64Reg) error {
	one, err := ra.alloc()
	if err != nil {
		return err
	}
	emitMovRegImm64(w, one, 1)
	emitMovRegImm64(w, dst, 0)
	emitCMOVcc(w, cc, dst, one)
	ra.release(one)
	return nil
}

// amd64Unsupported reports whether node uses an operator this encoder
// doesn't implement (division, modulo and register-counted shifts all
// need the RDX:RAX / CL special-casing this compiler avoids). Compile
// falls back to Interpret for the whole expression when this is true.
func amd64Unsupported(n exprlang.Node) bool {
	switch t := n.(type) {
	case exprlang.NumberNode, exprlang.RefNode:
		return false
	case exprlang.UnaryNode:
		return amd64Unsupported(t.Expr)
	case exprlang.BinaryNode:
		switch t.Op {
		case exprlang.OpDiv, exprlang.OpMod, exprlang.OpShl, exprlang.OpShr:
			return true
		}
		return amd64Unsupported(t.Left) || amd64Unsupported(t.Right)
	case exprlang.TernaryNode:
		return amd64Unsupported(t.Cond) || amd64Unsupported(t.Then) || amd64Unsupported(t.Else)
	default:
		return true
	}
}

func compileRef(w *Writer, ra *amd64Alloc, name string) (amd64Reg, error) {
	var src amd64Reg
	switch name {
	case "$old", "old":
		src = regR8
	case "$new", "new":
		src = regR9
	case "$addr", "addr":
		src = regR10
	default:
		return 0, fmt.Errorf("jit: amd64 encoder has no binding for reference %q", name)
	}
	dst, err := ra.alloc()
	if err != nil {
		return 0, err
	}
	emitMovRegReg(w, dst, src)
	return dst, nil
}

func compileAmd64Node(w *Writer, ra *amd64Alloc, n exprlang.Node, signed bool) (amd64Reg, error) {
	switch t := n.(type) {
	case exprlang.NumberNode:
		r, err := ra.alloc()
		if err != nil {
			return 0, err
		}
		emitMovRegImm64(w, r, t.Value)
		return r, nil
	case exprlang.RefNode:
		return compileRef(w, ra, t.Name)
	case exprlang.UnaryNode:
		r, err := compileAmd64Node(w, ra, t.Expr, signed)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case exprlang.UnaryNeg:
			emitNeg(w, r)
		case exprlang.UnaryNot:
			emitNot(w, r)
		case exprlang.UnaryLNot:
			emitCmpRegImm0(w, r)
			if err := boolFromFlags(w, ra, ccE, r); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("jit: amd64 encoder unknown unary op %d", t.Op)
		}
		return r, nil
	case exprlang.BinaryNode:
		return compileAmd64Binary(w, ra, t, signed)
	case exprlang.TernaryNode:
		return compileAmd64Ternary(w, ra, t, signed)
	default:
		return 0, fmt.Errorf("jit: amd64 encoder unsupported node %T", n)
	}
}

// relCodes returns the four Jcc nibbles for (gt, ge, lt, le) under the
// requested signedness.
func relCodes(signed bool) (gt, ge, lt, le byte) {
	if signed {
		return ccG, ccGE, ccL, ccLE
	}
	return ccA, ccAE, ccB, ccBE
}

func compileAmd64Binary(w *Writer, ra *amd64Alloc, t exprlang.BinaryNode, signed bool) (amd64Reg, error) {
	a, err := compileAmd64Node(w, ra, t.Left, signed)
	if err != nil {
		return 0, err
	}
	b, err := compileAmd64Node(w, ra, t.Right, signed)
	if err != nil {
		return 0, err
	}
	switch t.Op {
	case exprlang.OpAdd:
		emitALU(w, 0x01, a, b)
	case exprlang.OpSub:
		emitALU(w, 0x29, a, b)
	case exprlang.OpMul:
		emitIMUL(w, a, b)
	case exprlang.OpAnd:
		emitALU(w, 0x21, a, b)
	case exprlang.OpOr:
		emitALU(w, 0x09, a, b)
	case exprlang.OpXor:
		emitALU(w, 0x31, a, b)
	case exprlang.OpEQ:
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, ccE, a); err != nil {
			return 0, err
		}
	case exprlang.OpNE:
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, ccNE, a); err != nil {
			return 0, err
		}
	case exprlang.OpGT:
		gt, _, _, _ := relCodes(signed)
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, gt, a); err != nil {
			return 0, err
		}
	case exprlang.OpGE:
		_, ge, _, _ := relCodes(signed)
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, ge, a); err != nil {
			return 0, err
		}
	case exprlang.OpLT:
		_, _, lt, _ := relCodes(signed)
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, lt, a); err != nil {
			return 0, err
		}
	case exprlang.OpLE:
		_, _, _, le := relCodes(signed)
		emitCmpRegReg(w, a, b)
		if err := boolFromFlags(w, ra, le, a); err != nil {
			return 0, err
		}
	case exprlang.OpLAnd:
		emitCmpRegImm0(w, a)
		if err := boolFromFlags(w, ra, ccNE, a); err != nil {
			return 0, err
		}
		emitCmpRegImm0(w, b)
		if err := boolFromFlags(w, ra, ccNE, b); err != nil {
			return 0, err
		}
		emitALU(w, 0x21, a, b)
	case exprlang.OpLOr:
		emitCmpRegImm0(w, a)
		if err := boolFromFlags(w, ra, ccNE, a); err != nil {
			return 0, err
		}
		emitCmpRegImm0(w, b)
		if err := boolFromFlags(w, ra, ccNE, b); err != nil {
			return 0, err
		}
		emitALU(w, 0x09, a, b)
	default:
		ra.release(b)
		return 0, fmt.Errorf("jit: amd64 encoder unknown binary op %d", t.Op)
	}
	ra.release(b)
	return a, nil
}

func compileAmd64Ternary(w *Writer, ra *amd64Alloc, t exprlang.TernaryNode, signed bool) (amd64Reg, error) {
	cond, err := compileAmd64Node(w, ra, t.Cond, signed)
	if err != nil {
		return 0, err
	}
	emitCmpRegImm0(w, cond)
	ra.release(cond)

	elseLabel := w.ReserveLabel()
	endLabel := w.ReserveLabel()
	emitJcc(w, ccE, elseLabel)

	result, err := compileAmd64Node(w, ra, t.Then, signed)
	if err != nil {
		return 0, err
	}
	emitJmp(w, endLabel)

	w.MarkLabel(elseLabel)
	elseReg, err := compileAmd64Node(w, ra, t.Else, signed)
	if err != nil {
		return 0, err
	}
	if elseReg != result {
		emitMovRegReg(w, result, elseReg)
		ra.release(elseReg)
	}
	w.MarkLabel(endLabel)
	return result, nil
}

// compileNative implements Compile for amd64: old/new/addr arrive in
// DI/SI/DX per call_amd64.s and are copied into R8/R9/R10 so the rest of
// the scratch registers (RAX, RCX, RDX, RBX, RSI, RDI, R11) are free for
// the expression itself.
func compileNative(node exprlang.Node, signed bool) (Compiled, bool) {
	if amd64Unsupported(node) || exprlang.Depth(node) > len(scratchPool)-1 {
		return nil, false
	}
	w := NewWriter()
	emitMovRegReg(w, regR8, regRDI)
	emitMovRegReg(w, regR9, regRSI)
	emitMovRegReg(w, regR10, regRDX)

	ra := newAmd64Alloc()
	result, err := compileAmd64Node(w, ra, node, signed)
	if err != nil {
		return nil, false
	}
	if result != regRAX {
		emitMovRegReg(w, regRAX, result)
	}
	w.Byte(0xC3) // RET

	if err := w.ResolveFixups(); err != nil {
		return nil, false
	}
	page, err := newExecPage(w.Code)
	if err != nil {
		return nil, false
	}
	return &amd64Compiled{page: page}, true
}

type amd64Compiled struct {
	page *execPage
}

func (c *amd64Compiled) Eval(old, newv, addr uint64) uint64 {
	return callCompiled(c.page.addr(), old, newv, addr)
}
