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

//go:build arm64

package jit

import (
	"fmt"

	"github.com/launix-de/memscan/exprlang"
)

// arm64Reg is an AArch64 general-purpose register number, X0=0 .. X30=30,
// with 31 standing for XZR depending on instruction field.
type arm64Reg byte

const (
	regX0  arm64Reg = 0
	regX1  arm64Reg = 1
	regX2  arm64Reg = 2
	regX3  arm64Reg = 3
	regX4  arm64Reg = 4
	regX5  arm64Reg = 5
	regX6  arm64Reg = 6
	regX7  arm64Reg = 7
	regX9  arm64Reg = 9
	regXZR arm64Reg = 31
)

// scratchPoolARM64 is every register compileARM64Node may allocate and
// free. X6/X7/X8 hold old/new/addr for the whole function and are never
// part of it; X9 is free once inside generated code since call_arm64.s
// only needs it to perform the BL into this function.
var scratchPoolARM64 = []arm64Reg{regX0, regX1, regX2, regX3, regX4, regX5, regX9}

const regOld, regNew, regAddr = arm64Reg(6), arm64Reg(7), arm64Reg(8)

type arm64Alloc struct {
	free []arm64Reg
}

func newArm64Alloc() *arm64Alloc {
	free := make([]arm64Reg, len(scratchPoolARM64))
	copy(free, scratchPoolARM64)
	return &arm64Alloc{free: free}
}

func (a *arm64Alloc) alloc() (arm64Reg, error) {
	if len(a.free) == 0 {
		return 0, fmt.Errorf("jit: arm64 register pool exhausted")
	}
	r := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return r, nil
}

func (a *arm64Alloc) release(r arm64Reg) {
	a.free = append(a.free, r)
}

// condition codes for B.cond / CSET. GE/LT/GT/LE are the signed
// (twos-complement) orderings; HS/LO/HI/LS are their unsigned
// counterparts over the same flags, selected by relCodesARM64 based on
// the comparator's match type.
const (
	condEQ = 0x0
	condNE = 0x1
	condHS = 0x2
	condLO = 0x3
	condGE = 0xA
	condLT = 0xB
	condGT = 0xC
	condLE = 0xD
	condHI = 0x8
	condLS = 0x9
)

// relCodesARM64 returns the B.cond/CSET condition for >, >=, <, <=
// respectively, picking the signed or unsigned flag interpretation.
func relCodesARM64(signed bool) (gt, ge, lt, le int) {
	if signed {
		return condGT, condGE, condLT, condLE
	}
	return condHI, condHS, condLO, condLS
}

func emitArm64Word(w *Writer, inst uint32) {
	w.Uint32(inst)
}

func emitMovRR(w *Writer, rd, rm arm64Reg) {
	// MOV Xd, Xm = ORR Xd, XZR, Xm
	emitArm64Word(w, 0xAA000000|(uint32(rm&0x1f)<<16)|(uint32(regXZR&0x1f)<<5)|uint32(rd&0x1f))
}

func emitMovImm64(w *Writer, rd arm64Reg, val uint64) {
	if val == 0 {
		emitArm64Word(w, 0xD2800000|uint32(rd&0x1f)) // MOVZ Xd, #0
		return
	}
	first := true
	for shift := 0; shift < 64; shift += 16 {
		chunk := uint32((val >> uint(shift)) & 0xFFFF)
		hw := uint32(shift / 16)
		if chunk != 0 || shift == 0 {
			if first {
				emitArm64Word(w, 0xD2800000|(hw<<21)|(chunk<<5)|uint32(rd&0x1f)) // MOVZ
				first = false
			} else {
				emitArm64Word(w, 0xF2800000|(hw<<21)|(chunk<<5)|uint32(rd&0x1f)) // MOVK
			}
		}
	}
}

func emitAddRR(w *Writer, rd, rn, rm arm64Reg) {
	emitArm64Word(w, 0x8B000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitSubRR(w *Writer, rd, rn, rm arm64Reg) {
	emitArm64Word(w, 0xCB000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitMul(w *Writer, rd, rn, rm arm64Reg) {
	// MUL Xd, Xn, Xm = MADD Xd, Xn, Xm, XZR
	emitArm64Word(w, 0x9B007C00|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitAndRR(w *Writer, rd, rn, rm arm64Reg) {
	emitArm64Word(w, 0x8A000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitOrrRR(w *Writer, rd, rn, rm arm64Reg) {
	emitArm64Word(w, 0xAA000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitEorRR(w *Writer, rd, rn, rm arm64Reg) {
	emitArm64Word(w, 0xCA000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(rd&0x1f))
}

func emitNeg(w *Writer, rd, rm arm64Reg) {
	emitSubRR(w, rd, regXZR, rm)
}

// emitMvn emits MVN Xd, Xm, the ORN Xd, XZR, Xm alias (bitwise NOT).
// ORN shares ORR's encoding with the N bit (bit 21) set.
func emitMvn(w *Writer, rd, rm arm64Reg) {
	emitArm64Word(w, 0xAA200000|(uint32(rm&0x1f)<<16)|(uint32(regXZR&0x1f)<<5)|uint32(rd&0x1f))
}

func emitCmpRR(w *Writer, rn, rm arm64Reg) {
	// CMP Xn, Xm = SUBS XZR, Xn, Xm
	emitArm64Word(w, 0xEB000000|(uint32(rm&0x1f)<<16)|(uint32(rn&0x1f)<<5)|uint32(regXZR&0x1f))
}

func emitCmpImm0(w *Writer, rn arm64Reg) {
	// CMP Xn, #0 = SUBS XZR, Xn, #0
	emitArm64Word(w, 0xF1000000|(uint32(rn&0x1f)<<5)|uint32(regXZR&0x1f))
}

func emitCset(w *Writer, rd arm64Reg, cond int) {
	// CSET Xd, cond = CSINC Xd, XZR, XZR, invert(cond)
	inv := uint32(cond ^ 1)
	emitArm64Word(w, 0x9A9F07E0|(inv<<12)|uint32(rd&0x1f))
}

func emitRet(w *Writer) {
	emitArm64Word(w, 0xD65F03C0)
}

// emitB emits an unconditional branch to label with a placeholder imm26,
// patched by ResolveFixups once every label is known.
func emitB(w *Writer, label uint8) {
	w.AddFixup(label, 26, true)
	emitArm64Word(w, 0x14000000)
}

// emitBCond emits B.cond to label with a placeholder imm19.
func emitBCond(w *Writer, cond int, label uint8) {
	w.AddFixup(label, 19, true)
	emitArm64Word(w, 0x54000000|uint32(cond&0xF))
}

// arm64Unsupported mirrors amd64Unsupported: division, modulo and
// register-counted shifts need special-cased registers (SDIV clobbers
// nothing extra, but MSUB-based MOD and variable shifts add allocator
// complexity this compiler chooses not to carry) so expressions using
// them fall back to Interpret.
func arm64Unsupported(n exprlang.Node) bool {
	switch t := n.(type) {
	case exprlang.NumberNode, exprlang.RefNode:
		return false
	case exprlang.UnaryNode:
		return arm64Unsupported(t.Expr)
	case exprlang.BinaryNode:
		switch t.Op {
		case exprlang.OpDiv, exprlang.OpMod, exprlang.OpShl, exprlang.OpShr:
			return true
		}
		return arm64Unsupported(t.Left) || arm64Unsupported(t.Right)
	case exprlang.TernaryNode:
		return arm64Unsupported(t.Cond) || arm64Unsupported(t.Then) || arm64Unsupported(t.Else)
	default:
		return true
	}
}

func compileRefARM64(w *Writer, ra *arm64Alloc, name string) (arm64Reg, error) {
	var src arm64Reg
	switch name {
	case "$old", "old":
		src = regOld
	case "$new", "new":
		src = regNew
	case "$addr", "addr":
		src = regAddr
	default:
		return 0, fmt.Errorf("jit: arm64 encoder has no binding for reference %q", name)
	}
	dst, err := ra.alloc()
	if err != nil {
		return 0, err
	}
	emitMovRR(w, dst, src)
	return dst, nil
}

func compileARM64Node(w *Writer, ra *arm64Alloc, n exprlang.Node, signed bool) (arm64Reg, error) {
	switch t := n.(type) {
	case exprlang.NumberNode:
		r, err := ra.alloc()
		if err != nil {
			return 0, err
		}
		emitMovImm64(w, r, t.Value)
		return r, nil
	case exprlang.RefNode:
		return compileRefARM64(w, ra, t.Name)
	case exprlang.UnaryNode:
		r, err := compileARM64Node(w, ra, t.Expr, signed)
		if err != nil {
			return 0, err
		}
		switch t.Op {
		case exprlang.UnaryNeg:
			emitNeg(w, r, r)
		case exprlang.UnaryNot:
			emitMvn(w, r, r)
		case exprlang.UnaryLNot:
			emitCmpImm0(w, r)
			emitCset(w, r, condEQ)
		default:
			return 0, fmt.Errorf("jit: arm64 encoder unknown unary op %d", t.Op)
		}
		return r, nil
	case exprlang.BinaryNode:
		return compileARM64Binary(w, ra, t, signed)
	case exprlang.TernaryNode:
		return compileARM64Ternary(w, ra, t, signed)
	default:
		return 0, fmt.Errorf("jit: arm64 encoder unsupported node %T", n)
	}
}

func compileARM64Binary(w *Writer, ra *arm64Alloc, t exprlang.BinaryNode, signed bool) (arm64Reg, error) {
	a, err := compileARM64Node(w, ra, t.Left, signed)
	if err != nil {
		return 0, err
	}
	b, err := compileARM64Node(w, ra, t.Right, signed)
	if err != nil {
		return 0, err
	}
	switch t.Op {
	case exprlang.OpAdd:
		emitAddRR(w, a, a, b)
	case exprlang.OpSub:
		emitSubRR(w, a, a, b)
	case exprlang.OpMul:
		emitMul(w, a, a, b)
	case exprlang.OpAnd:
		emitAndRR(w, a, a, b)
	case exprlang.OpOr:
		emitOrrRR(w, a, a, b)
	case exprlang.OpXor:
		emitEorRR(w, a, a, b)
	case exprlang.OpEQ:
		emitCmpRR(w, a, b)
		emitCset(w, a, condEQ)
	case exprlang.OpNE:
		emitCmpRR(w, a, b)
		emitCset(w, a, condNE)
	case exprlang.OpGT:
		gt, _, _, _ := relCodesARM64(signed)
		emitCmpRR(w, a, b)
		emitCset(w, a, gt)
	case exprlang.OpGE:
		_, ge, _, _ := relCodesARM64(signed)
		emitCmpRR(w, a, b)
		emitCset(w, a, ge)
	case exprlang.OpLT:
		_, _, lt, _ := relCodesARM64(signed)
		emitCmpRR(w, a, b)
		emitCset(w, a, lt)
	case exprlang.OpLE:
		_, _, _, le := relCodesARM64(signed)
		emitCmpRR(w, a, b)
		emitCset(w, a, le)
	case exprlang.OpLAnd:
		emitCmpImm0(w, a)
		emitCset(w, a, condNE)
		emitCmpImm0(w, b)
		emitCset(w, b, condNE)
		emitAndRR(w, a, a, b)
	case exprlang.OpLOr:
		emitCmpImm0(w, a)
		emitCset(w, a, condNE)
		emitCmpImm0(w, b)
		emitCset(w, b, condNE)
		emitOrrRR(w, a, a, b)
	default:
		ra.release(b)
		return 0, fmt.Errorf("jit: arm64 encoder unknown binary op %d", t.Op)
	}
	ra.release(b)
	return a, nil
}

func compileARM64Ternary(w *Writer, ra *arm64Alloc, t exprlang.TernaryNode, signed bool) (arm64Reg, error) {
	cond, err := compileARM64Node(w, ra, t.Cond, signed)
	if err != nil {
		return 0, err
	}
	emitCmpImm0(w, cond)
	ra.release(cond)

	elseLabel := w.ReserveLabel()
	endLabel := w.ReserveLabel()
	emitBCond(w, condEQ, elseLabel)

	result, err := compileARM64Node(w, ra, t.Then, signed)
	if err != nil {
		return 0, err
	}
	emitB(w, endLabel)

	w.MarkLabel(elseLabel)
	elseReg, err := compileARM64Node(w, ra, t.Else, signed)
	if err != nil {
		return 0, err
	}
	if elseReg != result {
		emitMovRR(w, result, elseReg)
		ra.release(elseReg)
	}
	w.MarkLabel(endLabel)
	return result, nil
}

// compileNative implements Compile for arm64: old/new/addr arrive in
// X0/X1/X2 per call_arm64.s and are copied into X6/X7/X8 so the rest of
// the scratch registers (X0-X5, X9) are free for the expression itself.
func compileNative(node exprlang.Node, signed bool) (Compiled, bool) {
	if arm64Unsupported(node) || exprlang.Depth(node) > len(scratchPoolARM64)-1 {
		return nil, false
	}
	w := NewWriter()
	emitMovRR(w, regOld, regX0)
	emitMovRR(w, regNew, regX1)
	emitMovRR(w, regAddr, regX2)

	ra := newArm64Alloc()
	result, err := compileARM64Node(w, ra, node, signed)
	if err != nil {
		return nil, false
	}
	if result != regX0 {
		emitMovRR(w, regX0, result)
	}
	emitRet(w)

	if err := w.ResolveFixups(); err != nil {
		return nil, false
	}
	page, err := newExecPage(w.Code)
	if err != nil {
		return nil, false
	}
	return &arm64Compiled{page: page}, true
}

type arm64Compiled struct {
	page *execPage
}

func (c *arm64Compiled) Eval(old, newv, addr uint64) uint64 {
	return callCompiled(c.page.addr(), old, newv, addr)
}
