package complang

import (
	"math"
	"testing"

	"github.com/launix-de/memscan/exprlang"
	"github.com/launix-de/memscan/memtype"
)

func TestParseBareOperators(t *testing.T) {
	cases := []struct {
		src  string
		old  uint64
		new  uint64
		want bool
	}{
		{"=", 10, 10, true},
		{"=", 10, 11, false},
		{"!=", 10, 11, true},
		{"!=", 10, 10, false},
		{">", 10, 11, true},
		{">", 11, 10, false},
		{">=", 10, 10, true},
		{"<", 10, 9, true},
		{"<=", 10, 10, true},
	}
	for _, c := range cases {
		cmp, err := Parse(c.src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.src, err)
		}
		if cmp.Mode != ModeBare {
			t.Fatalf("Parse(%q).Mode = %v, want ModeBare", c.src, cmp.Mode)
		}
		got := cmp.EvalScalar(memtype.U32, c.old, c.new, memtype.Address(0))
		if got != c.want {
			t.Errorf("%q old=%d new=%d = %v, want %v", c.src, c.old, c.new, got, c.want)
		}
	}
}

func TestParseExprMode(t *testing.T) {
	cmp, err := Parse("> $old + 5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp.Mode != ModeExpr {
		t.Fatalf("Mode = %v, want ModeExpr", cmp.Mode)
	}
	if !cmp.EvalScalar(memtype.U32, 10, 16, memtype.Address(0)) {
		t.Error("16 should be > 10+5")
	}
	if cmp.EvalScalar(memtype.U32, 10, 15, memtype.Address(0)) {
		t.Error("15 should not be > 10+5")
	}
}

func TestParseRangeMode(t *testing.T) {
	cmp, err := Parse("=[10,20]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp.Mode != ModeRange {
		t.Fatalf("Mode = %v, want ModeRange", cmp.Mode)
	}
	if !cmp.EvalScalar(memtype.U32, 0, 15, memtype.Address(0)) {
		t.Error("15 should be within [10,20]")
	}
	if cmp.EvalScalar(memtype.U32, 0, 25, memtype.Address(0)) {
		t.Error("25 should not be within [10,20]")
	}

	neg, err := Parse("!=[10,20]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !neg.EvalScalar(memtype.U32, 0, 25, memtype.Address(0)) {
		t.Error("25 should satisfy !=[10,20]")
	}
}

func TestParseMaskMode(t *testing.T) {
	cmp, err := Parse("={0x10,0xff}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp.Mode != ModeMask {
		t.Fatalf("Mode = %v, want ModeMask", cmp.Mode)
	}
	if !cmp.EvalScalar(memtype.U32, 0, 0x10, memtype.Address(0)) {
		t.Error("0x10 & 0xff should equal 0x10 & 0xff")
	}
	if cmp.EvalScalar(memtype.U32, 0, 0x20, memtype.Address(0)) {
		t.Error("0x20 should not match mask {0x10,0xff}")
	}
}

func TestRangeMaskRejectOrderedOperators(t *testing.T) {
	for _, src := range []string{">[1,2]", "<{1,2}", ">={1,2}"} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) should have rejected range/mask syntax on a non =/!= operator", src)
		}
	}
}

func TestParseBooleanMode(t *testing.T) {
	cmp, err := Parse("$new > 100 && $new < 200")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp.Mode != ModeBoolean {
		t.Fatalf("Mode = %v, want ModeBoolean", cmp.Mode)
	}
	if !cmp.EvalScalar(memtype.U32, 0, 150, memtype.Address(0)) {
		t.Error("150 should satisfy 100 < $new < 200")
	}
	if cmp.EvalScalar(memtype.U32, 0, 250, memtype.Address(0)) {
		t.Error("250 should not satisfy 100 < $new < 200")
	}
}

func TestParseUnterminatedBracketErrors(t *testing.T) {
	if _, err := Parse("=[1,2"); err == nil {
		t.Fatal("expected an error for an unterminated range bracket")
	}
	if _, err := Parse("={1,2"); err == nil {
		t.Fatal("expected an error for an unterminated mask brace")
	}
}

func TestEvalScalarFloat32WidthAware(t *testing.T) {
	cmp, err := Parse(">")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	old := uint64(math.Float32bits(1.5))
	newv := uint64(math.Float32bits(2.5))
	if !cmp.EvalScalar(memtype.F32, old, newv, memtype.Address(0)) {
		t.Error("2.5 should be > 1.5 as F32")
	}
}

func TestEvalScalarFloat64(t *testing.T) {
	cmp, err := Parse("=")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := math.Float64bits(3.14)
	if !cmp.EvalScalar(memtype.F64, v, v, memtype.Address(0)) {
		t.Error("equal F64 bit patterns should compare equal")
	}
}

func TestEvalBytesBare(t *testing.T) {
	cmp, err := Parse("=")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cmp.EvalBytes([]byte{1, 2, 3}, []byte{1, 2, 3}, memtype.Address(0)) {
		t.Error("identical byte slices should compare equal")
	}
	if cmp.EvalBytes([]byte{1, 2, 3}, []byte{1, 2, 4}, memtype.Address(0)) {
		t.Error("differing byte slices should not compare equal")
	}

	neq, err := Parse("!=")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !neq.EvalBytes([]byte{1, 2, 3}, []byte{9, 9, 9}, memtype.Address(0)) {
		t.Error("differing byte slices should satisfy !=")
	}
}

func TestEvalBytesOrderedOperatorRejectsRatherThanPanics(t *testing.T) {
	cmp, err := Parse(">")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp.EvalBytes([]byte{1}, []byte{2}, memtype.Address(0)) {
		t.Error("ordered comparison on BYTES should never match")
	}
}

func TestCompareRespectsSignedness(t *testing.T) {
	cmp, err := Parse(">")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	const allOnes = ^uint64(0) // -1 as I64, but the largest value as U64
	if !cmp.EvalScalar(memtype.U64, 0, allOnes, memtype.Address(0)) {
		t.Error("as U64, allOnes should compare > 0")
	}
	if cmp.EvalScalar(memtype.I64, 0, allOnes, memtype.Address(0)) {
		t.Error("as I64, allOnes is -1 and should not compare > 0")
	}
}

func TestRangeModeRespectsSignedness(t *testing.T) {
	cmp, err := Parse("=[-10,10]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	const minusFive = ^uint64(0) - 4 // -5 as I64
	if !cmp.EvalScalar(memtype.I64, 0, minusFive, memtype.Address(0)) {
		t.Error("-5 should fall within the signed range [-10,10]")
	}
	if cmp.EvalScalar(memtype.U64, 0, minusFive, memtype.Address(0)) {
		t.Error("interpreted as U64, the lower bound exceeds 10, so the huge bit pattern for -5 should not fall within [-10,10]")
	}
}

func TestConstantReportsFoldability(t *testing.T) {
	cmp, err := Parse("=[1,2]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cmp.Constant() {
		t.Error("a range comparator with literal bounds should be Constant")
	}

	cmp2, err := Parse("> $old")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmp2.Constant() {
		t.Error("a comparator referencing $old should not be Constant")
	}
}

// exprEval is a small helper that runs Comparator.Expr()'s resulting tree
// directly, mirroring what the JIT emitter does with it.
func exprEval(t *testing.T, cmp *Comparator, old, newv uint64) bool {
	t.Helper()
	v, err := cmp.Expr().Eval(exprlang.Env{Old: old, New: newv})
	if err != nil {
		t.Fatalf("Expr().Eval: %v", err)
	}
	return v != 0
}

func TestExprMatchesEvalForEveryMode(t *testing.T) {
	cases := []struct {
		name string
		src  string
		old  uint64
		new  uint64
	}{
		{"bare", ">", 10, 11},
		{"bare-false", ">", 11, 10},
		{"expr", "> $old + 5", 10, 16},
		{"expr-false", "> $old + 5", 10, 15},
		{"range", "=[10,20]", 0, 15},
		{"range-false", "=[10,20]", 0, 25},
		{"range-negated", "!=[10,20]", 0, 25},
		{"mask", "={0x10,0xff}", 0, 0x10},
		{"mask-false", "={0x10,0xff}", 0, 0x20},
		{"mask-negated", "!={0x10,0xff}", 0, 0x20},
		{"boolean", "$new > 100 && $new < 200", 0, 150},
		{"boolean-false", "$new > 100 && $new < 200", 0, 250},
	}
	for _, c := range cases {
		cmp, err := Parse(c.src)
		if err != nil {
			t.Fatalf("%s: Parse(%q): %v", c.name, c.src, err)
		}
		want := cmp.EvalScalar(memtype.U32, c.old, c.new, memtype.Address(0))
		got := exprEval(t, cmp, c.old, c.new)
		if got != want {
			t.Errorf("%s: Expr().Eval() = %v, EvalScalar = %v (want equal)", c.name, got, want)
		}
	}
}
