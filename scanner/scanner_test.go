package scanner

import (
	"errors"
	"testing"

	"github.com/launix-de/memscan/matchstore"
	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
)

// fakeProcess serves reads out of a fixed in-memory image and otherwise
// stubs the rest of procaccess.Process, which scanner.Run never touches.
type fakeProcess struct {
	base memtype.Address
	data []byte
}

func (f *fakeProcess) Pid() int { return 1 }

func (f *fakeProcess) Read(addr memtype.Address, buf []byte) (int, error) {
	offset := addr.Diff(f.base)
	if offset < 0 || uintptr(offset) >= uintptr(len(f.data)) {
		return 0, errors.New("out of range")
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeProcess) Write(addr memtype.Address, buf []byte) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeProcess) ReadVec(locals [][]byte, remotes []procaccess.RemoteSpan) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeProcess) Suspend(sameUser bool) error { return nil }
func (f *fakeProcess) Resume(sameUser bool) error  { return nil }

func (f *fakeProcess) State() (procaccess.State, error) { return procaccess.Running, nil }

func (f *fakeProcess) Regions() ([]memtype.Region, error) { return nil, nil }

// equalsPredicate accepts any scalar whose current value equals want.
type equalsPredicate struct {
	want uint64
}

func (p equalsPredicate) EvalScalar(tag memtype.MatchTypeTag, old, current uint64, addr memtype.Address) bool {
	return current == p.want
}

func (p equalsPredicate) EvalBytes(old, current []byte, addr memtype.Address) bool { return false }

func TestRunFindsU32Matches(t *testing.T) {
	base := memtype.Address(0x2000)
	data := make([]byte, 32)
	// place 0x11223344 at offset 4 and offset 20
	putU32 := func(off int, v uint32) {
		data[off] = byte(v)
		data[off+1] = byte(v >> 8)
		data[off+2] = byte(v >> 16)
		data[off+3] = byte(v >> 24)
	}
	putU32(4, 0x11223344)
	putU32(20, 0x11223344)

	proc := &fakeProcess{base: base, data: data}
	region := memtype.Region{Begin: base, End: base.Add(uintptr(len(data))), Protection: memtype.ProtReadWrite}

	desc := Descriptor{
		TypeTags:  []memtype.MatchTypeTag{memtype.U32},
		Step:      4,
		Predicate: equalsPredicate{want: 0x11223344},
	}
	matches, err := Run(proc, []memtype.Region{region}, desc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
	if matches[0].Address != base.Add(4) || matches[1].Address != base.Add(20) {
		t.Fatalf("unexpected match addresses: %+v", matches)
	}
	for _, m := range matches {
		if m.TypeTag != memtype.U32 || m.LastValue != 0x11223344 {
			t.Fatalf("unexpected match: %+v", m)
		}
	}
}

func TestRunSkipsRegionsMissingProtection(t *testing.T) {
	base := memtype.Address(0x3000)
	data := make([]byte, 16)
	proc := &fakeProcess{base: base, data: data}
	region := memtype.Region{Begin: base, End: base.Add(16), Protection: memtype.ProtRead} // no write bit

	desc := Descriptor{
		TypeTags:  []memtype.MatchTypeTag{memtype.U8},
		Step:      1,
		Predicate: equalsPredicate{want: 0},
	}
	matches, err := Run(proc, []memtype.Region{region}, desc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected region without write permission to be skipped, got %d matches", len(matches))
	}
}

func TestRunZeroStepSubstitutesNarrowestWidth(t *testing.T) {
	base := memtype.Address(0x4000)
	data := []byte{5, 5, 5, 5}
	proc := &fakeProcess{base: base, data: data}
	region := memtype.Region{Begin: base, End: base.Add(uintptr(len(data))), Protection: memtype.ProtReadWrite}

	desc := Descriptor{
		TypeTags:  []memtype.MatchTypeTag{memtype.U8, memtype.U32},
		Step:      0,
		Predicate: equalsPredicate{want: 5},
	}
	matches, err := Run(proc, []memtype.Region{region}, desc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// U8 scan at step 1 should find all four bytes equal to 5.
	count := 0
	for _, m := range matches {
		if m.TypeTag == memtype.U8 {
			count++
		}
	}
	if count != 4 {
		t.Fatalf("got %d U8 matches, want 4 (step should have substituted the narrowest width, 1)", count)
	}
}

func TestRunRejectsEmptyTypeTags(t *testing.T) {
	proc := &fakeProcess{base: 0, data: nil}
	_, err := Run(proc, nil, Descriptor{Predicate: equalsPredicate{}})
	if err == nil {
		t.Fatal("expected error for empty TypeTags")
	}
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("error = %v, want errors.Is(..., ErrInvalidDescriptor)", err)
	}
}

func TestRunRejectsMissingPredicate(t *testing.T) {
	proc := &fakeProcess{base: 0, data: nil}
	_, err := Run(proc, nil, Descriptor{TypeTags: []memtype.MatchTypeTag{memtype.U32}})
	if err == nil {
		t.Fatal("expected error for a nil Predicate")
	}
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("error = %v, want errors.Is(..., ErrInvalidDescriptor)", err)
	}
}

var _ matchstore.Predicate = equalsPredicate{}
