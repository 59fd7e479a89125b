package session

import (
	"errors"
	"testing"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
)

// fakeProcess serves reads/writes against a mutable in-memory image and a
// fixed region list, mirroring scanner's fake but also supporting Write so
// Filter's re-read-after-mutation behavior can be exercised.
type fakeProcess struct {
	base    memtype.Address
	data    []byte
	regions []memtype.Region

	suspended bool
}

func (f *fakeProcess) Pid() int { return 42 }

func (f *fakeProcess) Read(addr memtype.Address, buf []byte) (int, error) {
	offset := addr.Diff(f.base)
	if offset < 0 || uintptr(offset) >= uintptr(len(f.data)) {
		return 0, errors.New("out of range")
	}
	return copy(buf, f.data[offset:]), nil
}

func (f *fakeProcess) Write(addr memtype.Address, buf []byte) (int, error) {
	offset := addr.Diff(f.base)
	if offset < 0 || uintptr(offset) >= uintptr(len(f.data)) {
		return 0, errors.New("out of range")
	}
	return copy(f.data[offset:], buf), nil
}

func (f *fakeProcess) ReadVec(locals [][]byte, remotes []procaccess.RemoteSpan) (int, error) {
	total := 0
	for i, r := range remotes {
		n, err := f.Read(r.Addr, locals[i])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (f *fakeProcess) Suspend(sameUser bool) error { f.suspended = true; return nil }
func (f *fakeProcess) Resume(sameUser bool) error  { f.suspended = false; return nil }

func (f *fakeProcess) State() (procaccess.State, error) { return procaccess.Running, nil }

func (f *fakeProcess) Regions() ([]memtype.Region, error) { return f.regions, nil }

func putU32(data []byte, off int, v uint32) {
	data[off] = byte(v)
	data[off+1] = byte(v >> 8)
	data[off+2] = byte(v >> 16)
	data[off+3] = byte(v >> 24)
}

func newFakeProcess() *fakeProcess {
	base := memtype.Address(0x5000)
	data := make([]byte, 32)
	putU32(data, 0, 100)
	putU32(data, 4, 200)
	putU32(data, 8, 100)
	region := memtype.Region{Begin: base, End: base.Add(uintptr(len(data))), Protection: memtype.ProtReadWrite}
	return &fakeProcess{base: base, data: data, regions: []memtype.Region{region}}
}

func TestSessionScanFindsExactValue(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("= 100", []memtype.MatchTypeTag{memtype.U32}, 4); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("got %d matches, want 2", s.Len())
	}
}

func TestSessionFilterNarrowsAfterMutation(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("= 100", []memtype.MatchTypeTag{memtype.U32}, 4); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("got %d matches, want 2", s.Len())
	}

	// mutate only the first match's backing memory
	putU32(proc.data, 0, 999)

	if err := s.Filter("= 999"); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("after filter got %d matches, want 1", s.Len())
	}
	if s.At(0).Address != proc.base.Add(0) {
		t.Fatalf("unexpected surviving match address %s", s.At(0).Address)
	}
}

func TestSessionFilterOldPlusDeltaUsesJITPath(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("= 100", []memtype.MatchTypeTag{memtype.U32}, 4); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// both survivors gain exactly 50; "$old + 50" doesn't fold to a
	// number constant, so this exercises choosePredicate's JIT branch.
	putU32(proc.data, 0, 150)
	putU32(proc.data, 8, 150)

	if err := s.Filter("= $old + 50"); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("got %d matches after increase, want 2", s.Len())
	}
}

func putU64(data []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		data[off+i] = byte(v >> (8 * i))
	}
}

func TestSessionFilterJITPathRespectsSignedness(t *testing.T) {
	proc := newFakeProcess()
	base := proc.base
	data := make([]byte, 16)
	putU64(data, 0, uint64(int64(-100))) // -100 as I64, huge as U64
	proc.data = data
	proc.regions = []memtype.Region{{Begin: base, End: base.Add(uintptr(len(data))), Protection: memtype.ProtReadWrite}}

	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("$new < 0", []memtype.MatchTypeTag{memtype.I64}, 8); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("got %d I64 matches for $new < 0, want 1", s.Len())
	}

	// "$new > $old" never folds to a constant, so this exercises
	// choosePredicate's dual-compiled JIT path rather than the
	// Comparator.Constant() fast path.
	putU64(data, 0, uint64(int64(-50))) // increased toward zero as I64
	if err := s.Filter("> $old"); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("after filter got %d matches, want 1 (-50 > -100 as I64)", s.Len())
	}
}

func TestSessionInRegionUsesIndex(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("= 100", []memtype.MatchTypeTag{memtype.U32}, 4); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	inRange := s.InRegion(s.Regions()[0])
	if len(inRange) != 2 {
		t.Fatalf("InRegion returned %d matches, want 2", len(inRange))
	}

	outside := memtype.Region{Begin: memtype.Address(0x9000), End: memtype.Address(0x9100)}
	if got := s.InRegion(outside); len(got) != 0 {
		t.Fatalf("InRegion outside the scanned range returned %d matches, want 0", len(got))
	}
}

func TestSessionSuspendResume(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	resume, err := s.Suspend(false)
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if !proc.suspended {
		t.Fatal("expected process to be suspended")
	}
	if err := resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if proc.suspended {
		t.Fatal("expected process to be resumed")
	}
}

func TestSessionReset(t *testing.T) {
	proc := newFakeProcess()
	s := New(proc)
	if err := s.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	if err := s.Scan("= 100", []memtype.MatchTypeTag{memtype.U32}, 4); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("after Reset got %d matches, want 0", s.Len())
	}
	if len(s.InRegion(s.Regions()[0])) != 0 {
		t.Fatal("expected secondary index to be empty after Reset")
	}
}
