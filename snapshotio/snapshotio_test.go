package snapshotio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
	"github.com/launix-de/memscan/session"
)

// truncateFile shortens a file to zero bytes, simulating a snapshot whose
// memory file was only partially written before an interruption.
func truncateFile(t *testing.T, path string) {
	t.Helper()
	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}

// fakeProcess serves reads against a fixed in-memory image split across two
// regions, enough to exercise Write's per-region capture loop.
type fakeProcess struct {
	base    memtype.Address
	data    []byte
	regions []memtype.Region
}

func (f *fakeProcess) Pid() int { return 99 }

func (f *fakeProcess) Read(addr memtype.Address, buf []byte) (int, error) {
	offset := addr.Diff(f.base)
	if offset < 0 || uintptr(offset) >= uintptr(len(f.data)) {
		return 0, errors.New("out of range")
	}
	return copy(buf, f.data[offset:]), nil
}

func (f *fakeProcess) Write(addr memtype.Address, buf []byte) (int, error) {
	return 0, errors.New("not implemented")
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

func (f *fakeProcess) Suspend(sameUser bool) error { return nil }
func (f *fakeProcess) Resume(sameUser bool) error  { return nil }

func (f *fakeProcess) State() (procaccess.State, error) { return procaccess.Running, nil }

func (f *fakeProcess) Regions() ([]memtype.Region, error) { return f.regions, nil }

func newFakeProcess() *fakeProcess {
	base := memtype.Address(0x4000)
	data := make([]byte, 48)
	for i := range data {
		data[i] = byte(i)
	}
	region1 := memtype.Region{Begin: base, End: base.Add(16), Protection: memtype.ProtReadWrite, Description: "one"}
	region2 := memtype.Region{Begin: base.Add(16), End: base.Add(48), Protection: memtype.ProtRead, Description: "two"}
	return &fakeProcess{base: base, data: data, regions: []memtype.Region{region1, region2}}
}

func newSession(t *testing.T, proc *fakeProcess) *session.Session {
	t.Helper()
	sess := session.New(proc)
	if err := sess.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	return sess
}

func TestWriteLoadRoundTripUncompressed(t *testing.T) {
	proc := newFakeProcess()
	sess := newSession(t, proc)

	path := filepath.Join(t.TempDir(), "snap.json")
	if err := Write(sess, path, false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Pid() != 99 {
		t.Fatalf("got pid %d, want 99", snap.Pid())
	}

	regions, err := snap.Regions()
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}

	buf := make([]byte, 16)
	if _, err := snap.Read(proc.base, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if b != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b, byte(i))
		}
	}
}

func TestWriteLoadRoundTripCompressed(t *testing.T) {
	proc := newFakeProcess()
	sess := newSession(t, proc)

	path := filepath.Join(t.TempDir(), "snap.json")
	if err := Write(sess, path, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	buf := make([]byte, 32)
	if _, err := snap.Read(proc.base.Add(16), buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		want := byte(i + 16)
		if b != want {
			t.Fatalf("byte %d = %d, want %d", i, b, want)
		}
	}
}

func TestLoadDegradesCorruptRegionInsteadOfFailing(t *testing.T) {
	proc := newFakeProcess()
	sess := newSession(t, proc)

	path := filepath.Join(t.TempDir(), "snap.json")
	if err := Write(sess, path, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	memPath := path + memorySuffix
	truncateFile(t, memPath)

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load should degrade rather than fail outright: %v", err)
	}
	regions, err := snap.Regions()
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
}
