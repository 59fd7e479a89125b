package shell

import (
	"errors"
	"strings"
	"testing"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
	"github.com/launix-de/memscan/session"
)

// fakeProcess mirrors the fake used throughout the other packages' tests:
// a mutable in-memory image behind a fixed region list.
type fakeProcess struct {
	base    memtype.Address
	data    []byte
	regions []memtype.Region
}

func (f *fakeProcess) Pid() int { return 123 }

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

func (f *fakeProcess) Suspend(sameUser bool) error { return nil }
func (f *fakeProcess) Resume(sameUser bool) error  { return nil }

func (f *fakeProcess) State() (procaccess.State, error) { return procaccess.Running, nil }

func (f *fakeProcess) Regions() ([]memtype.Region, error) { return f.regions, nil }

func putU32(data []byte, off int, v uint32) {
	data[off] = byte(v)
	data[off+1] = byte(v >> 8)
	data[off+2] = byte(v >> 16)
	data[off+3] = byte(v >> 24)
}

func newShell(t *testing.T) (*Shell, *fakeProcess) {
	t.Helper()
	base := memtype.Address(0x6000)
	data := make([]byte, 16)
	putU32(data, 0, 42)
	putU32(data, 4, 7)
	proc := &fakeProcess{base: base, data: data, regions: []memtype.Region{
		{Begin: base, End: base.Add(16), Protection: memtype.ProtReadWrite},
	}}
	sess := session.New(proc)
	if err := sess.RefreshRegions(); err != nil {
		t.Fatalf("RefreshRegions: %v", err)
	}
	return New(sess, ""), proc
}

func TestDispatchScanThenList(t *testing.T) {
	sh, _ := newShell(t)

	if _, err := sh.Dispatch("scan U32 = 42"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if sh.Session.Len() != 1 {
		t.Fatalf("got %d matches, want 1", sh.Session.Len())
	}

	out, err := sh.Dispatch("list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "U32") {
		t.Fatalf("expected listing to mention the type tag, got %q", out)
	}
}

func TestDispatchWriteMutatesTarget(t *testing.T) {
	sh, proc := newShell(t)
	if _, err := sh.Dispatch("scan U32 = 42"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, err := sh.Dispatch("write 0 99"); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got uint32
	for i := 0; i < 4; i++ {
		got |= uint32(proc.data[i]) << (8 * uint(i))
	}
	if got != 99 {
		t.Fatalf("target holds %d, want 99", got)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	sh, _ := newShell(t)
	if _, err := sh.Dispatch("bogus"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestDispatchSuspendRequiresPriorSuspendToResume(t *testing.T) {
	sh, _ := newShell(t)
	if _, err := sh.Dispatch("resume"); err == nil {
		t.Fatal("expected resume without a prior suspend to fail")
	}
	if _, err := sh.Dispatch("suspend"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := sh.Dispatch("resume"); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestRunScriptSkipsBlankAndCommentLines(t *testing.T) {
	sh, _ := newShell(t)
	script := "# comment\n\nscan U32 = 42\nlist\n"
	if err := sh.RunScript(strings.NewReader(script)); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if sh.Session.Len() != 1 {
		t.Fatalf("got %d matches, want 1", sh.Session.Len())
	}
}
