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
package procaccess

import (
	"errors"
	"fmt"
	"sort"

	"github.com/launix-de/memscan/memtype"
)

// ErrSnapshotReadOnly is returned by Snapshot.Write and any fallback path
// that would otherwise mutate a captured image. It is folded into the
// package's ErrWriteFailed taxonomy: a caller that only checks
// errors.Is(err, ErrWriteFailed) still catches this, while one that
// specifically cares about the read-only case can still ask for
// ErrSnapshotReadOnly.
var ErrSnapshotReadOnly = errors.New("procaccess: snapshot is read-only")

// snapshotBlob is one captured region's bytes, kept alongside its Region
// so Read can locate the backing slice by address.
type snapshotBlob struct {
	region memtype.Region
	data   []byte
}

// Snapshot replays a previously captured memory image instead of a live
// process, so scans and filters can run offline against a fixed point in
// time (loaded from snapshotio, or built directly by a caller that
// already has region bytes in hand).
type Snapshot struct {
	pid     int
	blobs   []snapshotBlob // sorted by region.Begin
	regions []memtype.Region
}

var _ Process = (*Snapshot)(nil)

// NewSnapshot builds a replay process from a pid label (kept only for
// display; the pid need not still exist) and a set of captured regions
// with their bytes. Each entry's data must be exactly region.Size() long.
func NewSnapshot(pid int, regions []memtype.Region, data [][]byte) (*Snapshot, error) {
	if len(regions) != len(data) {
		return nil, errors.New("procaccess: NewSnapshot: region/data count mismatch")
	}
	blobs := make([]snapshotBlob, len(regions))
	for i, r := range regions {
		if uintptr(len(data[i])) != r.Size() {
			return nil, errors.New("procaccess: NewSnapshot: region size does not match captured data length")
		}
		blobs[i] = snapshotBlob{region: r, data: data[i]}
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].region.Begin < blobs[j].region.Begin })

	sorted := make([]memtype.Region, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Begin < sorted[j].Begin })

	return &Snapshot{pid: pid, blobs: blobs, regions: sorted}, nil
}

func (s *Snapshot) Pid() int { return s.pid }

func (s *Snapshot) Regions() ([]memtype.Region, error) {
	out := make([]memtype.Region, len(s.regions))
	copy(out, s.regions)
	return out, nil
}

func (s *Snapshot) Read(addr memtype.Address, buf []byte) (int, error) {
	blob := s.find(addr)
	if blob == nil {
		return 0, nil
	}
	offset := addr.Diff(blob.region.Begin)
	if offset < 0 || uintptr(offset) >= uintptr(len(blob.data)) {
		return 0, nil
	}
	n := copy(buf, blob.data[offset:])
	return n, nil
}

func (s *Snapshot) ReadVec(locals [][]byte, remotes []RemoteSpan) (int, error) {
	if len(locals) != len(remotes) {
		return 0, errors.New("procaccess: ReadVec: locals/remotes count mismatch")
	}
	total := 0
	for i, buf := range locals {
		n, err := s.Read(remotes[i].Addr, buf)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Snapshot) Write(addr memtype.Address, buf []byte) (int, error) {
	return 0, fmt.Errorf("procaccess: write to snapshot at %s: %w: %w", addr, ErrWriteFailed, ErrSnapshotReadOnly)
}

func (s *Snapshot) Suspend(sameUser bool) error { return nil }
func (s *Snapshot) Resume(sameUser bool) error  { return nil }

// State always reports Stopped: a snapshot is by definition a frozen
// image, whether or not the pid it was taken from is still alive.
func (s *Snapshot) State() (State, error) { return Stopped, nil }

func (s *Snapshot) find(addr memtype.Address) *snapshotBlob {
	i := sort.Search(len(s.blobs), func(i int) bool {
		return s.blobs[i].region.End > addr
	})
	if i == len(s.blobs) {
		return nil
	}
	if !s.blobs[i].region.Contains(addr) {
		return nil
	}
	return &s.blobs[i]
}
