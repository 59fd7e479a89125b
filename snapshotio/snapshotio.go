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

// Package snapshotio reads and writes the sidecar-JSON-plus-memory-blob
// snapshot format: a small JSON index describing every region, and a
// companion binary file holding each region's bytes back to back, raw or
// independently zstd-framed per region.
package snapshotio

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/klauspost/compress/zstd"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
	"github.com/launix-de/memscan/session"
)

// regionRecord is one entry of the sidecar JSON's "regions" array.
type regionRecord struct {
	Begin       uintptr `json:"begin"`
	End         uintptr `json:"end"`
	Prot        uint8   `json:"prot"`
	Shared      bool    `json:"shared"`
	File        string  `json:"file"`
	Desc        string  `json:"desc"`
	Offset      uintptr `json:"offset"`
	Major       int     `json:"major"`
	Minor       int     `json:"minor"`
	Inode       uint64  `json:"inode"`
	Deleted     bool    `json:"deleted"`
	SavedSize   uint64  `json:"saved_size"`
	SavedOffset uint64  `json:"saved_offset"`
}

// sidecar is the JSON object describing a snapshot, minus its companion
// memory blob.
type sidecar struct {
	Pid        int            `json:"pid"`
	Compressed bool           `json:"compressed"`
	MemorySize uint64         `json:"memory_size"`
	MemoryFile string         `json:"memory_file"`
	Regions    []regionRecord `json:"regions"`
}

// memorySuffix is appended to path to name the companion binary blob;
// MemoryFile in the sidecar only ever stores this file's base name, so
// the pair can be moved together without the sidecar embedding an
// absolute path.
const memorySuffix = ".mem"

// Write captures sess's current region list and their live bytes to path
// (the JSON sidecar) and path+".mem" (the binary blob). When compressed
// is true, each region's bytes are independently zstd-framed so a
// corrupt or truncated frame only costs that one region on load.
func Write(sess *session.Session, path string, compressed bool) error {
	regions := sess.Regions()
	proc := sess.Process()

	memPath := path + memorySuffix
	memFile, err := os.Create(memPath)
	if err != nil {
		return fmt.Errorf("snapshotio: creating memory file: %w", err)
	}
	defer memFile.Close()

	var enc *zstd.Encoder
	if compressed {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("snapshotio: creating zstd encoder: %w", err)
		}
		defer enc.Close()
	}

	records := make([]regionRecord, 0, len(regions))
	var savedOffset uint64
	for _, r := range regions {
		rec := regionRecord{
			Begin:   r.Begin.Uintptr(),
			End:     r.End.Uintptr(),
			Prot:    uint8(r.Protection),
			Shared:  r.Shared,
			File:    r.BackingFile,
			Desc:    r.Description,
			Offset:  r.Offset,
			Major:   r.DeviceMajor,
			Minor:   r.DeviceMinor,
			Inode:   r.Inode,
			Deleted: r.Deleted,
		}
		if r.Deleted {
			records = append(records, rec)
			continue
		}

		data, err := readRegion(proc, r)
		if err != nil {
			log.Printf("snapshotio: reading region %s-%s: %v, recording empty", r.Begin, r.End, err)
			records = append(records, rec)
			continue
		}

		chunk := data
		if compressed {
			chunk = enc.EncodeAll(data, nil)
		}
		if _, err := memFile.Write(chunk); err != nil {
			return fmt.Errorf("snapshotio: writing memory file: %w", err)
		}

		rec.SavedOffset = savedOffset
		rec.SavedSize = uint64(len(chunk))
		savedOffset += rec.SavedSize
		records = append(records, rec)
	}

	side := sidecar{
		Pid:        proc.Pid(),
		Compressed: compressed,
		MemorySize: savedOffset,
		MemoryFile: filepath.Base(memPath),
		Regions:    records,
	}

	blob, err := json.MarshalIndent(side, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshotio: marshaling sidecar: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("snapshotio: writing sidecar: %w", err)
	}
	return nil
}

// readRegion reads a region's full bytes, looping to cope with Process
// implementations whose Read returns less than requested in one call.
func readRegion(proc procaccess.Process, r memtype.Region) ([]byte, error) {
	buf := make([]byte, r.Size())
	got := 0
	for got < len(buf) {
		n, err := proc.Read(r.Begin.Add(uintptr(got)), buf[got:])
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("short read at %s", r.Begin.Add(uintptr(got)))
		}
		got += n
	}
	return buf, nil
}

// Load reads a snapshot sidecar and its companion memory file, returning
// a procaccess.Snapshot ready to back an offline session. A region whose
// saved frame fails to decompress (or whose saved size doesn't match the
// region's declared size) is not fatal: its protection is cleared and its
// bytes replaced with zeroes, and loading continues with every other
// region intact.
func Load(path string) (*procaccess.Snapshot, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshotio: reading sidecar: %w", err)
	}
	var side sidecar
	if err := json.Unmarshal(blob, &side); err != nil {
		return nil, fmt.Errorf("snapshotio: parsing sidecar: %w", err)
	}

	memPath := filepath.Join(filepath.Dir(path), side.MemoryFile)
	mem, err := os.ReadFile(memPath)
	if err != nil {
		return nil, fmt.Errorf("snapshotio: reading memory file: %w", err)
	}

	var dec *zstd.Decoder
	if side.Compressed {
		dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("snapshotio: creating zstd decoder: %w", err)
		}
		defer dec.Close()
	}

	regions := make([]memtype.Region, len(side.Regions))
	datas := make([][]byte, len(side.Regions))
	for i, rec := range side.Regions {
		size := rec.End - rec.Begin
		region := memtype.Region{
			Begin:       memtype.Address(rec.Begin),
			End:         memtype.Address(rec.End),
			Protection:  memtype.Protection(rec.Prot),
			Shared:      rec.Shared,
			BackingFile: rec.File,
			Offset:      rec.Offset,
			DeviceMajor: rec.Major,
			DeviceMinor: rec.Minor,
			Inode:       rec.Inode,
			Description: rec.Desc,
			Deleted:     rec.Deleted,
		}

		data := make([]byte, size)
		if !rec.Deleted && rec.SavedSize > 0 {
			if rec.SavedOffset+rec.SavedSize > uint64(len(mem)) {
				log.Printf("snapshotio: region %s-%s frame runs past end of memory file, zero-filling", region.Begin, region.End)
				region.Protection = 0
			} else {
				frame := mem[rec.SavedOffset : rec.SavedOffset+rec.SavedSize]
				if side.Compressed {
					decoded, err := dec.DecodeAll(frame, make([]byte, 0, size))
					if err != nil || uintptr(len(decoded)) != size {
						log.Printf("snapshotio: region %s-%s failed to decompress, zero-filling: %v", region.Begin, region.End, err)
						region.Protection = 0
					} else {
						data = decoded
					}
				} else if uintptr(len(frame)) == size {
					copy(data, frame)
				} else {
					log.Printf("snapshotio: region %s-%s saved size mismatch, zero-filling", region.Begin, region.End)
					region.Protection = 0
				}
			}
		}

		regions[i] = region
		datas[i] = data
	}

	snap, err := procaccess.NewSnapshot(side.Pid, regions, datas)
	if err != nil {
		return nil, fmt.Errorf("snapshotio: building snapshot: %w", err)
	}
	return snap, nil
}

// Watch watches path for external writes (e.g. another process
// periodically re-exporting a snapshot) and reloads it on every change,
// invoking onChange with the freshly loaded snapshot or the error
// encountered reloading it. The returned closer stops the watch.
func Watch(path string, onChange func(*procaccess.Snapshot, error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("snapshotio: creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("snapshotio: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				snap, err := Load(path)
				onChange(snap, err)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(nil, fmt.Errorf("snapshotio: watch error: %w", err))
			}
		}
	}()

	return watcher, nil
}
