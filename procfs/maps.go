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

// Package procfs reads the textual /proc/<pid>/maps representation of a
// process's address space and turns it into memtype.Region values.
package procfs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/launix-de/memscan/memtype"
)

// ErrUnavailable reports that the region enumerator could not read the
// target's address space at all (the process exited, or /proc/<pid>/maps
// could not be opened for some other reason). An empty region list is
// not itself an error; this is only raised when the read never happened.
var ErrUnavailable = errors.New("procfs: region enumeration unavailable")

// one maps line, e.g.:
// 00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon
// 7f2e8b5c0000-7f2e8b5e2000 rw-p 00000000 00:00 0  [heap]
var mapsLine = regexp.MustCompile(`^([0-9a-fA-F]+)-([0-9a-fA-F]+)\s+([rwxps-]{4})\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+):([0-9a-fA-F]+)\s+(\d+)\s*(.*)$`)

// ReadRegions reads /proc/<pid>/maps and returns the region list in file
// order, which is ascending by Begin address.
func ReadRegions(pid int) ([]memtype.Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("procfs: open maps for pid %d: %w: %w", pid, ErrUnavailable, err)
	}
	defer f.Close()
	return parseMaps(f)
}

func parseMaps(r io.Reader) ([]memtype.Region, error) {
	var regions []memtype.Region
	scanner := bufio.NewScanner(r)
	// a backing file path can in principle be long; grow the buffer past
	// the 64k default rather than truncating a line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		region, ok := parseLine(line)
		if !ok {
			continue // skip malformed lines rather than aborting the whole scan
		}
		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procfs: reading maps: %w", err)
	}
	return regions, nil
}

func parseLine(line string) (memtype.Region, bool) {
	m := mapsLine.FindStringSubmatch(line)
	if m == nil {
		return memtype.Region{}, false
	}

	begin, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return memtype.Region{}, false
	}
	end, err := strconv.ParseUint(m[2], 16, 64)
	if err != nil {
		return memtype.Region{}, false
	}

	perms := m[3]
	var prot memtype.Protection
	if perms[0] != '-' {
		prot |= memtype.ProtRead
	}
	if perms[1] != '-' {
		prot |= memtype.ProtWrite
	}
	if perms[2] != '-' {
		prot |= memtype.ProtExec
	}
	shared := perms[3] == 's'

	offset, err := strconv.ParseUint(m[4], 16, 64)
	if err != nil {
		return memtype.Region{}, false
	}
	major, err := strconv.ParseUint(m[5], 16, 32)
	if err != nil {
		return memtype.Region{}, false
	}
	minor, err := strconv.ParseUint(m[6], 16, 32)
	if err != nil {
		return memtype.Region{}, false
	}
	inode, err := strconv.ParseUint(m[7], 10, 64)
	if err != nil {
		return memtype.Region{}, false
	}

	region := memtype.Region{
		Begin:       memtype.Address(begin),
		End:         memtype.Address(end),
		Protection:  prot,
		Shared:      shared,
		Offset:      uintptr(offset),
		DeviceMajor: int(major),
		DeviceMinor: int(minor),
		Inode:       inode,
	}

	tail := strings.TrimSpace(m[8])
	if tail != "" {
		if tail[0] == '/' {
			if sp := strings.IndexByte(tail, ' '); sp >= 0 {
				region.BackingFile = tail[:sp]
				region.Description = strings.TrimSpace(tail[sp+1:])
			} else {
				region.BackingFile = tail
			}
		} else {
			region.Description = tail
		}
		region.Deleted = strings.Contains(tail, "(deleted)")
	}

	return region, true
}
