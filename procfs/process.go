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
package procfs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FindPidByName scans /proc for the lowest-numbered process whose
// /proc/<pid>/comm matches name exactly, for --attach <name> one-shot
// invocations where the caller doesn't already know a pid.
func FindPidByName(name string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("procfs: reading /proc: %w", err)
	}
	best := 0
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // not a pid directory
		}
		comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
		if err != nil {
			continue // process exited between ReadDir and ReadFile
		}
		if strings.TrimSpace(string(comm)) == name && (best == 0 || pid < best) {
			best = pid
		}
	}
	if best != 0 {
		return best, nil
	}
	return 0, fmt.Errorf("procfs: no process named %q found", name)
}
