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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procfs"
)

// Live accesses a real running process by pid, through
// process_vm_readv/writev with a ptrace PEEKDATA/POKEDATA fallback for
// kernels or permission configurations where the vm_readv family is
// unavailable (CONFIG_CROSS_MEMORY_ATTACH disabled, or the Yama ptrace
// scope denying the non-ptrace path).
type Live struct {
	pid int

	// traced is true once PTRACE_ATTACH has succeeded; Detach detaches.
	traced bool
}

var _ Process = (*Live)(nil)

// NewLive opens pid for inspection. It performs no syscalls itself; every
// Read/Write tries process_vm_readv/writev first and uses the ptrace
// fallback when that call fails.
func NewLive(pid int) *Live {
	return &Live{pid: pid}
}

func (l *Live) Pid() int { return l.pid }

func (l *Live) Read(addr memtype.Address, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr.Uintptr()), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(l.pid, local, remote, 0)
	if err == nil {
		return n, nil
	}
	if !isUnsupported(err) {
		return n, fmt.Errorf("procaccess: read pid %d at %s: %w", l.pid, addr, err)
	}
	return l.readPtrace(addr, buf)
}

func (l *Live) Write(addr memtype.Address, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr.Uintptr()), Len: len(buf)}}
	n, err := unix.ProcessVMWritev(l.pid, local, remote, 0)
	if err == nil {
		return n, nil
	}
	if !isUnsupported(err) {
		return n, fmt.Errorf("procaccess: write pid %d at %s: %w: %w", l.pid, addr, ErrWriteFailed, err)
	}
	return l.writePtrace(addr, buf)
}

func (l *Live) ReadVec(locals [][]byte, remotes []RemoteSpan) (int, error) {
	if len(locals) != len(remotes) {
		return 0, fmt.Errorf("procaccess: ReadVec: %d locals vs %d remotes", len(locals), len(remotes))
	}
	if len(locals) == 0 {
		return 0, nil
	}

	localVecs := make([]unix.Iovec, 0, len(locals))
	remoteVecs := make([]unix.RemoteIovec, 0, len(remotes))
	for i, buf := range locals {
		if len(buf) == 0 {
			continue
		}
		localVecs = append(localVecs, unix.Iovec{Base: &buf[0], Len: uint64(len(buf))})
		remoteVecs = append(remoteVecs, unix.RemoteIovec{Base: uintptr(remotes[i].Addr.Uintptr()), Len: remotes[i].Len})
	}
	if len(localVecs) == 0 {
		return 0, nil
	}

	n, err := unix.ProcessVMReadv(l.pid, localVecs, remoteVecs, 0)
	if err == nil {
		return n, nil
	}
	if !isUnsupported(err) {
		return n, fmt.Errorf("procaccess: ReadVec pid %d: %w", l.pid, err)
	}

	// fall back to one ptrace read per span; slower but always available.
	total := 0
	for i, buf := range locals {
		if len(buf) == 0 {
			continue
		}
		got, err := l.readPtrace(remotes[i].Addr, buf)
		total += got
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isUnsupported(err error) bool {
	return err == unix.ENOSYS || err == unix.EPERM || err == unix.EFAULT
}

// readPtrace services a single span word-at-a-time via PTRACE_PEEKDATA,
// attaching to the target for the duration if not already traced.
func (l *Live) readPtrace(addr memtype.Address, buf []byte) (int, error) {
	if err := l.ensureAttached(); err != nil {
		return 0, err
	}
	const wordSize = 8
	base := addr.Uintptr()
	n := 0
	for n < len(buf) {
		wordAddr := base + uintptr(n)
		aligned := wordAddr &^ (wordSize - 1)
		offset := int(wordAddr - aligned)

		var word [wordSize]byte
		if _, err := unix.PtracePeekData(l.pid, uintptr(aligned), word[:]); err != nil {
			return n, fmt.Errorf("procaccess: ptrace peek pid %d at 0x%x: %w", l.pid, aligned, err)
		}
		copied := copy(buf[n:], word[offset:])
		n += copied
	}
	return n, nil
}

// writePtrace services a write word-at-a-time via PTRACE_POKEDATA,
// read-modify-writing the boundary words so bytes outside buf are
// preserved.
func (l *Live) writePtrace(addr memtype.Address, buf []byte) (int, error) {
	if err := l.ensureAttached(); err != nil {
		return 0, err
	}
	const wordSize = 8
	base := addr.Uintptr()
	n := 0
	for n < len(buf) {
		wordAddr := base + uintptr(n)
		aligned := wordAddr &^ (wordSize - 1)
		offset := int(wordAddr - aligned)

		var word [wordSize]byte
		if _, err := unix.PtracePeekData(l.pid, uintptr(aligned), word[:]); err != nil {
			return n, fmt.Errorf("procaccess: ptrace peek (rmw) pid %d at 0x%x: %w: %w", l.pid, aligned, ErrWriteFailed, err)
		}
		copied := copy(word[offset:], buf[n:])
		if _, err := unix.PtracePokeData(l.pid, uintptr(aligned), word[:]); err != nil {
			return n, fmt.Errorf("procaccess: ptrace poke pid %d at 0x%x: %w: %w", l.pid, aligned, ErrWriteFailed, err)
		}
		n += copied
	}
	return n, nil
}

func (l *Live) ensureAttached() error {
	if l.traced {
		return nil
	}
	if err := unix.PtraceAttach(l.pid); err != nil {
		return fmt.Errorf("procaccess: ptrace attach pid %d: %w", l.pid, err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(l.pid, &status, 0, nil); err != nil {
		return fmt.Errorf("procaccess: wait for ptrace attach pid %d: %w", l.pid, err)
	}
	l.traced = true
	return nil
}

// Detach releases a ptrace attachment taken by the fallback path. Safe to
// call even if ptrace was never engaged.
func (l *Live) Detach() error {
	if !l.traced {
		return nil
	}
	l.traced = false
	if err := unix.PtraceDetach(l.pid); err != nil {
		return fmt.Errorf("procaccess: ptrace detach pid %d: %w", l.pid, err)
	}
	return nil
}

func (l *Live) Suspend(sameUser bool) error {
	if sameUser {
		killSameUser(l.pid, unix.SIGSTOP)
	}
	if err := unix.Kill(l.pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("procaccess: SIGSTOP pid %d: %w", l.pid, err)
	}
	return nil
}

func (l *Live) Resume(sameUser bool) error {
	if sameUser {
		killSameUser(l.pid, unix.SIGCONT)
	}
	if err := unix.Kill(l.pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("procaccess: SIGCONT pid %d: %w", l.pid, err)
	}
	return nil
}

// killSameUser signals every other process on the system that shares the
// target's uid, skipping the target itself and the scanner's own pid.
// Best-effort: permission or race errors on individual processes are
// ignored, matching a scan tool that wants "as many as I can freeze," not
// an all-or-nothing operation.
func killSameUser(target int, sig unix.Signal) {
	uid, ok := processUID(target)
	if !ok {
		return
	}
	self := os.Getpid()

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if pid == target || pid == self {
			continue
		}
		if otherUID, ok := processUID(pid); !ok || otherUID != uid {
			continue
		}
		_ = unix.Kill(pid, sig)
	}
}

func processUID(pid int) (uint32, bool) {
	var st unix.Stat_t
	if err := unix.Stat(filepath.Join("/proc", strconv.Itoa(pid)), &st); err != nil {
		return 0, false
	}
	return st.Uid, true
}

func (l *Live) State() (State, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", l.pid))
	if err != nil {
		return 0, fmt.Errorf("procaccess: read stat for pid %d: %w", l.pid, err)
	}
	// the comm field is parenthesized and may itself contain ")", so split
	// on the last ")" rather than whitespace.
	text := string(data)
	close := strings.LastIndexByte(text, ')')
	if close == -1 || close+2 >= len(text) {
		return 0, fmt.Errorf("procaccess: malformed stat for pid %d", l.pid)
	}
	fields := strings.Fields(text[close+1:])
	if len(fields) == 0 {
		return 0, fmt.Errorf("procaccess: malformed stat for pid %d", l.pid)
	}
	return State(fields[0][0]), nil
}

func (l *Live) Regions() ([]memtype.Region, error) {
	return procfs.ReadRegions(l.pid)
}
