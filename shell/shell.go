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

// Package shell is a line-oriented command dispatcher over a
// session.Session: scan, filter, list, write, suspend/resume, refresh,
// pointer-chain discovery, and snapshot save/load. It holds no scan or
// filter logic of its own, only argument parsing and formatting.
package shell

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	units "github.com/docker/go-units"
	"golang.org/x/text/width"

	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/pointerscan"
	"github.com/launix-de/memscan/session"
	"github.com/launix-de/memscan/snapshotio"
)

const (
	newprompt    = "\033[32m>\033[0m "
	resultprompt = "\033[31m=\033[0m "
)

// Shell dispatches lines of text against a session. Out, when set,
// additionally receives each RunScript result (Repl always writes
// through its own readline instance instead).
type Shell struct {
	Session *session.Session
	Out     io.Writer

	historyFile string
	resume      func() error
}

// New returns a shell over sess, with command history kept in
// historyFile (pass "" to disable persistent history).
func New(sess *session.Session, historyFile string) *Shell {
	return &Shell{Session: sess, Out: nil, historyFile: historyFile}
}

func (sh *Shell) out() io.Writer {
	if sh.Out == nil {
		return nil
	}
	return sh.Out
}

// Repl drives an interactive readline loop until EOF, Ctrl-D, or a "quit"
// command, printing each command's result with resultprompt.
func (sh *Shell) Repl() error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       sh.historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("shell: starting readline: %w", err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("shell: readline: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == "quit" || strings.TrimSpace(line) == "exit" {
			return nil
		}

		result, err := sh.Dispatch(line)
		if err != nil {
			fmt.Fprintln(l.Stderr(), "error:", err)
			continue
		}
		fmt.Fprint(l.Stdout(), resultprompt)
		fmt.Fprintln(l.Stdout(), result)
	}
}

// RunScript runs every non-blank, non-comment line of r through Dispatch
// in order, for cmd/memscan's --script one-shot mode. It stops at the
// first error.
func (sh *Shell) RunScript(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result, err := sh.Dispatch(line)
		if err != nil {
			return fmt.Errorf("shell: %q: %w", line, err)
		}
		if out := sh.out(); out != nil {
			fmt.Fprintln(out, result)
		}
	}
	return scanner.Err()
}

// Dispatch runs a single command line and returns its textual result.
func (sh *Shell) Dispatch(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "scan":
		return sh.cmdScan(args)
	case "filter":
		return sh.cmdFilter(args)
	case "list":
		return sh.cmdList(args)
	case "write":
		return sh.cmdWrite(args)
	case "suspend":
		return sh.cmdSuspend(args)
	case "resume":
		return sh.cmdResume(args)
	case "refresh":
		if err := sh.Session.RefreshRegions(); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d regions", len(sh.Session.Regions())), nil
	case "pointer":
		return sh.cmdPointer(args)
	case "snapshot":
		return sh.cmdSnapshot(args)
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

func (sh *Shell) cmdScan(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: scan <type> <comparator...>")
	}
	tag, err := parseTag(args[0])
	if err != nil {
		return "", err
	}
	src := strings.Join(args[1:], " ")
	step := tag.Width()
	if step == 0 {
		step = 1
	}
	if err := sh.Session.Scan(src, []memtype.MatchTypeTag{tag}, step); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d matches", sh.Session.Len()), nil
}

func (sh *Shell) cmdFilter(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: filter <comparator...>")
	}
	if err := sh.Session.Filter(strings.Join(args, " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d matches", sh.Session.Len()), nil
}

func (sh *Shell) cmdList(args []string) (string, error) {
	limit := sh.Session.Len()
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n < limit {
			limit = n
		}
	}
	var buf bytes.Buffer
	for i := 0; i < limit; i++ {
		m := sh.Session.At(i)
		writeRow(&buf, m)
	}
	return buf.String(), nil
}

func (sh *Shell) cmdWrite(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: write <index> <value>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 || idx >= sh.Session.Len() {
		return "", fmt.Errorf("invalid match index %q", args[0])
	}
	value, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	m := sh.Session.At(idx)
	buf := encodeScalar(m.TypeTag, value)
	if _, err := sh.Session.Process().Write(m.Address, buf); err != nil {
		return "", fmt.Errorf("writing match %d: %w", idx, err)
	}
	return "ok", nil
}

func (sh *Shell) cmdSuspend(args []string) (string, error) {
	sameUser := len(args) > 0 && args[0] == "all"
	resume, err := sh.Session.Suspend(sameUser)
	if err != nil {
		return "", err
	}
	sh.resume = resume
	return "suspended", nil
}

func (sh *Shell) cmdResume(args []string) (string, error) {
	if sh.resume == nil {
		return "", fmt.Errorf("not suspended")
	}
	err := sh.resume()
	sh.resume = nil
	if err != nil {
		return "", err
	}
	return "resumed", nil
}

func (sh *Shell) cmdPointer(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: pointer <address> <maxDepth>")
	}
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", args[0], err)
	}
	depth, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid depth %q: %w", args[1], err)
	}
	chains, err := pointerscan.FindChains(sh.Session, memtype.Address(addr), depth, nil)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, c := range chains {
		parts := make([]string, len(c.Edges))
		for i, e := range c.Edges {
			parts[i] = fmt.Sprintf("%s+%#x", e.Address, e.Offset)
		}
		fmt.Fprintln(&buf, strings.Join(parts, " -> "))
	}
	return buf.String(), nil
}

func (sh *Shell) cmdSnapshot(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: snapshot <save|load> <path> [compressed]")
	}
	switch args[0] {
	case "save":
		compressed := len(args) > 2 && args[2] == "compressed"
		if err := snapshotio.Write(sh.Session, args[1], compressed); err != nil {
			return "", err
		}
		return "saved", nil
	case "load":
		snap, err := snapshotio.Load(args[1])
		if err != nil {
			return "", err
		}
		sh.Session = session.New(snap)
		if err := sh.Session.RefreshRegions(); err != nil {
			return "", err
		}
		return "loaded", nil
	default:
		return "", fmt.Errorf("unknown snapshot subcommand %q", args[0])
	}
}

// writeRow appends one match row to buf: address, type tag, size and last
// value. The address column is padded to 18 terminal columns as measured
// by displayWidth (golang.org/x/text/width); the other columns use fixed
// fmt widths.
func writeRow(buf *bytes.Buffer, m memtype.Match) {
	addr := m.Address.String()
	tag := m.TypeTag.String()
	size := units.BytesSize(float64(m.SizeBytes))
	pad := 18 - displayWidth(addr)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(buf, "%s%s  %-5s  %8s  %d\n", addr, strings.Repeat(" ", pad), tag, size, m.LastValue)
}

// displayWidth sums the terminal column width of s, counting fullwidth
// and wide runes as two columns instead of one.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func parseTag(s string) (memtype.MatchTypeTag, error) {
	switch strings.ToUpper(s) {
	case "U8":
		return memtype.U8, nil
	case "U16":
		return memtype.U16, nil
	case "U32":
		return memtype.U32, nil
	case "U64":
		return memtype.U64, nil
	case "I8":
		return memtype.I8, nil
	case "I16":
		return memtype.I16, nil
	case "I32":
		return memtype.I32, nil
	case "I64":
		return memtype.I64, nil
	case "F32":
		return memtype.F32, nil
	case "F64":
		return memtype.F64, nil
	case "BYTES":
		return memtype.BYTES, nil
	default:
		return 0, fmt.Errorf("unknown type tag %q", s)
	}
}

func encodeScalar(tag memtype.MatchTypeTag, value uint64) []byte {
	w := tag.Width()
	if w == 0 {
		w = 8
	}
	buf := make([]byte, w)
	for i := 0; i < w; i++ {
		buf[i] = byte(value >> (8 * uint(i)))
	}
	return buf
}
