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
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/launix-de/memscan/config"
	"github.com/launix-de/memscan/procaccess"
	"github.com/launix-de/memscan/procfs"
	"github.com/launix-de/memscan/session"
	"github.com/launix-de/memscan/shell"
)

func main() {
	fmt.Print(`memscan Copyright (C) 2026  memscan contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	cfg := config.Default
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	cfg.FromEnv()

	pid := cfg.Pid
	if cfg.Attach != "" {
		found, err := procfs.FindPidByName(cfg.Attach)
		if err != nil {
			fmt.Fprintln(os.Stderr, "memscan:", err)
			os.Exit(1)
		}
		pid = found
	}
	if pid == 0 {
		fmt.Fprintln(os.Stderr, "memscan: no target process given, use --pid or --attach")
		os.Exit(1)
	}

	proc := procaccess.NewLive(pid)
	sess := session.New(proc)
	if err := sess.RefreshRegions(); err != nil {
		fmt.Fprintln(os.Stderr, "memscan: reading regions:", err)
		os.Exit(1)
	}

	sh := shell.New(sess, ".memscan-history.tmp")

	if cfg.Script != "" {
		f, err := os.Open(cfg.Script)
		if err != nil {
			fmt.Fprintln(os.Stderr, "memscan:", err)
			os.Exit(1)
		}
		defer f.Close()
		sh.Out = os.Stdout
		if err := sh.RunScript(f); err != nil {
			fmt.Fprintln(os.Stderr, "memscan:", err)
			os.Exit(1)
		}
		return
	}

	if err := sh.Repl(); err != nil {
		fmt.Fprintln(os.Stderr, "memscan:", err)
		os.Exit(1)
	}
}
