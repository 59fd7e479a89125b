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

// Package config is a flat settings struct populated by command-line
// flags with environment variable overrides, the same shape the rest of
// this corpus uses for its own settings.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds every tunable of a memscan run. It has no behavior of its
// own; cmd/memscan fills it in once at startup and reads Pid, Attach and
// Script from it. CacheSize, Step and Compressed are parsed from flags and
// the environment, but nothing in this module reads them.
type Config struct {
	Pid     int
	Attach  string
	Script  string

	CacheSize int
	Step      int

	Compressed bool
}

// Default mirrors the corpus's own pattern of a package-level settings
// instance with default values (storage.Settings) rather than a constructor.
var Default = Config{
	CacheSize: 64 * 1024 * 1024,
	Step:      4,
}

// RegisterFlags wires c's fields into fs, returning c so callers can chain
// FromEnv and fs.Parse.
func (c *Config) RegisterFlags(fs *flag.FlagSet) *Config {
	fs.IntVar(&c.Pid, "pid", c.Pid, "pid of the target process to attach to")
	fs.StringVar(&c.Attach, "attach", c.Attach, "process name to attach to instead of --pid")
	fs.StringVar(&c.Script, "script", c.Script, "path to a script of shell commands to run non-interactively")
	fs.IntVar(&c.CacheSize, "cache-size", c.CacheSize, "bytes of region cache to keep between scans (parsed but unused)")
	fs.IntVar(&c.Step, "step", c.Step, "default scan step in bytes (parsed but unused; scan steps by the type's width)")
	fs.BoolVar(&c.Compressed, "compressed", c.Compressed, "zstd-compress snapshot memory files on save (parsed but unused; pass 'compressed' to snapshot save)")
	return c
}

// FromEnv applies MEMSCAN_CACHE_SIZE and MEMSCAN_STEP overrides on top of
// whatever flag.Parse already set, so a deployment can pin these without
// touching the invoking command line.
func (c *Config) FromEnv() *Config {
	if v, ok := os.LookupEnv("MEMSCAN_CACHE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.CacheSize = n
		}
	}
	if v, ok := os.LookupEnv("MEMSCAN_STEP"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Step = n
		}
	}
	return c
}
