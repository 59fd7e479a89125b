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

// Package pointerscan discovers static-pointer chains to a target address
// by repeatedly asking a session to scan memory for values that look like
// a pointer to the previous hop, walking backward from the target until a
// chain bottoms out in a region the caller considers stable.
package pointerscan

import (
	"fmt"

	"github.com/launix-de/memscan/complang"
	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/session"
)

const (
	// DefaultMaxOffset bounds how far a pointer cell's value may trail the
	// address it leads to before a hop is no longer considered plausible.
	DefaultMaxOffset = 1024
	// DefaultResultLimit aborts a branch whose candidate set is too large
	// to be a useful pointer path rather than incidental noise.
	DefaultResultLimit = 1024
	// pointerMask clears the low bits of both sides of the comparison so
	// hops land on the same coarse allocation granularity instead of
	// requiring a byte-exact match.
	pointerMask = ^uint64(0x3FF)
	pointerStep = 8
)

// Edge is one hop of a chain: the address of a pointer cell, and the
// offset added to its dereferenced value to reach the next hop (or the
// original target, for the last edge).
type Edge struct {
	Address memtype.Address
	Offset  uintptr
}

// Chain is a complete static-to-target pointer path. Edges[0].Address lies
// in a region the caller's regionFilter accepted as stable; dereferencing
// each edge's address and adding its offset yields the next edge's
// address, and the last edge's dereference-plus-offset yields the
// original target.
type Chain struct {
	Edges []Edge
}

// FindChains searches sess's target process for static pointer chains
// leading to target, recursing up to maxDepth hops. Every hop scans the
// full set of readable+writable regions; regionFilter instead narrows
// which of those regions count as a stable base a chain may bottom out
// in (e.g. restricting chain roots to a module's static data region). A
// nil regionFilter accepts any readable+writable region as a stable base,
// so every chain reported is one hop deep.
func FindChains(sess *session.Session, target memtype.Address, maxDepth int, regionFilter func(memtype.Region) bool) ([]Chain, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("pointerscan: maxDepth must be at least 1, got %d", maxDepth)
	}

	scanRegions := candidateRegions(sess.Regions(), nil)
	if len(scanRegions) == 0 {
		return nil, fmt.Errorf("pointerscan: session has no readable+writable regions")
	}
	stableRegions := candidateRegions(sess.Regions(), regionFilter)
	if len(stableRegions) == 0 {
		return nil, fmt.Errorf("pointerscan: no readable+writable regions match the given filter")
	}

	visited := make(map[memtype.Address]bool)
	var chains []Chain
	// trail accumulates edges in target-to-base discovery order; it is
	// reversed into base-to-target order only when a chain completes.
	var walk func(current memtype.Address, depth int, trail []Edge) error
	walk = func(current memtype.Address, depth int, trail []Edge) error {
		if depth >= maxDepth {
			return nil
		}

		matches, err := candidatesFor(sess, scanRegions, current)
		if err != nil {
			return err
		}
		if len(matches) > DefaultResultLimit {
			return nil
		}

		for _, m := range matches {
			value := memtype.Address(m.LastValue)
			if value > current {
				continue // a pointer cell can't point past the address it's leading to
			}
			offset := current.Uintptr() - value.Uintptr()
			if offset >= DefaultMaxOffset {
				continue
			}
			if visited[m.Address] {
				continue
			}
			visited[m.Address] = true

			nextTrail := append(append([]Edge{}, trail...), Edge{Address: m.Address, Offset: offset})

			if regionContainsStable(stableRegions, m.Address) {
				chains = append(chains, Chain{Edges: reversed(nextTrail)})
				continue
			}

			if err := walk(m.Address, depth+1, nextTrail); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(target, 0, nil); err != nil {
		return nil, err
	}
	return chains, nil
}

// reversed returns a new slice with edges in the opposite order, turning
// the target-to-base discovery order into the base-to-target order a
// Chain is reported in.
func reversed(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		out[len(edges)-1-i] = e
	}
	return out
}

// candidateRegions filters region by protection and the caller's filter.
func candidateRegions(regions []memtype.Region, filter func(memtype.Region) bool) []memtype.Region {
	var out []memtype.Region
	for _, r := range regions {
		if r.Deleted || !r.Protection.Has(memtype.ProtReadWrite) {
			continue
		}
		if filter != nil && !filter(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// regionContainsStable reports whether addr falls in one of the regions
// the search was restricted to, marking a chain as bottoming out in a
// stable base rather than needing another hop.
func regionContainsStable(regions []memtype.Region, addr memtype.Address) bool {
	for _, r := range regions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// candidatesFor scans regions for an aligned 8-byte value equal to target
// once both have their low 10 bits cleared by pointerMask (the same
// 1024-byte block), the masked-equality test the original pointer-chasing
// tool used to tolerate small allocator-granularity offsets between a
// pointer cell and its target. Values above target are returned too.
func candidatesFor(sess *session.Session, regions []memtype.Region, target memtype.Address) ([]memtype.Match, error) {
	src := fmt.Sprintf("={%d,%d}", uint64(target.Uintptr()), pointerMask)
	cmp, err := complang.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("pointerscan: building mask comparator: %w", err)
	}
	return sess.ScanIn(regions, cmp, []memtype.MatchTypeTag{memtype.U64}, pointerStep)
}
