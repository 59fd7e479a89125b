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

// Package scanner drives an initial scan over a region list: for every
// requested type tag, it streams each eligible region through
// memstream.Streamer and hands every candidate word to a predicate,
// collecting the ones that accept into a match slice in (region,
// ascending address) order.
package scanner

import (
	"errors"
	"fmt"
	"log"

	"github.com/launix-de/memscan/matchstore"
	"github.com/launix-de/memscan/memstream"
	"github.com/launix-de/memscan/memtype"
	"github.com/launix-de/memscan/procaccess"
)

// ErrInvalidDescriptor reports that a Descriptor passed to Run is
// nonsensical (no type tags requested, no predicate supplied) rather
// than merely finding nothing.
var ErrInvalidDescriptor = errors.New("scanner: invalid descriptor")

// Descriptor is one scan request.
type Descriptor struct {
	TypeTags []memtype.MatchTypeTag

	// Step is the byte stride between candidate offsets. 0 substitutes the
	// narrowest requested type's width.
	Step int

	// RequiredProtection is the protection mask a region must carry every
	// bit of to be visited. Zero defaults to memtype.ProtReadWrite.
	RequiredProtection memtype.Protection

	Predicate matchstore.Predicate
}

// Run scans every region in regions that carries the descriptor's required
// protection bits, returning every accepted match in (region, ascending
// address) order. A read failure aborts only the region it occurred in;
// the scan continues with the next region rather than failing outright.
func Run(proc procaccess.Process, regions []memtype.Region, desc Descriptor) ([]memtype.Match, error) {
	if len(desc.TypeTags) == 0 {
		return nil, fmt.Errorf("scanner: no type tags requested: %w", ErrInvalidDescriptor)
	}
	if desc.Predicate == nil {
		return nil, fmt.Errorf("scanner: no predicate supplied: %w", ErrInvalidDescriptor)
	}

	required := desc.RequiredProtection
	if required == 0 {
		required = memtype.ProtReadWrite
	}

	step := desc.Step
	if step == 0 {
		step = narrowestWidth(desc.TypeTags)
		log.Printf("scanner: step 0 requested, substituting narrowest type width %d", step)
	}

	var out []memtype.Match
	for _, region := range regions {
		if region.Deleted || !region.Protection.Has(required) {
			continue
		}
		for _, tag := range desc.TypeTags {
			found, err := scanRegion(proc, region, tag, step, desc.Predicate)
			if err != nil {
				log.Printf("scanner: region %s-%s: %v, skipping remainder of region", region.Begin, region.End, err)
				break
			}
			out = append(out, found...)
		}
	}
	return out, nil
}

// narrowestWidth returns the smallest Width() among tags, defaulting to 1
// (U8's width) if tags is somehow empty.
func narrowestWidth(tags []memtype.MatchTypeTag) int {
	best := 0
	for _, t := range tags {
		w := t.Width()
		if w == 0 {
			continue
		}
		if best == 0 || w < best {
			best = w
		}
	}
	if best == 0 {
		best = 1
	}
	return best
}

// scanRegion streams one region for one type tag, emitting every candidate
// that pred accepts. A value is skipped, not erroring the whole region,
// whenever it would straddle past the end of the current window; the next
// chunk's carry mechanism only guarantees step-1 bytes of look-ahead, which
// can be narrower than width when several differently sized tags share one
// step, so the rare last-candidate-of-chunk case is silently dropped rather
// than misread.
func scanRegion(proc procaccess.Process, region memtype.Region, tag memtype.MatchTypeTag, step int, pred matchstore.Predicate) ([]memtype.Match, error) {
	width := tag.Width()
	stream, err := memstream.New(proc, region.Begin, region.End, step, memstream.DefaultChunkSize)
	if err != nil {
		return nil, err
	}

	var found []memtype.Match
	for stream.Next() {
		window := stream.Window()
		base := stream.WindowAddr()
		for o := 0; o+step <= len(window); o += step {
			if o+width > len(window) {
				continue
			}
			value := readScalar(window[o:o+width], width)
			addr := base.Add(uintptr(o))
			if !pred.EvalScalar(tag, value, value, addr) {
				continue
			}
			found = append(found, memtype.Match{
				Address:   addr,
				TypeTag:   tag,
				SizeBytes: width,
				LastValue: value,
			})
		}
	}
	if err := stream.Err(); err != nil {
		return found, err
	}
	return found, nil
}

// readScalar decodes up to 8 little-endian bytes into a uint64, the raw
// bit pattern for floating-point tags.
func readScalar(buf []byte, width int) uint64 {
	var v uint64
	for i := 0; i < width && i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}
