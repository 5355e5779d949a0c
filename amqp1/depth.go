// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package amqp1

import "github.com/packetd/amqprouter/buffer"

// SectionLocations accumulates the FieldLocation recorded for each section
// as CheckDepth walks forward. Body-data sections are not individually
// recorded here beyond the first -- once the body's variant is known and
// BodyStart marks where it begins, the body streamer (router.BodyStreamer)
// walks body-data/footer independently with its own cursor, seeded from
// BodyStart, so it can hand back each section as a separate span instead of
// the single collapsed depth this parser needs.
type SectionLocations struct {
	Header                FieldLocation
	DeliveryAnnotations   FieldLocation
	MessageAnnotations    FieldLocation
	Properties            FieldLocation
	ApplicationProperties FieldLocation
	BodyStart             FieldLocation // first body-data/sequence/value section, whichever matched
	Footer                FieldLocation
	BodyVariant           byte // 0, or one of CodeBodyData/CodeBodySequence/CodeBodyValue
	NoBody                bool
}

var optionalOrder = []struct {
	kind SectionKind
	loc  func(*SectionLocations) *FieldLocation
}{
	{SectionHeader, func(s *SectionLocations) *FieldLocation { return &s.Header }},
	{SectionDeliveryAnnotations, func(s *SectionLocations) *FieldLocation { return &s.DeliveryAnnotations }},
	{SectionMessageAnnotations, func(s *SectionLocations) *FieldLocation { return &s.MessageAnnotations }},
	{SectionProperties, func(s *SectionLocations) *FieldLocation { return &s.Properties }},
	{SectionApplicationProperties, func(s *SectionLocations) *FieldLocation { return &s.ApplicationProperties }},
}

// CheckDepth advances depth as far as possible from cur, filling in locs
// for every section it confirms. It mirrors check_depth from spec.md §4.2:
//
//   - StatusOK: reached the requested target depth (or further).
//   - StatusNeedMore: a section is partially buffered; retry once more
//     bytes arrive. Sections confirmed before it have already advanced cur,
//     and the returned depth names the partial section, so a retry with the
//     same cursor and the returned depth resumes at that section's first
//     byte.
//   - StatusInvalid: a structural error (bad tag, or all three body
//     variants failed).
//
// shortCircuit indicates earlier buffers have already been freed because
// the body is being streamed through; in that case body/footer checks are
// skipped and StatusOK is returned immediately.
func CheckDepth(cur *buffer.Cursor, depth Depth, target Depth, locs *SectionLocations, receiveComplete bool, shortCircuit bool) (Depth, Status) {
	if shortCircuit && depth >= DepthBody {
		return DepthDone, StatusOK
	}

	for depth < target && depth < DepthDone {
		switch depth {
		case DepthHeader, DepthDeliveryAnnotations, DepthMessageAnnotations, DepthProperties, DepthApplicationProperties:
			step := optionalOrder[depth]
			loc, st := MatchNamedSection(cur, step.kind, false)
			switch st {
			case StatusOK:
				*step.loc(locs) = loc
				depth++
			case StatusNoMatch:
				// Optional section absent; stay put, move on.
				depth++
			case StatusNeedMore:
				if receiveComplete {
					// No more bytes will ever arrive: the section is
					// simply absent.
					depth++
					continue
				}
				return depth, StatusNeedMore
			case StatusInvalid:
				return depth, StatusInvalid
			}
		case DepthBody:
			st := checkBody(cur, locs, receiveComplete)
			if st != StatusOK {
				return depth, st
			}
			depth = DepthFooter
		case DepthFooter:
			loc, st := MatchNamedSection(cur, SectionFooter, false)
			switch st {
			case StatusOK:
				locs.Footer = loc
				depth = DepthDone
			case StatusNoMatch:
				depth = DepthDone
			case StatusNeedMore:
				if receiveComplete {
					depth = DepthDone
					continue
				}
				return depth, StatusNeedMore
			case StatusInvalid:
				return depth, StatusInvalid
			}
		}
	}
	return depth, StatusOK
}

// checkBody attempts body-data, then body-sequence, then body-value, in
// that order, per spec.md §4.2. Once a variant is confirmed, any further
// body-data sections are skipped greedily (the body may repeat body-data
// any number of times) until the next section's descriptor or end of
// buffered data is reached.
func checkBody(cur *buffer.Cursor, locs *SectionLocations, receiveComplete bool) Status {
	if locs.BodyVariant == 0 {
		loc, st := MatchNamedSection(cur, SectionBodyData, false)
		switch st {
		case StatusOK:
			locs.BodyVariant = CodeBodyData
			locs.BodyStart = loc
		case StatusNeedMore:
			if !receiveComplete {
				return StatusNeedMore
			}
			variant := CodeBodySequence
			loc, st = MatchNamedSection(cur, SectionBodySequence, false)
			if st == StatusNeedMore {
				variant = CodeBodyValue
				loc, st = MatchNamedSection(cur, SectionBodyValue, false)
			}
			if st != StatusOK {
				if receiveComplete {
					locs.NoBody = true
					return StatusOK
				}
				return StatusInvalid
			}
			locs.BodyVariant = variant
			locs.BodyStart = loc
			return StatusOK
		case StatusNoMatch:
			variant := CodeBodySequence
			loc, st = MatchNamedSection(cur, SectionBodySequence, false)
			if st == StatusNoMatch {
				variant = CodeBodyValue
				loc, st = MatchNamedSection(cur, SectionBodyValue, false)
			}
			switch st {
			case StatusOK:
				locs.BodyVariant = variant
				locs.BodyStart = loc
			case StatusNeedMore:
				return StatusNeedMore
			default:
				if receiveComplete {
					locs.NoBody = true
					return StatusOK
				}
				return StatusInvalid
			}
		case StatusInvalid:
			return StatusInvalid
		}
	}

	if locs.BodyVariant != CodeBodyData {
		return StatusOK
	}

	// Greedily consume further body-data sections already buffered.
	for {
		_, st := MatchNamedSection(cur, SectionBodyData, false)
		switch st {
		case StatusOK:
			continue
		case StatusNoMatch:
			return StatusOK
		case StatusNeedMore:
			if receiveComplete {
				return StatusOK
			}
			return StatusNeedMore
		case StatusInvalid:
			return StatusInvalid
		}
	}
}
