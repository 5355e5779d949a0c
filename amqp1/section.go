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

// FieldLocation identifies a contiguous framed region within a buffer
// chain: it may span multiple buffers, but Buf/Offset always name where it
// starts. Immutable once Parsed is set -- the buffer it references is
// pinned against deletion by a fanout increment taken at match time when
// the caller asks for protection.
type FieldLocation struct {
	Buf        *buffer.Buf
	Offset     int
	HeaderLen  int
	ContentLen int
	Tag        byte
	Parsed     bool
}

// End returns a cursor positioned one byte past the field (header+content).
func (l FieldLocation) End() buffer.Cursor {
	c := buffer.Cursor{Buf: l.Buf, Pos: l.Offset}
	buffer.Advance(&c, l.HeaderLen+l.ContentLen)
	return c
}

// Start returns a cursor positioned at the field's first header byte.
func (l FieldLocation) Start() buffer.Cursor {
	return buffer.Cursor{Buf: l.Buf, Pos: l.Offset}
}

var (
	AllowedListTags = []byte{TagList0, TagList8, TagList32}
	AllowedMapTags  = []byte{TagMap8, TagMap32}
	AllowedBinTags  = []byte{TagVbin8, TagVbin32}
)

func tagAllowed(tag byte, allowed []byte) bool {
	for _, a := range allowed {
		if a == tag {
			return true
		}
	}
	return false
}

// matchDescriptor consumes a section descriptor ("00 53 <code>" or
// "00 80 00x7 <code>") from cur if present. It mutates cur only when it
// can commit to a verdict; on any non-OK verdict the caller is expected to
// restore cur from its own saved copy (MatchSection does this).
func matchDescriptor(cur *buffer.Cursor, code byte) Status {
	save := *cur

	var b0 byte
	if !buffer.NextOctet(cur, &b0) {
		*cur = save
		return StatusNeedMore
	}
	if b0 != 0x00 {
		*cur = save
		return StatusNoMatch
	}

	var b1 byte
	if !buffer.NextOctet(cur, &b1) {
		*cur = save
		return StatusNeedMore
	}

	switch b1 {
	case 0x53:
		var c byte
		if !buffer.NextOctet(cur, &c) {
			*cur = save
			return StatusNeedMore
		}
		if c != code {
			*cur = save
			return StatusNoMatch
		}
		return StatusOK
	case 0x80:
		rest := make([]byte, 8)
		for i := range rest {
			if !buffer.NextOctet(cur, &rest[i]) {
				*cur = save
				return StatusNeedMore
			}
		}
		for i := 0; i < 7; i++ {
			if rest[i] != 0x00 {
				*cur = save
				return StatusNoMatch
			}
		}
		if rest[7] != code {
			*cur = save
			return StatusNoMatch
		}
		return StatusOK
	default:
		*cur = save
		return StatusNoMatch
	}
}

// protectRange pins every buffer from start.Buf to end.Buf (inclusive)
// against deletion by incrementing its fanout counter.
func protectRange(start, end buffer.Cursor) {
	b := start.Buf
	for b != nil {
		b.IncFanout()
		if b == end.Buf {
			return
		}
		b = b.Next()
	}
}

// MatchSection implements message_section_check: given a descriptor code
// and the set of tags acceptable for the section body (anyTag for
// body-value, which accepts any primitive/compound), it reports whether
// the pattern is present at cur and, if so, records its FieldLocation and
// advances cur past the whole section.
//
//   - StatusOK: pattern found, full body present, cur advanced past it.
//   - StatusNoMatch: pattern not present (a different descriptor, or plain
//     body data) -- cur is unchanged.
//   - StatusInvalid: descriptor present but the body tag is unacceptable.
//   - StatusNeedMore: descriptor (or body) partially buffered -- cur is
//     unchanged, retry once more bytes arrive.
func MatchSection(cur *buffer.Cursor, code byte, allowed []byte, anyTag bool, protect bool) (FieldLocation, Status) {
	saved := *cur

	if st := matchDescriptor(cur, code); st != StatusOK {
		*cur = saved
		return FieldLocation{}, st
	}

	bodyStart := *cur
	var tag byte
	peek := *cur
	if !buffer.NextOctet(&peek, &tag) {
		*cur = saved
		return FieldLocation{}, StatusNeedMore
	}

	if anyTag {
		if categoryOf(tag) == catUnknown {
			*cur = saved
			return FieldLocation{}, StatusInvalid
		}
	} else if !tagAllowed(tag, allowed) {
		*cur = saved
		return FieldLocation{}, StatusInvalid
	}

	info, st := TraverseField(cur)
	if st != StatusOK {
		*cur = saved
		if st == StatusNeedMore {
			return FieldLocation{}, StatusNeedMore
		}
		return FieldLocation{}, StatusInvalid
	}

	loc := FieldLocation{
		Buf:        bodyStart.Buf,
		Offset:     bodyStart.Pos,
		HeaderLen:  info.HeaderLen,
		ContentLen: info.ContentLen,
		Tag:        info.Tag,
		Parsed:     true,
	}
	if protect {
		protectRange(bodyStart, *cur)
	}
	return loc, StatusOK
}

// SectionKind names one of the seven AMQP 1.0 message sections plus the
// three body variants.
type SectionKind int

const (
	SectionHeader SectionKind = iota
	SectionDeliveryAnnotations
	SectionMessageAnnotations
	SectionProperties
	SectionApplicationProperties
	SectionBodyData
	SectionBodySequence
	SectionBodyValue
	SectionFooter
)

type sectionSpec struct {
	code    byte
	allowed []byte
	anyTag  bool
}

var sectionTable = map[SectionKind]sectionSpec{
	SectionHeader:                {CodeHeader, AllowedListTags, false},
	SectionDeliveryAnnotations:   {CodeDeliveryAnnotations, AllowedMapTags, false},
	SectionMessageAnnotations:    {CodeMessageAnnotations, AllowedMapTags, false},
	SectionProperties:            {CodeProperties, AllowedListTags, false},
	SectionApplicationProperties: {CodeApplicationProps, AllowedMapTags, false},
	SectionBodyData:              {CodeBodyData, AllowedBinTags, false},
	SectionBodySequence:          {CodeBodySequence, AllowedListTags, false},
	SectionBodyValue:             {CodeBodyValue, nil, true},
	SectionFooter:                {CodeFooter, AllowedMapTags, false},
}

// MatchNamedSection looks up the descriptor/tag rules for kind and calls
// MatchSection.
func MatchNamedSection(cur *buffer.Cursor, kind SectionKind, protect bool) (FieldLocation, Status) {
	spec := sectionTable[kind]
	return MatchSection(cur, spec.code, spec.allowed, spec.anyTag, protect)
}
