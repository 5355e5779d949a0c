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

import (
	"encoding/binary"

	"github.com/packetd/amqprouter/buffer"
)

// Status is the outcome of a framing attempt: matching a tagged field, a
// section descriptor, or a whole section.
type Status int

const (
	StatusOK Status = iota
	StatusNoMatch
	StatusInvalid
	StatusNeedMore
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoMatch:
		return "NO_MATCH"
	case StatusInvalid:
		return "INVALID"
	case StatusNeedMore:
		return "NEED_MORE"
	default:
		return "UNKNOWN"
	}
}

// widthCategory classifies a tag by its high nibble, per the AMQP 1.0
// primitive width rules this engine needs to derive field size without
// decoding the value.
type widthCategory int

const (
	catUnknown widthCategory = iota
	catZero
	catFixed1
	catFixed2
	catFixed4
	catFixed8
	catFixed16
	catVar8
	catVar32
)

func categoryOf(tag byte) widthCategory {
	switch tag & 0xF0 {
	case 0x40:
		return catZero
	case 0x50:
		return catFixed1
	case 0x60:
		return catFixed2
	case 0x70:
		return catFixed4
	case 0x80:
		return catFixed8
	case 0x90:
		return catFixed16
	case 0xA0, 0xC0, 0xE0:
		return catVar8
	case 0xB0, 0xD0, 0xF0:
		return catVar32
	default:
		return catUnknown
	}
}

// FieldInfo describes one tagged field as traversed by TraverseField:
// the tag byte, the number of header bytes (tag + any size prefix) and the
// number of content bytes following the header.
type FieldInfo struct {
	Tag        byte
	HeaderLen  int
	ContentLen int
}

// TraverseField reads one tagged field at the cursor: it decodes the tag,
// decodes the size if the category carries one, and advances the cursor
// past the entire field (header + content). On StatusNeedMore the cursor
// is left unchanged so the caller can retry once more bytes arrive.
func TraverseField(cur *buffer.Cursor) (FieldInfo, Status) {
	saved := *cur

	var tag byte
	if !buffer.NextOctet(cur, &tag) {
		*cur = saved
		return FieldInfo{}, StatusNeedMore
	}

	info := FieldInfo{Tag: tag}
	switch categoryOf(tag) {
	case catZero:
		info.HeaderLen, info.ContentLen = 1, 0
	case catFixed1:
		info.HeaderLen, info.ContentLen = 1, 1
	case catFixed2:
		info.HeaderLen, info.ContentLen = 1, 2
	case catFixed4:
		info.HeaderLen, info.ContentLen = 1, 4
	case catFixed8:
		info.HeaderLen, info.ContentLen = 1, 8
	case catFixed16:
		info.HeaderLen, info.ContentLen = 1, 16
	case catVar8:
		var sizeByte byte
		if !buffer.NextOctet(cur, &sizeByte) {
			*cur = saved
			return FieldInfo{}, StatusNeedMore
		}
		info.HeaderLen = 2
		info.ContentLen = int(sizeByte)
	case catVar32:
		b := make([]byte, 4)
		for i := range b {
			if !buffer.NextOctet(cur, &b[i]) {
				*cur = saved
				return FieldInfo{}, StatusNeedMore
			}
		}
		info.HeaderLen = 5
		info.ContentLen = int(binary.BigEndian.Uint32(b))
	default:
		*cur = saved
		return FieldInfo{}, StatusInvalid
	}

	if info.ContentLen > 0 && !buffer.Advance(cur, info.ContentLen) {
		*cur = saved
		return FieldInfo{}, StatusNeedMore
	}
	return info, StatusOK
}

// ListHeader describes a list0/list8/list32 constructor: the element
// count and the number of bytes consumed by the tag, size prefix, and
// count sub-field (i.e. everything before the first element).
type ListHeader struct {
	Tag       byte
	Count     int
	HeaderLen int
}

// ReadListHeader reads a list constructor and leaves the cursor positioned
// at the first element. It does not validate that the full list body has
// arrived; callers walk elements one at a time with TraverseField and stop
// once Count elements have been consumed.
func ReadListHeader(cur *buffer.Cursor) (ListHeader, Status) {
	saved := *cur

	var tag byte
	if !buffer.NextOctet(cur, &tag) {
		*cur = saved
		return ListHeader{}, StatusNeedMore
	}

	switch tag {
	case TagList0:
		return ListHeader{Tag: tag, Count: 0, HeaderLen: 1}, StatusOK
	case TagList8:
		var size, count byte
		if !buffer.NextOctet(cur, &size) || !buffer.NextOctet(cur, &count) {
			*cur = saved
			return ListHeader{}, StatusNeedMore
		}
		return ListHeader{Tag: tag, Count: int(count), HeaderLen: 3}, StatusOK
	case TagList32:
		b := make([]byte, 8)
		for i := range b {
			if !buffer.NextOctet(cur, &b[i]) {
				*cur = saved
				return ListHeader{}, StatusNeedMore
			}
		}
		count := binary.BigEndian.Uint32(b[4:8])
		return ListHeader{Tag: tag, Count: int(count), HeaderLen: 9}, StatusOK
	default:
		*cur = saved
		return ListHeader{}, StatusInvalid
	}
}

// MapHeader describes a decoded map constructor. Count is the number of
// key/value entries, i.e. half the number of encoded elements.
type MapHeader struct {
	Tag       byte
	Count     int
	HeaderLen int
}

// ReadMapHeader reads a map constructor and leaves the cursor positioned at
// the first key. It rejects an odd element count, which the AMQP 1.0
// encoding never produces for a well-formed map.
func ReadMapHeader(cur *buffer.Cursor) (MapHeader, Status) {
	saved := *cur

	var tag byte
	if !buffer.NextOctet(cur, &tag) {
		*cur = saved
		return MapHeader{}, StatusNeedMore
	}

	var elems int
	var headerLen int
	switch tag {
	case TagMap8:
		var size, count byte
		if !buffer.NextOctet(cur, &size) || !buffer.NextOctet(cur, &count) {
			*cur = saved
			return MapHeader{}, StatusNeedMore
		}
		elems = int(count)
		headerLen = 3
	case TagMap32:
		b := make([]byte, 8)
		for i := range b {
			if !buffer.NextOctet(cur, &b[i]) {
				*cur = saved
				return MapHeader{}, StatusNeedMore
			}
		}
		elems = int(binary.BigEndian.Uint32(b[4:8]))
		headerLen = 9
	default:
		*cur = saved
		return MapHeader{}, StatusInvalid
	}

	if elems%2 != 0 {
		*cur = saved
		return MapHeader{}, StatusInvalid
	}
	return MapHeader{Tag: tag, Count: elems / 2, HeaderLen: headerLen}, StatusOK
}
