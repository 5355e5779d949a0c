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

// Package compose builds the replacement message-annotations section a
// send loop emits in place of the inbound one (spec.md §4.5 Phase A):
// sections below message-annotations are bit-copied, but this one is
// rewritten so the router can add or strip routing keys without
// disturbing the rest of the wire image.
package compose

import (
	"encoding/binary"

	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
)

// Overrides carries the routing fields a send loop wants stamped onto the
// outbound message-annotations map. A zero value field is omitted.
type Overrides struct {
	To      string
	Trace   string
	Ingress string
	Phase   string
}

func (o Overrides) pairs() []struct{ key, val string } {
	var pairs []struct{ key, val string }
	add := func(k, v string) {
		if v != "" {
			pairs = append(pairs, struct{ key, val string }{k, v})
		}
	}
	add("x-opt-to-override", o.To)
	add("x-opt-trace", o.Trace)
	add("x-opt-ingress", o.Ingress)
	add("x-opt-phase", o.Phase)
	return pairs
}

// Plan is the output of Annotations: a small header to emit first (section
// descriptor, map32 constructor, and the composed key/value pairs), the
// span of the inbound map's own elements to stream through verbatim (the
// "user-annotations blob"), and a trailer emitted after it. The trailer is
// always empty in this engine -- composed fields are always placed ahead
// of the inbound ones, so nothing needs appending past the user blob --
// but the field is kept because a host that needs keys to win by
// last-one-wins precedence can still append to it.
type Plan struct {
	Header        []byte
	UserBlobStart buffer.Cursor
	UserBlobLen   int
	Trailer       []byte

	// Emit is false when there is nothing to send at all: no overrides and
	// no inbound pairs kept (no inbound message-annotations section, or
	// stripOriginal set). The send loop then skips the section entirely
	// instead of emitting an empty map.
	Emit bool
}

// Annotations plans the composed message-annotations section. original is
// the inbound section's FieldLocation, or the zero value if the delivery
// carried none. If stripOriginal is true, the inbound map's own key/value
// pairs are dropped and only the overrides are emitted.
func Annotations(overrides Overrides, original amqp1.FieldLocation, stripOriginal bool) (Plan, amqp1.Status) {
	pairs := overrides.pairs()

	includeOriginal := original.Parsed && !stripOriginal
	var userStart buffer.Cursor
	var userLen int
	var originalCount int

	if includeOriginal {
		// The base pointer for the verbatim span must be re-derived from
		// the original map's own buffer by re-reading its header, not
		// assumed from the outer section cursor: the map's header length
		// (3 bytes for map8, 9 for map32) varies with its own encoding,
		// independent of where the section happened to start parsing.
		start := original.Start()
		hdr, st := amqp1.ReadMapHeader(&start)
		if st != amqp1.StatusOK {
			return Plan{}, st
		}
		originalCount = hdr.Count
		userStart = start
		userLen = original.HeaderLen + original.ContentLen - hdr.HeaderLen
	}

	if len(pairs) == 0 && !includeOriginal {
		return Plan{Emit: false}, amqp1.StatusOK
	}

	totalCount := originalCount + len(pairs)

	header := make([]byte, 0, 16+estimatePairBytes(pairs))
	header = append(header, 0x00, 0x53, amqp1.CodeMessageAnnotations)
	header = append(header, amqp1.TagMap32)
	sizePos := len(header)
	header = append(header, 0, 0, 0, 0) // size placeholder, patched below
	countPos := len(header)
	header = appendUint32(header, uint32(totalCount*2))

	for _, p := range pairs {
		header = appendSym8(header, p.key)
		header = appendStr8(header, p.val)
	}

	// size covers everything from the count field onward, including the
	// user-annotations blob that will be streamed separately after header.
	size := (len(header) - countPos) + userLen
	binary.BigEndian.PutUint32(header[sizePos:], uint32(size))

	return Plan{
		Header:        header,
		UserBlobStart: userStart,
		UserBlobLen:   userLen,
		Emit:          true,
	}, amqp1.StatusOK
}

func estimatePairBytes(pairs []struct{ key, val string }) int {
	n := 0
	for _, p := range pairs {
		n += 2 + len(p.key) + 2 + len(p.val)
	}
	return n
}

func appendSym8(b []byte, s string) []byte {
	b = append(b, amqp1.TagSym8, byte(len(s)))
	return append(b, s...)
}

func appendStr8(b []byte, s string) []byte {
	b = append(b, amqp1.TagStr8, byte(len(s)))
	return append(b, s...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
