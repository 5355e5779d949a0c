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

package buffer

// Cursor is a (buffer, offset) pair referring to an octet inside that
// buffer, or to its one-past-end sentinel. The section parser walks the
// chain entirely through a Cursor so it never has to linearize it.
type Cursor struct {
	Buf *Buf
	Pos int
}

// AtEnd reports whether no byte can be read at the cursor: it has no buffer
// at all, or it sits at the end of the last buffer currently linked into
// the chain. The cursor itself is not moved.
func (c Cursor) AtEnd() bool { return !CanAdvance(&c) }

// CanAdvance reports whether a byte can be read at the cursor. If the
// cursor sits at the end of its buffer and a next buffer exists, it is
// normalized to point at the base of that next buffer first -- this is a
// representation change only, the logical stream position is unchanged.
func CanAdvance(c *Cursor) bool {
	if c.Buf == nil {
		return false
	}
	for c.Pos >= c.Buf.Len() {
		if c.Buf.Next() == nil {
			return false
		}
		c.Buf = c.Buf.Next()
		c.Pos = 0
	}
	return true
}

// Advance moves the cursor forward by n bytes, crossing buffer boundaries.
// It returns false, leaving the cursor unchanged, if the chain does not
// contain n more bytes from the cursor's current position.
func Advance(c *Cursor, n int) bool {
	if n < 0 {
		return false
	}
	saved := *c
	remaining := n
	for remaining > 0 {
		if !CanAdvance(c) {
			*c = saved
			return false
		}
		avail := c.Buf.Len() - c.Pos
		take := avail
		if take > remaining {
			take = remaining
		}
		c.Pos += take
		remaining -= take
	}
	return true
}

// SpanHandler receives one contiguous run of bytes crossed by
// AdvanceGuarded. ctx is the caller-supplied opaque value.
type SpanHandler func(ctx any, p []byte)

// AdvanceGuarded behaves like Advance, but invokes handler once per
// buffer-spanning run of bytes it crosses (used to fire bytes at a
// transport without copying them into a linear scratch buffer first). If
// the chain ends before n bytes are consumed, it leaves the cursor at the
// chain's end and returns silently: this is the "best effort, fire and
// forget" mode used when streaming bytes downstream.
func AdvanceGuarded(c *Cursor, n int, handler SpanHandler, ctx any) {
	remaining := n
	for remaining > 0 {
		if !CanAdvance(c) {
			return
		}
		avail := c.Buf.Len() - c.Pos
		take := avail
		if take > remaining {
			take = remaining
		}
		if handler != nil && take > 0 {
			handler(ctx, c.Buf.Bytes()[c.Pos:c.Pos+take])
		}
		c.Pos += take
		remaining -= take
	}
}

// NextOctet reads one octet at the cursor and advances by one. It returns
// false without mutating out if no byte is available.
func NextOctet(c *Cursor, out *byte) bool {
	if !CanAdvance(c) {
		return false
	}
	*out = c.Buf.At(c.Pos)
	c.Pos++
	return true
}
