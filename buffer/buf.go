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

// Package buffer implements the fixed-capacity, reference-counted buffer
// chain a Content streams through. A chain is the only place message bytes
// live: the receive loop appends to its tail, send loops and the body
// streamer walk it with a Cursor, and buffers are unlinked the moment their
// fanout counter reaches zero.
package buffer

import "sync/atomic"

// Buf is a fixed-capacity byte buffer with a fanout counter and links into
// a doubly-linked Chain.
//
// fanout is only ever touched while the owning Content's mutex is held; it
// is an atomic.Int32 purely so callers that already hold the lock can still
// use atomic.Add/Load without a second synchronization primitive getting
// in the way of that discipline.
type Buf struct {
	b    []byte
	size int

	fanout atomic.Int32

	prev, next *Buf
}

// New allocates a Buf with the given fixed capacity.
func New(capacity int) *Buf {
	return &Buf{b: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (buf *Buf) Cap() int { return cap(buf.b) }

// Len returns the number of filled bytes.
func (buf *Buf) Len() int { return buf.size }

// Full reports whether the buffer has no remaining capacity.
func (buf *Buf) Full() bool { return buf.size >= cap(buf.b) }

// Bytes returns the filled portion of the buffer. The caller must not
// retain it past the buffer's release back to a pool, and must not mutate
// it once the bytes have been framed into a FieldLocation.
func (buf *Buf) Bytes() []byte { return buf.b[:buf.size] }

// At returns the byte at offset i within the filled region.
func (buf *Buf) At(i int) byte { return buf.b[i] }

// Append copies as much of p as fits into remaining capacity and returns
// the number of bytes consumed.
func (buf *Buf) Append(p []byte) int {
	n := copy(buf.b[buf.size:], p)
	buf.size += n
	return n
}

// Fanout returns the current fanout counter value.
func (buf *Buf) Fanout() int32 { return buf.fanout.Load() }

// SetFanout initializes the fanout counter. Called once, by the receive
// loop, when the buffer is appended to the chain.
func (buf *Buf) SetFanout(n int32) { buf.fanout.Store(n) }

// IncFanout increments the fanout counter, pinning the buffer against an
// additional consumer (a new fanout handle, or protect_buffer on a MATCHed
// section).
func (buf *Buf) IncFanout() int32 { return buf.fanout.Add(1) }

// DecFanout decrements the fanout counter and returns the new value. The
// caller is responsible for unlinking the buffer once it reaches zero.
func (buf *Buf) DecFanout() int32 { return buf.fanout.Add(-1) }

// Next returns the next buffer in the chain, or nil.
func (buf *Buf) Next() *Buf { return buf.next }

// Prev returns the previous buffer in the chain, or nil.
func (buf *Buf) Prev() *Buf { return buf.prev }
