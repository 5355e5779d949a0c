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

package message

import (
	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
)

// Overrides carries the per-handle fields a fanout send composes into its
// outbound message-annotations section, replacing or augmenting whatever
// the inbound delivery carried.
type Overrides struct {
	To      string
	Trace   string
	Ingress string
	Phase   string
}

// Handle is a per-consumer view over a shared Content: the receive loop
// owns the one writer handle, and every fanout copy gets its own reader
// handle via Copy. Only the owning goroutine touches a Handle's fields --
// the Content they share is the only state under lock.
type Handle struct {
	content *Content

	cursor       buffer.Cursor
	sentDepth    amqp1.Depth
	sendComplete bool
	tagSent      bool
	isFanout     bool

	// BodyBuffer records the buffer the send loop (router.Send, Phase B)
	// last sent bytes from for this handle. Nothing in this module reads
	// it back; StreamData.Release walks its own [start, stop) span.
	BodyBuffer *buffer.Buf

	Overrides Overrides
}

// NewHandle creates the sole writer handle for a freshly created Content.
func NewHandle(c *Content) *Handle {
	return &Handle{content: c}
}

// Content returns the handle's backing Content.
func (h *Handle) Content() *Content { return h.content }

// Copy clones per-handle state (cursor, overrides) onto a new reader
// handle over the same Content, incrementing its reference count. The new
// handle reads but never writes the shared parse state.
func (h *Handle) Copy() *Handle {
	h.content.AddRef()
	return &Handle{
		content:   h.content,
		cursor:    h.cursor,
		sentDepth: h.sentDepth,
		Overrides: h.Overrides,
	}
}

// AddFanout marks h as a fanout participant: registers it with the
// Content's fanout count, pins every buffer currently in the chain on its
// behalf, and seeds its read cursor at the chain head (flushing any
// pending-only buffer first so there is something to point at).
func (h *Handle) AddFanout() error {
	if h.isFanout {
		return ErrAlreadyFanoutParticipant
	}

	h.content.Lock()
	defer h.content.Unlock()

	if h.content.pending != nil && h.content.pending.Len() > 0 {
		h.content.CommitPending()
	}

	h.content.AddFanoutParticipant()
	h.isFanout = true

	head := h.content.chain.Head()
	for b := head; b != nil; b = b.Next() {
		b.IncFanout()
	}
	h.cursor = buffer.Cursor{Buf: head}
	return nil
}

// IsFanout reports whether this handle has joined the Content's fanout set.
func (h *Handle) IsFanout() bool { return h.isFanout }

// Cursor returns the handle's current read position.
func (h *Handle) Cursor() buffer.Cursor { return h.cursor }

// SetCursor updates the handle's read position. Only the owning goroutine
// calls this.
func (h *Handle) SetCursor(cur buffer.Cursor) { h.cursor = cur }

// SentDepth/SetSentDepth track how far this handle's outbound framing has
// progressed through the fixed section order, independent of the shared
// parse depth on Content.
func (h *Handle) SentDepth() amqp1.Depth     { return h.sentDepth }
func (h *Handle) SetSentDepth(d amqp1.Depth) { h.sentDepth = d }
func (h *Handle) SendComplete() bool         { return h.sendComplete }
func (h *Handle) SetSendComplete()           { h.sendComplete = true }
func (h *Handle) TagSent() bool              { return h.tagSent }
func (h *Handle) SetTagSent()                { h.tagSent = true }

// BumpDeliveryCount increments the shared delivery-count on this handle's
// Content, used when a rejected or released delivery is redelivered.
func (h *Handle) BumpDeliveryCount() uint32 { return h.content.BumpDeliveryCount() }

// Release walks the chain forward from the handle's read cursor,
// decrementing each buffer's fanout and unlinking any that reach zero,
// then decrements Content.fanout (if this handle had joined fanout) and
// the Content reference count. Any unblocker captured by a buffer free is
// invoked after the lock is released.
func (h *Handle) Release() {
	var unblock func()

	h.content.Lock()
	if h.isFanout {
		for b := h.cursor.Buf; b != nil; {
			next := b.Next()
			if f := h.content.FreeBufferLocked(b); f != nil {
				unblock = f
			}
			b = next
		}
		h.content.RemoveFanoutParticipant()
	}
	h.content.Unlock()

	if unblock != nil {
		unblock()
	}
	h.content.Release()
}
