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

// Package message implements the shared Content object (C5) and the
// per-consumer Handle view over it (C6): the one mutex-guarded piece of
// state a received delivery's receive loop and every fanout send loop
// cooperate through.
package message

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
)

// annotationCache holds the lazily-parsed, frequently-read message
// annotation fields a router decision needs without re-walking the
// message-annotations map on every send. See SPEC_FULL.md's supplemented
// annotation-caching feature, grounded on qpid-dispatch's message.c.
type annotationCache struct {
	parsed  bool
	to      *string
	trace   *string
	ingress *string
	phase   *string
}

// Content is the shared, reference-counted parse state for one received
// delivery. Exactly one goroutine -- the receive loop -- ever writes
// Chain/pending/bytesReceived; every other field is read or written only
// while the embedded mutex is held.
type Content struct {
	sync.Mutex

	ID uuid.UUID

	chain   buffer.Chain
	pending *buffer.Buf

	parseCursor buffer.Cursor
	parseDepth  amqp1.Depth
	locs        amqp1.SectionLocations
	props       *amqp1.PropertyCache

	q2InputHoldoff   bool
	disableQ2Holdoff bool
	discard          bool
	oversize         bool
	aborted          bool
	receiveComplete  bool

	// streamedPast latches once FreeBufferLocked has unlinked any buffer
	// from the chain, wherever it sat relative to the parse position,
	// letting a later CheckDepth call short-circuit straight to done
	// instead of waiting on sections that can never be re-read.
	streamedPast bool

	bytesReceived  int64
	maxMessageSize int64

	q2Upper int
	q2Lower int

	q2Unblocker func()

	fanout   int32 // outbound consumers currently registered
	refCount atomic.Int32

	annotations annotationCache

	deliveryCount uint32
}

// NewContent allocates a Content for a new delivery. maxMessageSize of 0
// disables the size cap. q2Upper/q2Lower are buffer-count thresholds;
// q2Lower must be < q2Upper.
func NewContent(maxMessageSize int64, q2Upper, q2Lower int) *Content {
	c := &Content{
		ID:             uuid.New(),
		props:          amqp1.NewPropertyCache(),
		maxMessageSize: maxMessageSize,
		q2Upper:        q2Upper,
		q2Lower:        q2Lower,
	}
	c.refCount.Store(1)
	return c
}

// Chain returns the backing buffer chain. Callers must hold the Content
// lock for anything beyond read-only inspection.
func (c *Content) Chain() *buffer.Chain { return &c.chain }

// Pending returns the in-flight buffer not yet appended to the chain, or
// nil. Only the receive loop touches this.
func (c *Content) Pending() *buffer.Buf { return c.pending }

// EnsurePending returns the pending buffer, allocating one of the given
// capacity if none exists yet.
func (c *Content) EnsurePending(capacity int) *buffer.Buf {
	if c.pending == nil {
		c.pending = buffer.New(capacity)
	}
	return c.pending
}

// CommitPending appends the pending buffer to the chain with its fanout
// seeded from the current consumer count, and clears it. Must be called
// with the lock held. A nil or empty pending buffer is simply dropped.
func (c *Content) CommitPending() {
	if c.pending == nil {
		return
	}
	if c.pending.Len() > 0 {
		c.pending.SetFanout(c.fanout)
		wasEmpty := c.chain.Head() == nil
		c.chain.Append(c.pending)
		if wasEmpty {
			c.parseCursor = buffer.Cursor{Buf: c.chain.Head()}
		}
	}
	c.pending = nil
}

// RecordBytesReceived adds n to the running received-byte total and
// reports whether the message just crossed MaxMessageSize. The comparison
// is strictly-greater, not greater-or-equal: a message landing exactly on
// the limit is accepted.
func (c *Content) RecordBytesReceived(n int) bool {
	if n <= 0 {
		return false
	}
	c.bytesReceived += int64(n)
	return c.maxMessageSize > 0 && c.bytesReceived > c.maxMessageSize
}

// BytesReceived returns the running total of bytes read from the
// transport for this delivery.
func (c *Content) BytesReceived() int64 { return c.bytesReceived }

// LatchDiscardOversize marks the content for draining: further transport
// bytes are thrown away rather than chained. One-way latch.
func (c *Content) LatchDiscardOversize() {
	c.discard = true
	c.oversize = true
}

// Discard reports whether inbound bytes should be routed to the throwaway
// sink instead of the chain.
func (c *Content) Discard() bool { return c.discard }

// Oversize reports whether the delivery was latched for exceeding
// MaxMessageSize.
func (c *Content) Oversize() bool { return c.oversize }

// SetAborted latches the one-way abort flag. Every ongoing send aborts its
// outbound delivery on its next iteration once this is observed.
func (c *Content) SetAborted() { c.aborted = true }

// Aborted reports the current state of the abort latch.
func (c *Content) Aborted() bool { return c.aborted }

// SetReceiveComplete latches receive-complete and clears any registered
// Q2 unblocker, since no further receive-side progress will ever unblock.
func (c *Content) SetReceiveComplete() {
	c.receiveComplete = true
	c.q2Unblocker = nil
}

// ReceiveComplete reports whether the receive loop has finished appending
// bytes for this delivery (successfully or via abort).
func (c *Content) ReceiveComplete() bool { return c.receiveComplete }

// DisableQ2Holdoff turns off Q2 entirely for this content (used for
// connections exempted from flow control).
func (c *Content) DisableQ2Holdoff() { c.disableQ2Holdoff = true }

// CheckQ2Upper re-evaluates the high watermark after an append to the
// chain. Must be called with the lock held. Returns true the moment
// holdoff transitions on.
func (c *Content) CheckQ2Upper() bool {
	if c.disableQ2Holdoff || c.q2InputHoldoff {
		return false
	}
	if c.chain.Len() >= c.q2Upper {
		c.q2InputHoldoff = true
		return true
	}
	return false
}

// Q2Holdoff reports whether the receive loop is currently paused for Q2.
func (c *Content) Q2Holdoff() bool { return c.q2InputHoldoff }

// SetQ2Unblocker installs the callback fired the next time the chain
// drops below the low watermark while holdoff is set. At most one
// registered handler at a time.
func (c *Content) SetQ2Unblocker(f func()) { c.q2Unblocker = f }

// maybeUnblockQ2Locked re-checks the low watermark after a buffer free. It
// returns the captured unblocker (or nil) and clears holdoff/the
// unblocker slot under the lock; the caller invokes the returned func
// outside the lock to avoid re-entering the transport while holding it.
func (c *Content) maybeUnblockQ2Locked() func() {
	if !c.q2InputHoldoff || c.chain.Len() >= c.q2Lower {
		return nil
	}
	f := c.q2Unblocker
	c.q2InputHoldoff = false
	c.q2Unblocker = nil
	return f
}

// FreeBufferLocked decrements buf's fanout and, if it reaches zero,
// unlinks it from the chain. Must be called with the lock held. Returns
// the unblocker to invoke outside the lock, if this free cleared Q2.
func (c *Content) FreeBufferLocked(buf *buffer.Buf) func() {
	if buf.DecFanout() <= 0 {
		c.chain.Remove(buf)
		c.streamedPast = true
	}
	return c.maybeUnblockQ2Locked()
}

// AddFanoutParticipant registers one more outbound consumer by incrementing
// Content.fanout. The matching per-buffer increment (add_fanout's "increments
// every buffer's fanout count" step) happens in Handle.AddFanout, which walks
// the chain while holding the same lock; a participant only ever joins at
// chain head in this engine, per C6.
func (c *Content) AddFanoutParticipant() int32 {
	c.fanout++
	return c.fanout
}

// RemoveFanoutParticipant decrements Content.fanout when a fanout handle
// is dropped, after its buffers have already been released individually.
func (c *Content) RemoveFanoutParticipant() int32 {
	c.fanout--
	return c.fanout
}

// Fanout returns the current outbound-consumer count.
func (c *Content) Fanout() int32 { return c.fanout }

// AddRef increments the Content reference count (one per live Handle).
func (c *Content) AddRef() int32 { return c.refCount.Add(1) }

// Release decrements the reference count and, at zero, drops every
// remaining chain buffer and the pending buffer. Returns the count after
// decrement.
func (c *Content) Release() int32 {
	n := c.refCount.Add(-1)
	if n == 0 {
		c.Lock()
		defer c.Unlock()
		c.chain = buffer.Chain{}
		c.pending = nil
	}
	return n
}

// CheckDepth advances the shared parse cursor toward target, delegating
// to amqp1.CheckDepth. Must be called with the lock held -- check_depth is
// defined on the Content's one parse cursor, shared across every handle.
func (c *Content) CheckDepth(target amqp1.Depth) amqp1.Status {
	depth, st := amqp1.CheckDepth(&c.parseCursor, c.parseDepth, target, &c.locs, c.receiveComplete, c.streamedPast)
	c.parseDepth = depth
	return st
}

// Locations returns the section locations accumulated by CheckDepth so
// far. Safe to read only while holding the lock, or after receive_complete
// has latched.
func (c *Content) Locations() *amqp1.SectionLocations { return &c.locs }

// Properties returns the lazy positional-field cache over the properties
// section, creating it if this is the first access.
func (c *Content) Properties() *amqp1.PropertyCache {
	if c.props == nil {
		c.props = amqp1.NewPropertyCache()
	}
	return c.props
}

// SetParseCursor overwrites the shared parse cursor. CommitPending already
// seeds it at the head of the chain when the first buffer is committed;
// nothing in this module calls SetParseCursor.
func (c *Content) SetParseCursor(cur buffer.Cursor) { c.parseCursor = cur }

// BumpDeliveryCount increments the redelivery counter, mirroring
// qpid-dispatch's delivery-count bump on a rejected/released redelivery.
// It is exposed on Content because the count belongs to the delivery, not
// to any one fanout handle's view of it.
func (c *Content) BumpDeliveryCount() uint32 {
	c.deliveryCount++
	return c.deliveryCount
}

// DeliveryCount returns the current redelivery counter value.
func (c *Content) DeliveryCount() uint32 { return c.deliveryCount }

// fieldBytes copies out the content bytes named by loc, crossing buffer
// boundaries if necessary. Used only for the small, bounded reads the
// annotation cache and diagnostics need -- never on the body streaming
// path, which moves bytes without copying them.
func fieldBytes(loc amqp1.FieldLocation) []byte {
	cur := loc.Start()
	buffer.Advance(&cur, loc.HeaderLen)
	out := make([]byte, 0, loc.ContentLen)
	buffer.AdvanceGuarded(&cur, loc.ContentLen, func(ctx any, p []byte) {
		b := ctx.(*[]byte)
		*b = append(*b, p...)
	}, &out)
	return out
}

// knownAnnotationKeys are the message-annotation symbol keys this engine
// reads; everything else in the map is left alone and re-emitted verbatim
// by the composer.
const (
	AnnotationKeyTo      = "x-opt-to-override"
	AnnotationKeyTrace   = "x-opt-trace"
	AnnotationKeyIngress = "x-opt-ingress"
	AnnotationKeyPhase   = "x-opt-phase"
)

// ParseAnnotations lazily walks the message-annotations map (if present)
// once, caching the handful of well-known fields the router consults per
// send. Must be called with the lock held; safe to call repeatedly.
func (c *Content) ParseAnnotations() amqp1.Status {
	if c.annotations.parsed {
		return amqp1.StatusOK
	}
	c.annotations.parsed = true
	if !c.locs.MessageAnnotations.Parsed {
		return amqp1.StatusOK
	}

	cur := c.locs.MessageAnnotations.Start()
	hdr, st := amqp1.ReadMapHeader(&cur)
	if st != amqp1.StatusOK {
		return st
	}

	for i := 0; i < hdr.Count; i++ {
		keyStart := cur
		keyInfo, st := amqp1.TraverseField(&cur)
		if st != amqp1.StatusOK {
			return st
		}
		keyLoc := amqp1.FieldLocation{Buf: keyStart.Buf, Offset: keyStart.Pos, HeaderLen: keyInfo.HeaderLen, ContentLen: keyInfo.ContentLen, Tag: keyInfo.Tag}
		valStart := cur
		valInfo, st := amqp1.TraverseField(&cur)
		if st != amqp1.StatusOK {
			return st
		}
		valLoc := amqp1.FieldLocation{Buf: valStart.Buf, Offset: valStart.Pos, HeaderLen: valInfo.HeaderLen, ContentLen: valInfo.ContentLen, Tag: valInfo.Tag}

		key := string(fieldBytes(keyLoc))
		val := string(fieldBytes(valLoc))
		switch key {
		case AnnotationKeyTo:
			c.annotations.to = &val
		case AnnotationKeyTrace:
			c.annotations.trace = &val
		case AnnotationKeyIngress:
			c.annotations.ingress = &val
		case AnnotationKeyPhase:
			c.annotations.phase = &val
		}
	}
	return amqp1.StatusOK
}

// Annotation returns a cached annotation field by key (one of the
// annotationKey* constants), and whether it was present.
func (c *Content) Annotation(key string) (string, bool) {
	var p *string
	switch key {
	case AnnotationKeyTo:
		p = c.annotations.to
	case AnnotationKeyTrace:
		p = c.annotations.trace
	case AnnotationKeyIngress:
		p = c.annotations.ingress
	case AnnotationKeyPhase:
		p = c.annotations.phase
	}
	if p == nil {
		return "", false
	}
	return *p, true
}

// DebugString renders a single-line diagnostic summary: sections seen,
// chain footprint, fanout, and flow-control state. Never logged on the
// hot path -- for panic handlers and manual inspection only.
func (c *Content) DebugString() string {
	return fmt.Sprintf(
		"id=%s buffers=%d bytes=%d fanout=%d q2=%t discard=%t oversize=%t aborted=%t complete=%t no_body=%t",
		c.ID, c.chain.Len(), c.chain.TotalBytes(), c.fanout, c.q2InputHoldoff,
		c.discard, c.oversize, c.aborted, c.receiveComplete, c.locs.NoBody,
	)
}
