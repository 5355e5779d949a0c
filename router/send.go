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

package router

import (
	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
	"github.com/packetd/amqprouter/compose"
	"github.com/packetd/amqprouter/logger"
	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/metrics"
	"github.com/packetd/amqprouter/transport"
)

// SendOutcome reports what one call to Send accomplished.
type SendOutcome int

const (
	// SendPaused means the loop stopped for this turn without the
	// handle's delivery finishing -- either the Q3 stall threshold was
	// reached, or the chain has no more bytes buffered yet. Call Send
	// again once either condition clears.
	SendPaused SendOutcome = iota

	// SendComplete means this handle's delivery has been fully streamed
	// (or aborted); Handle.SendComplete() is now true.
	SendComplete
)

// Send drives the send loop (C8) for one fanout handle: on its first call
// it composes and emits the rewritten header through message-annotations
// (Phase A), then on every call it streams as much of the remainder as
// Q3 allows (Phase B). bufferSize x q3UpperUnits is the Q3 session-bytes
// stall threshold.
func Send(handle *message.Handle, sender transport.Sender, stripAnnotationsIn bool, bufferSize, q3UpperUnits int) (SendOutcome, error) {
	content := handle.Content()

	if content.Aborted() {
		handle.SetSendComplete()
		sender.Abort()
		return SendComplete, nil
	}

	if !handle.TagSent() {
		outcome, err := sendHeaderThroughAnnotations(handle, sender, stripAnnotationsIn)
		if outcome != SendComplete || err != nil {
			return outcome, err
		}
	}

	return streamRemainder(handle, sender, bufferSize*q3UpperUnits)
}

// sendHeaderThroughAnnotations implements Phase A: the inbound header and
// delivery-annotations sections are bit-copied, the message-annotations
// section is rewritten via compose.Annotations, and every deeper section
// is left for Phase B.
func sendHeaderThroughAnnotations(handle *message.Handle, sender transport.Sender, stripAnnotationsIn bool) (SendOutcome, error) {
	content := handle.Content()

	content.Lock()
	st := content.CheckDepth(amqp1.DepthProperties)
	locs := *content.Locations()
	content.Unlock()

	if st == amqp1.StatusNeedMore {
		return SendPaused, nil
	}
	if st != amqp1.StatusOK {
		metrics.IncParseError()
		return SendComplete, newError("content %s: malformed framing ahead of properties", content.ID)
	}

	boundary := buffer.Cursor{Buf: content.Chain().Head()}
	emitVerbatim := func(loc amqp1.FieldLocation) {
		if !loc.Parsed {
			return
		}
		// loc begins at the section's body tag; its descriptor begins at
		// boundary, the end of the previous section (or the chain head).
		cur := boundary
		end := loc.End()
		for cur.Buf != end.Buf {
			sendSpan(sender, cur.Buf.Bytes()[cur.Pos:])
			cur = buffer.Cursor{Buf: cur.Buf.Next()}
		}
		sendSpan(sender, cur.Buf.Bytes()[cur.Pos:end.Pos])
		boundary = end
	}
	emitVerbatim(locs.Header)
	emitVerbatim(locs.DeliveryAnnotations)

	plan, pst := compose.Annotations(compose.Overrides(handle.Overrides), locs.MessageAnnotations, stripAnnotationsIn)
	if pst != amqp1.StatusOK {
		metrics.IncParseError()
		return SendComplete, newError("content %s: bad message-annotations map", content.ID)
	}
	if plan.Emit {
		sendSpan(sender, plan.Header)
		if plan.UserBlobLen > 0 {
			cur := plan.UserBlobStart
			buffer.AdvanceGuarded(&cur, plan.UserBlobLen, sendSpan, sender)
		}
		sendSpan(sender, plan.Trailer)
	}
	if locs.MessageAnnotations.Parsed {
		boundary = locs.MessageAnnotations.End()
	}

	handle.SetCursor(boundary)
	handle.SetTagSent()
	handle.SetSentDepth(amqp1.DepthProperties)
	return SendComplete, nil
}

// sendSpan is a buffer.SpanHandler that forwards a contiguous run of
// bytes to a transport.Sender, used both for cross-buffer verbatim spans
// and for flat byte slices composed in memory.
func sendSpan(ctx any, p []byte) {
	sender := ctx.(transport.Sender)
	sender.Send(p)
}

// streamRemainder implements Phase B: stream from the handle's cursor to
// the end of the chain while the session's outgoing-byte count stays
// below the Q3 threshold, freeing buffers the moment this handle is the
// last consumer to pass them.
func streamRemainder(handle *message.Handle, sender transport.Sender, q3Threshold int) (SendOutcome, error) {
	content := handle.Content()

	for {
		if content.Aborted() {
			handle.SetSendComplete()
			sender.Abort()
			return SendComplete, nil
		}
		if sender.OutgoingBytes() >= q3Threshold {
			metrics.IncQ3Stall()
			return SendPaused, nil
		}

		cur := handle.Cursor()
		if !buffer.CanAdvance(&cur) {
			if content.ReceiveComplete() {
				handle.SetCursor(cur)
				handle.SetSendComplete()
				metrics.ObserveDeliveryComplete(content.ID)
				return SendComplete, nil
			}
			return SendPaused, nil
		}

		fromBuf := cur.Buf
		nextBuf := fromBuf.Next()
		avail := fromBuf.Len() - cur.Pos
		n := sender.Send(fromBuf.Bytes()[cur.Pos:fromBuf.Len()])
		if n < 0 {
			content.Lock()
			content.SetAborted()
			content.Unlock()
			handle.SetSendComplete()
			logger.Errorf("router: content %s send failed, aborting delivery", content.ID)
			return SendComplete, newError("content %s: transport refused bytes", content.ID)
		}
		if n == 0 {
			return SendPaused, nil
		}

		buffer.Advance(&cur, n)
		handle.BodyBuffer = fromBuf

		freeNow := n == avail && (nextBuf != nil || content.ReceiveComplete())
		if freeNow {
			// Re-point the cursor off fromBuf before it is unlinked below --
			// Chain.Remove clears fromBuf's own next pointer, and Release
			// must never walk back onto a buffer this pass already freed.
			// nextBuf==nil here means the whole chain has been drained.
			if nextBuf != nil {
				cur = buffer.Cursor{Buf: nextBuf, Pos: 0}
			} else {
				cur = buffer.Cursor{Buf: nil, Pos: 0}
			}

			content.Lock()
			unblock := content.FreeBufferLocked(fromBuf)
			content.Unlock()
			if unblock != nil {
				metrics.Q2Exited()
				unblock()
			}
		}

		handle.SetCursor(cur)

		done := !buffer.CanAdvance(&cur) && content.ReceiveComplete()
		if done {
			handle.SetSendComplete()
			metrics.ObserveDeliveryComplete(content.ID)
			return SendComplete, nil
		}
	}
}
