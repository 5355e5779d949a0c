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
	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/metrics"
)

// StreamOutcome reports what one BodyStreamer.Next call produced.
type StreamOutcome int

const (
	// StreamIncomplete means a body-data or footer descriptor is only
	// partially buffered; call Next again once more bytes arrive.
	StreamIncomplete StreamOutcome = iota

	// StreamInvalid means the body is framed as body-sequence or
	// body-value -- only body-data and footer are streamable this way --
	// or a section descriptor was malformed.
	StreamInvalid

	// StreamBodyOK means sd holds one body-data section's stripped
	// payload.
	StreamBodyOK

	// StreamFooterOK means sd holds the footer map's payload. This is
	// the last non-NoMore outcome a BodyStreamer ever produces.
	StreamFooterOK

	// StreamNoMore means every body-data section (and the footer, if
	// any) has already been yielded; sd is nil.
	StreamNoMore
)

// BodyStreamer yields a handle's body-data sections and trailing footer one
// at a time, each as a separately releasable StreamData, independent of the
// handle's ordinary send-loop byte cursor (streamRemainder). A consumer
// that wants to materialize each body chunk on its own -- rather than
// proxying raw bytes straight to a transport -- walks a BodyStreamer
// instead of calling Send.
//
// It keeps its own cursor into the chain, seeded from the Content's shared
// parse state the first time depth reaches the body, and never touches the
// handle's Cursor/SentDepth (those belong to the raw byte-streaming path).
type BodyStreamer struct {
	handle *message.Handle

	started       bool
	cursor        buffer.Cursor
	footerEmitted bool

	// prevStart is the start buffer of the previously emitted StreamData,
	// used only to compute FreePrev for the next one.
	prevStart *buffer.Buf
}

// NewBodyStreamer creates a BodyStreamer over handle. handle need not be a
// fanout participant; StreamData.Release is a no-op for a non-fanout
// handle.
func NewBodyStreamer(handle *message.Handle) *BodyStreamer {
	return &BodyStreamer{handle: handle}
}

// Next advances the streamer by one section. On StreamBodyOK/StreamFooterOK
// it returns a StreamData the caller should eventually Release; every other
// outcome returns a nil StreamData.
func (bs *BodyStreamer) Next() (*StreamData, StreamOutcome) {
	content := bs.handle.Content()

	content.Lock()
	st := content.CheckDepth(amqp1.DepthDone)
	locs := *content.Locations()
	receiveComplete := content.ReceiveComplete()
	content.Unlock()

	switch st {
	case amqp1.StatusNeedMore:
		return nil, StreamIncomplete
	case amqp1.StatusInvalid:
		return nil, StreamInvalid
	}

	if !bs.started {
		bs.started = true
		switch {
		case locs.NoBody:
			// Nothing to seed; fall straight through to the footer check
			// below on every call.
		case locs.BodyVariant != amqp1.CodeBodyData:
			metrics.IncParseError()
			return nil, StreamInvalid
		default:
			// CheckDepth has already matched this first section in full;
			// locs.BodyStart.Start() sits at its vbin tag, past the
			// descriptor, so re-running MatchNamedSection against it (as
			// the loop below does for every later section) would never see
			// a descriptor to match. Hand it back directly instead, using
			// whichever preceding section's end marks this descriptor's
			// start (the chain head if even the header was absent), and
			// seed the cursor at its end for the next call.
			sectionStart := bs.bodyDescriptorStart(&locs)
			bs.cursor = locs.BodyStart.End()
			return bs.emitBody(sectionStart, locs.BodyStart), StreamBodyOK
		}
	}

	if !locs.NoBody && !bs.footerEmitted {
		// Normalize onto the next buffer first if the previous section
		// left the cursor sitting exactly at its buffer's end -- otherwise
		// sectionStart below would name a buffer this streamer's own prior
		// span already claimed through its stop cursor, and this section's
		// Release would double-free it.
		buffer.CanAdvance(&bs.cursor)
		sectionStart := bs.cursor
		loc, st := amqp1.MatchNamedSection(&bs.cursor, amqp1.SectionBodyData, false)
		switch st {
		case amqp1.StatusOK:
			return bs.emitBody(sectionStart, loc), StreamBodyOK
		case amqp1.StatusInvalid:
			metrics.IncParseError()
			return nil, StreamInvalid
		case amqp1.StatusNeedMore:
			if !receiveComplete {
				return nil, StreamIncomplete
			}
			// No further bytes will ever arrive for another body-data
			// section; whatever follows is the footer or nothing.
		case amqp1.StatusNoMatch:
			// Not body-data: the footer's descriptor (or end of chain) is
			// sitting right where sectionStart left it. Fall through.
		}
	}

	if bs.footerEmitted {
		return nil, StreamNoMore
	}
	if !locs.Footer.Parsed {
		bs.footerEmitted = true
		return nil, StreamNoMore
	}
	return bs.emitFooter(locs.Footer), StreamFooterOK
}

// bodyDescriptorStart returns where the body's own section descriptor
// begins: the end of whichever section immediately before it was last
// actually present, or the chain head if the body is the very first thing
// in the message. Needed only once, to seed the first StreamData's start
// -- every later section's start is the streamer's own prior cursor.
func (bs *BodyStreamer) bodyDescriptorStart(locs *amqp1.SectionLocations) buffer.Cursor {
	cur := func() buffer.Cursor {
		switch {
		case locs.ApplicationProperties.Parsed:
			return locs.ApplicationProperties.End()
		case locs.Properties.Parsed:
			return locs.Properties.End()
		case locs.MessageAnnotations.Parsed:
			return locs.MessageAnnotations.End()
		case locs.DeliveryAnnotations.Parsed:
			return locs.DeliveryAnnotations.End()
		case locs.Header.Parsed:
			return locs.Header.End()
		default:
			return buffer.Cursor{Buf: bs.handle.Content().Chain().Head()}
		}
	}()

	// A preceding section's End() may sit exactly at its buffer's last
	// byte; normalize onto the next buffer so that buffer -- which belongs
	// to the preceding section, not the body -- is never claimed by this
	// streamer's span.
	buffer.CanAdvance(&cur)
	return cur
}

// emitBody strips the section descriptor (already excluded from loc by
// MatchSection, whose FieldLocation begins at the vbin tag) and the
// vbin8/vbin32 length header from loc, yielding just the content payload,
// and advances the body cursor past the section.
func (bs *BodyStreamer) emitBody(sectionStart buffer.Cursor, loc amqp1.FieldLocation) *StreamData {
	payloadStart := loc.Start()
	buffer.Advance(&payloadStart, loc.HeaderLen)
	payload := amqp1.FieldLocation{
		Buf:        payloadStart.Buf,
		Offset:     payloadStart.Pos,
		ContentLen: loc.ContentLen,
		Tag:        loc.Tag,
		Parsed:     true,
	}

	startBuf := sectionStart.Buf
	stop := bs.cursor
	var stopBuf *buffer.Buf
	if buffer.CanAdvance(&stop) {
		stopBuf = stop.Buf
	}

	freePrev := bs.prevStart != nil && bs.prevStart == startBuf
	bs.prevStart = startBuf

	return &StreamData{handle: bs.handle, start: startBuf, stop: stopBuf, Payload: payload, FreePrev: freePrev}
}

// emitFooter strips the descriptor and map header the same way emitBody
// strips vbin framing, then latches footerEmitted so the next Next call
// reports StreamNoMore.
//
// loc.HeaderLen/ContentLen come from TraverseField, which treats a map's
// count field as content rather than header (matching how ReadMapHeader
// draws the line differently -- its own HeaderLen is 3 for map8, 9 for
// map32, past TraverseField's 2/5). Payload strips that count field too,
// so it ends up holding only the map's key/value elements.
func (bs *BodyStreamer) emitFooter(loc amqp1.FieldLocation) *StreamData {
	// Same normalization as the body-data branch: if the last body-data
	// section ended exactly at a buffer boundary, push onto the next buffer
	// first so startBuf doesn't double-claim one the prior span's stop
	// cursor already excluded itself from but conceptually covered.
	buffer.CanAdvance(&bs.cursor)
	startBuf := bs.cursor.Buf
	if startBuf == nil {
		startBuf = loc.Buf
	}

	countWidth := 1
	if loc.Tag == amqp1.TagMap32 {
		countWidth = 4
	}
	payloadStart := loc.Start()
	buffer.Advance(&payloadStart, loc.HeaderLen+countWidth)
	payload := amqp1.FieldLocation{
		Buf:        payloadStart.Buf,
		Offset:     payloadStart.Pos,
		ContentLen: loc.ContentLen - countWidth,
		Tag:        loc.Tag,
		Parsed:     true,
	}

	freePrev := bs.prevStart != nil && bs.prevStart == startBuf
	bs.footerEmitted = true
	bs.prevStart = startBuf

	// The footer is always the last section this streamer yields, so its
	// span runs to the end of whatever remains linked into the chain.
	return &StreamData{handle: bs.handle, start: startBuf, stop: nil, Payload: payload, FreePrev: freePrev}
}

// StreamData is a caller-held receipt for one body-data or footer section a
// BodyStreamer has yielded: the stripped payload plus the span of buffers
// [start, stop) that section uniquely covers. Stop is exclusive and is
// either the buffer the streamer's cursor had reached by the time this
// section was cut, or nil if the span runs to the end of the chain (always
// true for the footer, the last section any BodyStreamer yields).
//
// Consecutive spans from the same BodyStreamer never overlap: each span's
// start is the previous call's end cursor, so a buffer shared by two
// sections (the first ends mid-buffer, the second starts in the same one)
// is included in the later span, not the earlier one -- the earlier span
// degenerates to start==stop and frees nothing. FreePrev records when that
// happened, purely as a diagnostic echo of the stranded-buffer case
// described by next_stream_data: Release's own [start, stop) walk already
// frees that buffer correctly without consulting it.
type StreamData struct {
	handle *message.Handle
	start  *buffer.Buf
	stop   *buffer.Buf

	// Payload is the section's content with its descriptor and
	// vbin8/vbin32 (or map8/32, for the footer) header already stripped.
	Payload amqp1.FieldLocation

	// FreePrev reports whether the previous StreamData's span shared its
	// start buffer with this one's.
	FreePrev bool
}

// NewStreamData captures a span of buffers a handle has already streamed,
// from start (inclusive) to stop (exclusive, nil meaning "to the end of
// the chain"). Exposed for callers streaming raw
// ranges outside of a BodyStreamer (see the stream_test.go fixtures).
func NewStreamData(handle *message.Handle, start, stop *buffer.Buf) *StreamData {
	return &StreamData{handle: handle, start: start, stop: stop}
}

// Release decrements the fanout counter of every buffer in [start, stop)
// under the shared Content lock, unlinks and frees any that drop to zero
// participants, and -- outside the lock -- fires the Q2 unblocker if
// freeing crossed the low watermark. A no-op for a non-fanout handle: its
// buffers are only ever owned by the chain itself and are freed as the
// send loop's own cursor advances past them (see streamRemainder).
func (sd *StreamData) Release() {
	if !sd.handle.IsFanout() {
		return
	}
	content := sd.handle.Content()

	var unblock func()
	content.Lock()
	for b := sd.start; b != nil && b != sd.stop; {
		next := b.Next()
		if f := content.FreeBufferLocked(b); f != nil {
			unblock = f
		}
		b = next
	}
	content.Unlock()

	if unblock != nil {
		metrics.Q2Exited()
		unblock()
	}
}
