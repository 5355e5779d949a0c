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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/transport"
)

// byteAtATimeReceiver hands back one byte per Read call, so every buffer
// is filled one byte at a time -- the "bit stream sent in 1-byte chunks"
// shape every scenario in spec.md §8 is framed around. It never reports
// ErrNoDataYet, so Receive runs to completion before any section check.
type byteAtATimeReceiver struct {
	data    []byte
	pos     int
	aborted bool
}

func (r *byteAtATimeReceiver) Read(n int) ([]byte, error) {
	if r.pos >= len(r.data) {
		return nil, io.EOF
	}
	p := r.data[r.pos : r.pos+1]
	r.pos++
	return p, nil
}

func (r *byteAtATimeReceiver) Aborted() bool { return r.aborted }

// receiveByteAtATime drives Receive to completion over raw, one byte per
// turn, returning the Content ready for streaming/sending.
func receiveByteAtATime(t *testing.T, raw []byte, bufferSize int) *message.Content {
	t.Helper()
	content := message.NewContent(0, 1000, 1)
	r := &byteAtATimeReceiver{data: raw}
	for i := 0; i < len(raw)+10; i++ {
		outcome, err := Receive(content, r, bufferSize)
		require.NoError(t, err)
		if outcome == ReceiveComplete {
			return content
		}
	}
	t.Fatal("receive never completed")
	return nil
}

// footerBytes is a short map8 footer with no entries.
func footerBytes() []byte {
	return []byte{0x00, 0x53, amqp1.CodeFooter, amqp1.TagMap8, 0x01, 0x00}
}

// Scenario 1: minimal message -- header, properties, one zero-length
// body-data. check_depth(BODY) reaches OK, next_stream_data yields one
// 0-byte BODY_OK then NO_MORE.
func TestScenario1MinimalMessageBodyOKThenNoMore(t *testing.T) {
	raw := minimalWireMessage()
	content := receiveByteAtATime(t, raw, 3)

	content.Lock()
	st := content.CheckDepth(amqp1.DepthBody)
	content.Unlock()
	require.Equal(t, amqp1.StatusOK, st)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	bs := NewBodyStreamer(handle)

	sd, outcome := bs.Next()
	require.Equal(t, StreamBodyOK, outcome)
	require.NotNil(t, sd)
	assert.Equal(t, 0, sd.Payload.ContentLen)
	sd.Release()

	sd, outcome = bs.Next()
	assert.Equal(t, StreamNoMore, outcome)
	assert.Nil(t, sd)
}

// Scenario 2: fanout streaming. Three independent handles each drain the
// same message through their own Send, one after another; buffers stay
// linked while the slow third handle has not passed them, each handle
// gets the full wire image, and none remain once all three are released.
func TestScenario2FanoutHandlesStreamIndependently(t *testing.T) {
	raw := minimalWireMessage()
	content := receiveFully(t, raw, 4)

	h1 := message.NewHandle(content)
	require.NoError(t, h1.AddFanout())
	h2 := h1.Copy()
	require.NoError(t, h2.AddFanout())
	h3 := h1.Copy()
	require.NoError(t, h3.AddFanout())

	s1 := transport.NewRecordingSender()
	s2 := transport.NewRecordingSender()
	s3 := transport.NewRecordingSender()

	// h1 and h2 race ahead of h3 -- the slow consumer.
	drainSend(t, h1, s1, false, 4, 1000)
	drainSend(t, h2, s2, false, 4, 1000)
	assert.Greater(t, content.Chain().Len(), 0, "h3 hasn't passed yet, buffers still pinned")

	drainSend(t, h3, s3, false, 4, 1000)

	h1.Release()
	h2.Release()
	h3.Release()

	assert.Equal(t, raw, s1.Out)
	assert.Equal(t, raw, s2.Out)
	assert.Equal(t, raw, s3.Out)
	assert.Equal(t, 0, content.Chain().Len())
}

// Scenario 3: oversize. A body-data section pushes the cumulative receive
// count past max_message_size; discard/oversize latch at that point and
// the rest of the transport's bytes are drained rather than chained.
func TestScenario3OversizeLatchesAndDrainsRemainder(t *testing.T) {
	content := message.NewContent(16, 1000, 1)
	var raw []byte
	raw = append(raw, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	body := make([]byte, 64)
	raw = append(raw, 0x00, 0x53, amqp1.CodeBodyData, amqp1.TagVbin8, byte(len(body)))
	raw = append(raw, body...)

	r := transport.NewSliceReceiver(raw, false)
	outcome, err := Receive(content, r, 8)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.True(t, content.Oversize())
	assert.True(t, content.Discard())
	assert.Less(t, content.Chain().TotalBytes(), len(raw))
}

// Scenario 4: mid-message abort. The transport reports EOF with Aborted
// true partway through a body-data section; receive_complete and aborted
// both latch, and a handle streaming the partial content releases its
// buffers without leaking.
func TestScenario4MidMessageAbortLatchesAndReleasesCleanly(t *testing.T) {
	content := message.NewContent(0, 1000, 1)
	var raw []byte
	raw = append(raw, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	raw = append(raw, 0x00, 0x53, amqp1.CodeBodyData, amqp1.TagVbin8, 0x08)
	raw = append(raw, 'h', 'a', 'l', 'f') // only half the declared 8-byte body

	r := transport.NewSliceReceiver(raw, true)
	outcome, err := Receive(content, r, 8)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.True(t, content.ReceiveComplete())
	assert.True(t, content.Aborted())

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	sender := transport.NewRecordingSender()
	sendOutcome, err := Send(handle, sender, false, 8, 1000)
	require.NoError(t, err)
	assert.Equal(t, SendComplete, sendOutcome)
	assert.Equal(t, 0, sender.AbortedAt())

	handle.Release()
	assert.Equal(t, 0, content.Chain().Len())
}

// Scenario 5: annotation rewrite. An inbound user annotation survives
// alongside an injected trace override when strip=false, and the
// properties section still parses right after the rewritten map.
func TestScenario5AnnotationRewriteKeepsUserBlobAndAddsOverride(t *testing.T) {
	raw := messageWithAnnotations("x-custom", "u")
	content := receiveFully(t, raw, 16)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	handle.Overrides.Trace = "r1"

	sender := transport.NewRecordingSender()
	drainSend(t, handle, sender, false, 16, 1000)

	cur := buffer.Cursor{Buf: headerBufFor(t, sender.Out)}
	_, st := amqp1.MatchNamedSection(&cur, amqp1.SectionHeader, false)
	require.Equal(t, amqp1.StatusOK, st) // the header precedes message-annotations
	loc, st := amqp1.MatchNamedSection(&cur, amqp1.SectionMessageAnnotations, false)
	require.Equal(t, amqp1.StatusOK, st)
	start := loc.Start()
	hdr, st := amqp1.ReadMapHeader(&start)
	require.Equal(t, amqp1.StatusOK, st)
	assert.Equal(t, 2, hdr.Count) // x-custom plus the trace override

	propLoc, st := amqp1.MatchNamedSection(&cur, amqp1.SectionProperties, false)
	require.Equal(t, amqp1.StatusOK, st)
	assert.True(t, propLoc.Parsed)
}

// Scenario 6: footer-only past body. Once every body-data section has
// been streamed, the next call yields the footer, then NO_MORE.
func TestScenario6FooterOnlyPastBodyThenNoMore(t *testing.T) {
	raw := append(append([]byte{}, minimalWireMessage()...), footerBytes()...)
	content := receiveByteAtATime(t, raw, 5)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	bs := NewBodyStreamer(handle)

	sd, outcome := bs.Next()
	require.Equal(t, StreamBodyOK, outcome)
	sd.Release()

	sd, outcome = bs.Next()
	require.Equal(t, StreamFooterOK, outcome)
	require.NotNil(t, sd)
	assert.Equal(t, 0, sd.Payload.ContentLen)
	sd.Release()

	sd, outcome = bs.Next()
	assert.Equal(t, StreamNoMore, outcome)
	assert.Nil(t, sd)
}

// Boundary: an empty body (no body-data/sequence/value section at all)
// streams straight to NO_MORE.
func TestBoundaryEmptyBodyYieldsNoMore(t *testing.T) {
	var raw []byte
	raw = append(raw, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	raw = append(raw, 0x00, 0x53, amqp1.CodeProperties, amqp1.TagList8, 0x03, 0x01, amqp1.TagStr8, 0x00)
	content := receiveFully(t, raw, 8)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	bs := NewBodyStreamer(handle)

	sd, outcome := bs.Next()
	assert.Equal(t, StreamNoMore, outcome)
	assert.Nil(t, sd)
}

// Boundary: a body-value body is not streamable; next_stream_data reports
// INVALID rather than attempting to interpret it as body-data.
func TestBoundaryBodyValueYieldsInvalid(t *testing.T) {
	var raw []byte
	raw = append(raw, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	raw = append(raw, 0x00, 0x53, amqp1.CodeBodyValue, amqp1.TagNull)
	content := receiveFully(t, raw, 8)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	bs := NewBodyStreamer(handle)

	sd, outcome := bs.Next()
	assert.Equal(t, StreamInvalid, outcome)
	assert.Nil(t, sd)
}
