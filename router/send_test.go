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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/amqprouter/amqp1"
	"github.com/packetd/amqprouter/buffer"
	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/transport"
)

// minimalWireMessage mirrors amqp1's own minimal-message fixture: short
// header, short properties, a short empty body-data.
func minimalWireMessage() []byte {
	var b []byte
	b = append(b, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	b = append(b, 0x00, 0x53, amqp1.CodeProperties, amqp1.TagList8, 0x03, 0x01, amqp1.TagStr8, 0x00)
	b = append(b, 0x00, 0x53, amqp1.CodeBodyData, amqp1.TagVbin8, 0x00)
	return b
}

// messageWithAnnotations prepends a short message-annotations map (one
// sym8/str8 pair) onto minimalWireMessage.
func messageWithAnnotations(key, val string) []byte {
	k := append([]byte{amqp1.TagSym8, byte(len(key))}, key...)
	v := append([]byte{amqp1.TagStr8, byte(len(val))}, val...)
	content := append(append([]byte{}, k...), v...)
	mapBytes := append([]byte{amqp1.TagMap8, byte(len(content) + 1), 2}, content...)

	var b []byte
	b = append(b, 0x00, 0x53, amqp1.CodeHeader, amqp1.TagList0)
	b = append(b, 0x00, 0x53, amqp1.CodeMessageAnnotations)
	b = append(b, mapBytes...)
	b = append(b, minimalWireMessage()[4:]...) // properties onward
	return b
}

// receiveFully drives Receive to completion over a fixed byte slice,
// returning the Content ready for Send.
func receiveFully(t *testing.T, raw []byte, bufferSize int) *message.Content {
	t.Helper()
	content := message.NewContent(0, 1000, 1)
	r := transport.NewSliceReceiver(raw, false)
	outcome, err := Receive(content, r, bufferSize)
	require.NoError(t, err)
	require.Equal(t, ReceiveComplete, outcome)
	return content
}

func drainSend(t *testing.T, handle *message.Handle, sender transport.Sender, stripIn bool, bufferSize, q3Units int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		outcome, err := Send(handle, sender, stripIn, bufferSize, q3Units)
		require.NoError(t, err)
		if outcome == SendComplete {
			return
		}
	}
	t.Fatal("send never completed")
}

func TestSendEmitsMinimalMessageVerbatimWithNoOverrides(t *testing.T) {
	raw := minimalWireMessage()
	content := receiveFully(t, raw, 8)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())

	sender := transport.NewRecordingSender()
	drainSend(t, handle, sender, false, 8, 1000)

	assert.Equal(t, raw, sender.Out)
	assert.True(t, handle.SendComplete())
}

func TestSendMergesOverridesIntoMessageAnnotations(t *testing.T) {
	raw := messageWithAnnotations("x-app-custom", "v1")
	content := receiveFully(t, raw, 16)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	handle.Overrides.To = "dest-override"

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
	assert.Equal(t, 2, hdr.Count) // original pair + the To override

	propLoc, st := amqp1.MatchNamedSection(&cur, amqp1.SectionProperties, false)
	require.Equal(t, amqp1.StatusOK, st)
	assert.True(t, propLoc.Parsed)
}

func TestSendStripAnnotationsInDropsOriginalPairs(t *testing.T) {
	raw := messageWithAnnotations("x-app-custom", "v1")
	content := receiveFully(t, raw, 16)

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	handle.Overrides.Trace = "r1"

	sender := transport.NewRecordingSender()
	drainSend(t, handle, sender, true, 16, 1000)

	cur := buffer.Cursor{Buf: headerBufFor(t, sender.Out)}
	_, st := amqp1.MatchNamedSection(&cur, amqp1.SectionHeader, false)
	require.Equal(t, amqp1.StatusOK, st) // the header precedes message-annotations
	loc, st := amqp1.MatchNamedSection(&cur, amqp1.SectionMessageAnnotations, false)
	require.Equal(t, amqp1.StatusOK, st)
	start := loc.Start()
	hdr, st := amqp1.ReadMapHeader(&start)
	require.Equal(t, amqp1.StatusOK, st)
	assert.Equal(t, 1, hdr.Count) // only the Trace override survives
}

func TestSendAbortedContentStopsImmediately(t *testing.T) {
	content := receiveFully(t, minimalWireMessage(), 8)
	content.Lock()
	content.SetAborted()
	content.Unlock()

	handle := message.NewHandle(content)
	require.NoError(t, handle.AddFanout())
	sender := transport.NewRecordingSender()

	outcome, err := Send(handle, sender, false, 8, 1000)
	require.NoError(t, err)
	assert.Equal(t, SendComplete, outcome)
	assert.True(t, handle.SendComplete())
	assert.Equal(t, 0, sender.AbortedAt())
}

func TestSendTwoFanoutHandlesEachFreeTheirOwnPassAndDrainContent(t *testing.T) {
	raw := minimalWireMessage()
	content := receiveFully(t, raw, 4) // force multiple small buffers

	h1 := message.NewHandle(content)
	require.NoError(t, h1.AddFanout())
	h2 := h1.Copy()
	require.NoError(t, h2.AddFanout())

	s1 := transport.NewRecordingSender()
	s2 := transport.NewRecordingSender()
	drainSend(t, h1, s1, false, 4, 1000)
	drainSend(t, h2, s2, false, 4, 1000)

	assert.Equal(t, raw, s1.Out)
	assert.Equal(t, raw, s2.Out)

	h1.Release()
	h2.Release()
	assert.Equal(t, 0, content.Chain().Len())
}

func headerBufFor(t *testing.T, b []byte) *buffer.Buf {
	t.Helper()
	buf := buffer.New(len(b))
	buf.Append(b)
	return buf
}
