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

	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/transport"
)

func TestReceiveFillsChainAndLatchesComplete(t *testing.T) {
	content := message.NewContent(0, 100, 10)
	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = byte(i)
	}
	r := transport.NewSliceReceiver(payload, false)

	outcome, err := Receive(content, r, 16)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.True(t, content.ReceiveComplete())
	assert.False(t, content.Aborted())
	assert.Equal(t, 30, content.Chain().TotalBytes())
}

func TestReceiveAbortedDeliveryLatches(t *testing.T) {
	content := message.NewContent(0, 100, 10)
	r := transport.NewSliceReceiver([]byte("partial"), true)

	outcome, err := Receive(content, r, 16)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.True(t, content.Aborted())
}

func TestReceiveOversizeLatchesDiscardAndDrains(t *testing.T) {
	content := message.NewContent(4, 100, 10)
	payload := []byte("this payload is well past four bytes")
	r := transport.NewSliceReceiver(payload, false)

	outcome, err := Receive(content, r, 8)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.True(t, content.Oversize())
	assert.True(t, content.Discard())
	assert.Less(t, content.Chain().TotalBytes(), len(payload))
}

// blockingReceiver returns ErrNoDataYet once, then io.EOF-equivalent data.
type blockingReceiver struct {
	calls int
	data  []byte
}

func (b *blockingReceiver) Read(n int) ([]byte, error) {
	b.calls++
	if b.calls == 1 {
		return nil, transport.ErrNoDataYet
	}
	if len(b.data) == 0 {
		return nil, io.EOF
	}
	take := n
	if take > len(b.data) {
		take = len(b.data)
	}
	p := b.data[:take]
	b.data = b.data[take:]
	return p, nil
}

func (b *blockingReceiver) Aborted() bool { return false }

func TestReceivePausesOnNoDataThenResumes(t *testing.T) {
	content := message.NewContent(0, 100, 10)
	r := &blockingReceiver{data: []byte("hello")}

	outcome, err := Receive(content, r, 16)
	require.NoError(t, err)
	assert.Equal(t, ReceivePaused, outcome)
	assert.False(t, content.ReceiveComplete())

	outcome, err = Receive(content, r, 16)
	require.NoError(t, err)
	assert.Equal(t, ReceiveComplete, outcome)
	assert.Equal(t, "hello", string(content.Chain().Head().Bytes()))
}

func TestReceiveEntersQ2HoldoffOnFullChain(t *testing.T) {
	content := message.NewContent(0, 2, 1)
	payload := make([]byte, 40)
	r := transport.NewSliceReceiver(payload, false)

	outcome, err := Receive(content, r, 8)
	require.NoError(t, err)
	assert.Equal(t, ReceivePaused, outcome)
	assert.True(t, content.Q2Holdoff())
	assert.False(t, content.ReceiveComplete())
}
