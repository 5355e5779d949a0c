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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAddFanoutSeedsCursorAtHead(t *testing.T) {
	c := NewContent(0, 8, 2)
	buf := c.EnsurePending(4)
	buf.Append([]byte{1, 2, 3})

	h := NewHandle(c)
	require.NoError(t, h.AddFanout())

	require.True(t, h.IsFanout())
	assert.Equal(t, c.Chain().Head(), h.Cursor().Buf)
	assert.Equal(t, int32(1), c.Fanout())
	assert.Equal(t, int32(1), c.Chain().Head().Fanout())
}

func TestHandleAddFanoutTwiceErrors(t *testing.T) {
	c := NewContent(0, 8, 2)
	h := NewHandle(c)
	require.NoError(t, h.AddFanout())
	assert.ErrorIs(t, h.AddFanout(), ErrAlreadyFanoutParticipant)
}

func TestHandleCopySharesContentIncrementsRefCount(t *testing.T) {
	c := NewContent(0, 8, 2)
	h := NewHandle(c)
	h2 := h.Copy()
	assert.Same(t, c, h2.Content())
	assert.Equal(t, int32(1), c.Release()) // h's implicit ref
	assert.Equal(t, int32(0), c.Release()) // h2's ref from Copy
}

func TestHandleReleaseFreesBuffersAndUnblocksQ2(t *testing.T) {
	c := NewContent(0, 2, 1)

	buf1 := c.EnsurePending(4)
	buf1.Append([]byte{1, 2, 3, 4})

	h := NewHandle(c)
	require.NoError(t, h.AddFanout()) // commits buf1, seeds cursor at buf1, fanout=1

	buf2 := c.EnsurePending(4)
	buf2.Append([]byte{5, 6, 7, 8})
	c.Lock()
	c.CommitPending() // buf2 inherits the current fanout of 1
	fired := false
	c.SetQ2Unblocker(func() { fired = true })
	c.CheckQ2Upper()
	c.Unlock()
	require.True(t, c.Q2Holdoff())
	require.Equal(t, 2, c.Chain().Len())

	h.Release()

	assert.Equal(t, 0, c.Chain().Len())
	assert.Equal(t, int32(0), c.Fanout())
	assert.True(t, fired)
	assert.False(t, c.Q2Holdoff())
}

func TestHandleBumpDeliveryCountSharedOnContent(t *testing.T) {
	c := NewContent(0, 8, 2)
	h1 := NewHandle(c)
	h2 := h1.Copy()

	assert.Equal(t, uint32(1), h1.BumpDeliveryCount())
	assert.Equal(t, uint32(2), h2.BumpDeliveryCount())
	assert.Equal(t, uint32(2), c.DeliveryCount())
}
