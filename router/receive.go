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
	"errors"
	"io"

	"github.com/packetd/amqprouter/logger"
	"github.com/packetd/amqprouter/message"
	"github.com/packetd/amqprouter/metrics"
	"github.com/packetd/amqprouter/transport"
)

// ReceiveOutcome reports what one call to Receive accomplished.
type ReceiveOutcome int

const (
	// ReceivePaused means the loop stopped for this turn without the
	// delivery finishing -- either Q2 holdoff engaged, or the transport
	// has nothing more buffered right now. The caller should call Receive
	// again once either condition clears.
	ReceivePaused ReceiveOutcome = iota

	// ReceiveComplete means the delivery is fully received (cleanly or by
	// abort); Content.ReceiveComplete() is now true.
	ReceiveComplete
)

// Receive drives the receive loop (C7) for one delivery: pulls bytes from
// r into Content's pending buffer, commits full buffers to the chain
// under lock, applies the max-message-size cap, and toggles Q2 holdoff.
// bufferSize is the fixed capacity of each chain buffer (common.BufferSize
// in production).
func Receive(content *message.Content, r transport.Receiver, bufferSize int) (ReceiveOutcome, error) {
	for {
		if content.Discard() {
			return drain(content, r)
		}

		content.Lock()
		pending := content.EnsurePending(bufferSize)
		if pending.Full() {
			content.CommitPending()
			holdoff := content.CheckQ2Upper()
			depth := content.Chain().Len()
			content.Unlock()
			metrics.ObserveChainDepth(depth)
			if holdoff {
				metrics.Q2Entered()
				logger.Debugf("router: content %s entered Q2 holdoff", content.ID)
				return ReceivePaused, nil
			}
			continue
		}
		content.Unlock()

		avail := pending.Cap() - pending.Len()
		p, err := r.Read(avail)
		switch {
		case errors.Is(err, io.EOF):
			content.Lock()
			content.CommitPending()
			if r.Aborted() {
				content.SetAborted()
			}
			content.SetReceiveComplete()
			content.Unlock()
			return ReceiveComplete, nil
		case errors.Is(err, transport.ErrNoDataYet):
			content.Lock()
			content.CommitPending()
			content.Unlock()
			return ReceivePaused, nil
		case err != nil:
			content.Lock()
			content.CommitPending()
			content.SetAborted()
			content.SetReceiveComplete()
			content.Unlock()
			logger.Errorf("router: content %s receive failed: %v", content.ID, err)
			return ReceiveComplete, err
		}

		n := pending.Append(p)
		if content.RecordBytesReceived(n) {
			content.Lock()
			content.LatchDiscardOversize()
			content.Unlock()
			metrics.IncOversizeDiscard()
			logger.Warnf("router: content %s exceeded max message size, discarding", content.ID)
		}
	}
}

// drain routes transport bytes into a fixed-size throwaway sink while a
// Content is in discard mode (oversize or otherwise rejected), never
// growing the chain.
func drain(content *message.Content, r transport.Receiver) (ReceiveOutcome, error) {
	var d transport.Discard
	err := d.Drain(r)
	switch {
	case errors.Is(err, io.EOF):
		content.Lock()
		if r.Aborted() {
			content.SetAborted()
		}
		content.SetReceiveComplete()
		content.Unlock()
		return ReceiveComplete, nil
	case errors.Is(err, transport.ErrNoDataYet):
		return ReceivePaused, nil
	default:
		content.Lock()
		content.SetAborted()
		content.SetReceiveComplete()
		content.Unlock()
		return ReceiveComplete, err
	}
}
