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
	"sync"

	"github.com/packetd/amqprouter/message"
)

// DeliverContext is the per-delivery slot a transport link attaches to a
// Handle across the lifetime of one inbound or outbound delivery
// (spec.md §4.7). It is the one place that knows how to ask the link for
// more credit when Q2 clears, so Content itself never has to know what a
// link is.
type DeliverContext struct {
	mu sync.Mutex

	handle             *message.Handle
	stripAnnotationsIn bool
	maxMessageSize     int64
	requestMore        func()
}

// Bind attaches handle to this context: maxMessageSize and
// stripAnnotationsIn travel with the delivery for the router loops to
// consult, and requestMore is wired as the Content's Q2 unblocker so that
// when the chain drains back below the low watermark the link is told to
// issue more receive credit.
func (dc *DeliverContext) Bind(handle *message.Handle, stripAnnotationsIn bool, maxMessageSize int64, requestMore func()) {
	dc.mu.Lock()
	dc.handle = handle
	dc.stripAnnotationsIn = stripAnnotationsIn
	dc.maxMessageSize = maxMessageSize
	dc.requestMore = requestMore
	dc.mu.Unlock()

	content := handle.Content()
	content.Lock()
	content.SetQ2Unblocker(requestMore)
	content.Unlock()
}

// Handle returns the bound handle, or nil if Clear has been called.
func (dc *DeliverContext) Handle() *message.Handle {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.handle
}

// StripAnnotationsIn reports whether the send loop should drop the
// inbound message-annotations entirely instead of merging overrides into
// them.
func (dc *DeliverContext) StripAnnotationsIn() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.stripAnnotationsIn
}

// MaxMessageSize returns the byte cap the receive loop enforces for this
// delivery, or 0 for unlimited.
func (dc *DeliverContext) MaxMessageSize() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.maxMessageSize
}

// Clear detaches the bound handle once its delivery has reached
// receive-complete, unwiring the Q2 unblocker so a later reuse of the
// Content can't fire a stale callback into a torn-down link.
func (dc *DeliverContext) Clear() {
	dc.mu.Lock()
	handle := dc.handle
	dc.handle = nil
	dc.requestMore = nil
	dc.mu.Unlock()

	if handle == nil {
		return
	}
	content := handle.Content()
	content.Lock()
	content.SetQ2Unblocker(nil)
	content.Unlock()
}
