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

package transport

import (
	"io"

	"github.com/packetd/amqprouter/internal/zerocopy"
)

// SliceReceiver adapts a single already-buffered byte slice into a
// Receiver, wrapping internal/zerocopy.Buffer so replayed bytes are never
// copied. It is used both by tests and by hosts that reassemble whole
// deliveries upstream (e.g. from a message store) before handing them to
// this engine.
type SliceReceiver struct {
	buf     zerocopy.Buffer
	aborted bool
}

// NewSliceReceiver wraps p for zero-copy reading. If aborted is true,
// Aborted() reports true from the start, not only after the last byte; the
// receive loop consults it once Read returns io.EOF, mirroring a transport
// that delivers a full message but flags it as cancelled.
func NewSliceReceiver(p []byte, aborted bool) *SliceReceiver {
	return &SliceReceiver{buf: zerocopy.NewBuffer(p), aborted: aborted}
}

// Read implements Receiver.
func (s *SliceReceiver) Read(n int) ([]byte, error) {
	p, err := s.buf.Read(n)
	if err == io.EOF {
		return nil, io.EOF
	}
	return p, err
}

// Aborted implements Receiver.
func (s *SliceReceiver) Aborted() bool { return s.aborted }

// RecordingSender accumulates every byte passed to Send, for use in tests
// that assert on exact wire output. OutgoingBytes reports the number of
// bytes recorded so far, acting as its own Q3 accounting.
type RecordingSender struct {
	Out       []byte
	aborted   bool
	abortedAt int
}

// NewRecordingSender returns an empty RecordingSender.
func NewRecordingSender() *RecordingSender { return &RecordingSender{} }

// Send implements Sender.
func (s *RecordingSender) Send(p []byte) int {
	if s.aborted {
		return -1
	}
	s.Out = append(s.Out, p...)
	return len(p)
}

// OutgoingBytes implements Sender.
func (s *RecordingSender) OutgoingBytes() int { return len(s.Out) }

// Abort implements Sender.
func (s *RecordingSender) Abort() {
	s.aborted = true
	s.abortedAt = len(s.Out)
}

// AbortedAt returns how many bytes had been recorded at the moment Abort
// was called, or -1 if Abort was never called.
func (s *RecordingSender) AbortedAt() int {
	if !s.aborted {
		return -1
	}
	return s.abortedAt
}
