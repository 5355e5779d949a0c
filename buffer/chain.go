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

package buffer

// Chain is an ordered, doubly-linked sequence of Buf. It is used both as a
// message's body chain and as scratch field-buffer lists assembled by the
// composer glue (prefix/trailer lists for a rewritten section).
//
// Chain itself performs no locking; callers serialize access (the Content
// mutex for a message's main chain).
type Chain struct {
	head, tail *Buf
	length     int
}

// Len returns the number of buffers currently linked into the chain.
func (c *Chain) Len() int { return c.length }

// Head returns the first buffer, or nil if the chain is empty.
func (c *Chain) Head() *Buf { return c.head }

// Tail returns the last buffer, or nil if the chain is empty.
func (c *Chain) Tail() *Buf { return c.tail }

// Append links buf onto the tail of the chain.
func (c *Chain) Append(buf *Buf) {
	buf.prev = c.tail
	buf.next = nil
	if c.tail != nil {
		c.tail.next = buf
	} else {
		c.head = buf
	}
	c.tail = buf
	c.length++
}

// Remove unlinks buf from the chain. buf must currently be linked into c.
func (c *Chain) Remove(buf *Buf) {
	if buf.prev != nil {
		buf.prev.next = buf.next
	} else {
		c.head = buf.next
	}
	if buf.next != nil {
		buf.next.prev = buf.prev
	} else {
		c.tail = buf.prev
	}
	buf.prev, buf.next = nil, nil
	c.length--
}

// TotalBytes sums Len() across every linked buffer. O(n); intended for
// diagnostics and tests, not the hot path.
func (c *Chain) TotalBytes() int {
	n := 0
	for b := c.head; b != nil; b = b.Next() {
		n += b.Len()
	}
	return n
}

// Walk calls f for every buffer from head to tail. f must not mutate the
// chain's linkage; use Remove from the caller once iteration completes.
func (c *Chain) Walk(f func(*Buf)) {
	for b := c.head; b != nil; b = b.Next() {
		f(b)
	}
}
