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

package amqp1

import "github.com/packetd/amqprouter/buffer"

// PropertyIndex names a positional element of the properties section list,
// in wire order.
type PropertyIndex int

const (
	PropMessageID PropertyIndex = iota
	PropUserID
	PropTo
	PropSubject
	PropReplyTo
	PropCorrelationID
	PropContentType
	PropContentEncoding
	PropAbsoluteExpiryTime
	PropCreationTime
	PropGroupID
	PropGroupSequence
	PropReplyToGroupID
	propertyCount
)

// PropertyCache walks the properties section's list elements lazily,
// caching each FieldLocation the first time it is requested so repeated
// access to the same field never re-walks the list.
type PropertyCache struct {
	locs        [propertyCount]FieldLocation
	known       [propertyCount]bool
	count       int
	next        int
	cur         buffer.Cursor
	initialized bool
}

// NewPropertyCache returns an empty cache bound to one properties section.
func NewPropertyCache() *PropertyCache {
	return &PropertyCache{count: -1}
}

func (pc *PropertyCache) init(properties FieldLocation) Status {
	if pc.initialized {
		return StatusOK
	}
	start := properties.Start()
	hdr, st := ReadListHeader(&start)
	if st != StatusOK {
		return st
	}
	pc.count = hdr.Count
	pc.cur = start
	pc.next = 0
	pc.initialized = true
	return StatusOK
}

// Get returns the FieldLocation for idx, walking forward from the last
// cached element if necessary. ok is false if the list is shorter than
// idx, or the element's tag is AMQP null -- both mean "absent" per
// spec.md §4.2.
func (pc *PropertyCache) Get(properties FieldLocation, idx PropertyIndex) (loc FieldLocation, ok bool, status Status) {
	if st := pc.init(properties); st != StatusOK {
		return FieldLocation{}, false, st
	}

	k := int(idx)
	if pc.known[k] {
		loc = pc.locs[k]
	} else {
		if k >= pc.count {
			return FieldLocation{}, false, StatusOK
		}
		for pc.next <= k {
			elemStart := pc.cur
			info, st := TraverseField(&pc.cur)
			if st != StatusOK {
				return FieldLocation{}, false, st
			}
			elemLoc := FieldLocation{
				Buf:        elemStart.Buf,
				Offset:     elemStart.Pos,
				HeaderLen:  info.HeaderLen,
				ContentLen: info.ContentLen,
				Tag:        info.Tag,
				Parsed:     true,
			}
			pc.known[pc.next] = true
			pc.locs[pc.next] = elemLoc
			pc.next++
		}
		loc = pc.locs[k]
	}

	if loc.Tag == TagNull {
		return FieldLocation{}, false, StatusOK
	}
	return loc, true, StatusOK
}
