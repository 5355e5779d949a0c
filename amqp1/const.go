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

// Package amqp1 implements the subset of AMQP 1.0 encoding this engine
// needs to walk section framing without linearizing the buffer chain: the
// type-tag/length alphabet (C3) and the section descriptor matcher plus
// depth-driven parser (C4). It is not a general AMQP codec -- tags outside
// the alphabet below are only ever skipped, never decoded into values.
package amqp1

// Primitive type tags named in the engine's required alphabet.
const (
	TagNull       = 0x40
	TagTrue       = 0x41
	TagFalse      = 0x42
	TagUint0      = 0x43
	TagUlong0     = 0x44
	TagList0      = 0x45
	TagSmallUint  = 0x52
	TagSmallUlong = 0x53 // overlaps the short-descriptor "0x53" lead byte; disambiguated by position, only a body tag.
	TagBoolean    = 0x56
	TagTimestamp  = 0x83
	TagUUID       = 0x98
	TagVbin8      = 0xA0
	TagStr8       = 0xA1
	TagSym8       = 0xA3
	TagVbin32     = 0xB0
	TagStr32      = 0xB1
	TagSym32      = 0xB3
	TagList8      = 0xC0
	TagMap8       = 0xC1
	TagList32     = 0xD0
	TagMap32      = 0xD1
	TagArray8     = 0xE0
	TagArray32    = 0xF0
)

// Section descriptor codes, carried in the last byte of either descriptor
// form (see Section). Values 0x70..0x78 per spec.
const (
	CodeHeader             byte = 0x70
	CodeDeliveryAnnotations byte = 0x71
	CodeMessageAnnotations byte = 0x72
	CodeProperties         byte = 0x73
	CodeApplicationProps   byte = 0x74
	CodeBodyData           byte = 0x75
	CodeBodySequence       byte = 0x76
	CodeBodyValue          byte = 0x77
	CodeFooter             byte = 0x78
)

// Depth enumerates the fixed AMQP 1.0 section order the parser advances
// through one step at a time.
type Depth int

const (
	DepthHeader Depth = iota
	DepthDeliveryAnnotations
	DepthMessageAnnotations
	DepthProperties
	DepthApplicationProperties
	DepthBody
	DepthFooter
	DepthDone
)

// descriptorShortLen and descriptorLongLen are the two accepted on-wire
// descriptor forms: "00 53 <code>" and "00 80 00 00 00 00 00 00 00 <code>".
const (
	descriptorShortLen = 3
	descriptorLongLen  = 10
)
