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

// Package router wires buffer, amqp1, message, compose, and transport
// together into the engine's two hot loops: the receive loop (C7) that
// fills a Content from one inbound delivery, and the send loop (C8) that
// streams a fanout copy back out, rewriting its message-annotations
// section on the way (C10), plus the body streamer (C9).
package router

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "router: " + format
	return errors.Errorf(format, args...)
}
