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

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "amqp1: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrUnknownTag names the case of a type tag that does not belong to
	// any of the width categories this package understands. TraverseField
	// itself reports that case as StatusInvalid, not as this error.
	ErrUnknownTag = newError("unknown type tag")

	// ErrBadListHeader names the case of a non-list constructor tag handed
	// to ReadListHeader, which itself reports it as StatusInvalid.
	ErrBadListHeader = newError("not a list constructor")
)
