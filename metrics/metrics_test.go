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

package metrics

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQ2TransitionsCountEnterAndExit(t *testing.T) {
	before := testutil.ToFloat64(q2Transitions.WithLabelValues("enter"))
	Q2Entered()
	assert.Equal(t, before+1, testutil.ToFloat64(q2Transitions.WithLabelValues("enter")))

	beforeExit := testutil.ToFloat64(q2Transitions.WithLabelValues("exit"))
	Q2Exited()
	assert.Equal(t, beforeExit+1, testutil.ToFloat64(q2Transitions.WithLabelValues("exit")))
}

func TestIncQ3StallIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(q3Stalls)
	IncQ3Stall()
	assert.Equal(t, before+1, testutil.ToFloat64(q3Stalls))
}

func TestIncOversizeDiscardIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(oversizeDiscards)
	IncOversizeDiscard()
	assert.Equal(t, before+1, testutil.ToFloat64(oversizeDiscards))
}

func TestIncParseErrorIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(parseErrors)
	IncParseError()
	assert.Equal(t, before+1, testutil.ToFloat64(parseErrors))
}

func TestSetBuffersInFlightReportsGaugeValue(t *testing.T) {
	SetBuffersInFlight(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(buffersInFlight))
}

func TestObserveDeliveryCompleteIncrementsExactlyOneShard(t *testing.T) {
	id := uuid.New()

	before := make([]float64, deliveryShards)
	for i := range before {
		before[i] = testutil.ToFloat64(deliveriesByShard.WithLabelValues(shardLabel(uint64(i))))
	}

	ObserveDeliveryComplete(id)

	moved := 0
	for i := range before {
		after := testutil.ToFloat64(deliveriesByShard.WithLabelValues(shardLabel(uint64(i))))
		if after != before[i] {
			assert.Equal(t, before[i]+1, after)
			moved++
		}
	}
	assert.Equal(t, 1, moved)
}

func TestShardLabelIsSingleHexDigit(t *testing.T) {
	for i := uint64(0); i < 16; i++ {
		l := shardLabel(i)
		require.Len(t, l, 1)
	}
}
