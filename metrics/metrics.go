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

// Package metrics exposes the engine's own operating counters: how deep
// buffer chains grow, how often Q2/Q3 backpressure engages, and how many
// deliveries get discarded or fail to parse. None of it crosses the wire;
// it is for whoever operates this engine, not for the AMQP peers it talks
// to.
package metrics

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/amqprouter/common"
)

// deliveryShards bounds the cardinality of the per-delivery counter vec:
// deliveries are bucketed by the low bits of an xxhash of their Content
// UUID rather than labeled by the UUID itself.
const deliveryShards = 16

var (
	// uptime mirrors the teacher's own "uptime" gauge: seconds since
	// common.Started() was latched at process init.
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "uptime",
		Help:      "Seconds since the process started.",
	}, func() float64 {
		return float64(time.Now().Unix() - common.Started())
	})

	chainDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: common.App,
		Name:      "chain_depth_buffers",
		Help:      "Number of buffers linked into a Content's chain when observed.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	buffersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "buffers_in_flight",
		Help:      "Buffers currently linked into any Content chain, across all deliveries.",
	})

	q2Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "q2_holdoff_transitions_total",
		Help:      "Count of Q2 receive-side holdoff engage/release transitions.",
	}, []string{"direction"})

	q3Stalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "q3_stalls_total",
		Help:      "Send loop turns that returned paused because the Q3 session-bytes threshold was reached.",
	})

	oversizeDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "oversize_discards_total",
		Help:      "Deliveries whose receive loop latched oversize and switched to discard mode.",
	})

	parseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "parse_errors_total",
		Help:      "Deliveries abandoned because section framing was malformed.",
	})

	deliveriesByShard = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "deliveries_total",
		Help:      "Completed deliveries, bucketed by a hash of the delivery's diagnostic id to bound label cardinality.",
	}, []string{"shard"})
)

// ObserveChainDepth records the current buffer count of a Content's chain.
func ObserveChainDepth(n int) {
	chainDepth.Observe(float64(n))
}

// SetBuffersInFlight reports the process-wide count of chained buffers.
func SetBuffersInFlight(n int) {
	buffersInFlight.Set(float64(n))
}

// Q2Entered records a receive loop latching Q2 holdoff.
func Q2Entered() {
	q2Transitions.WithLabelValues("enter").Inc()
}

// Q2Exited records a receive loop clearing Q2 holdoff.
func Q2Exited() {
	q2Transitions.WithLabelValues("exit").Inc()
}

// IncQ3Stall records a send loop turn that paused on the Q3 threshold.
func IncQ3Stall() {
	q3Stalls.Inc()
}

// IncOversizeDiscard records a delivery switching into discard mode.
func IncOversizeDiscard() {
	oversizeDiscards.Inc()
}

// IncParseError records a delivery abandoned to malformed framing.
func IncParseError() {
	parseErrors.Inc()
}

// ObserveDeliveryComplete records one completed delivery under the shard
// derived from its diagnostic id.
func ObserveDeliveryComplete(id uuid.UUID) {
	shard := xxhash.Sum64(id[:]) % deliveryShards
	deliveriesByShard.WithLabelValues(shardLabel(shard)).Inc()
}

func shardLabel(shard uint64) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[shard%16]})
}
