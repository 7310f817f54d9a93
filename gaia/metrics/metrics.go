// Copyright 2024 The Gaia Authors
// This file is part of Gaia.
//
// Gaia is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gaia is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Gaia. If not, see <http://www.gnu.org/licenses/>.

// Package metrics holds process-wide Prometheus collectors for §5's
// resource model (caches, pending-op counts, and RPC latency are all
// process-shared state). No other package in this module records to them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheLookups counts InnerNodeCache/ConsistentCache lookups by
	// cache name and outcome ("hit"/"miss").
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by cache name and outcome.",
	}, []string{"cache", "outcome"})

	// RPCLatency observes per-RPC-kind round-trip latency in seconds.
	RPCLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gaia",
		Subsystem: "rpc",
		Name:      "latency_seconds",
		Help:      "RPC round-trip latency by RPC kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"rpc"})

	// SplitQueueDepth reports the current split-queue depth per coid
	// string (the throttle's first signal, §4.6).
	SplitQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gaia",
		Subsystem: "splitter",
		Name:      "queue_depth",
		Help:      "Current split-queue depth per coid.",
	}, []string{"coid"})

	// PendingOps counts pending-operation-log entries installed, by
	// operation type (add/delrange/attrset).
	PendingOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "txn",
		Name:      "pending_ops_total",
		Help:      "Pending-operation-log entries installed, by type.",
	}, []string{"type"})

	// Commits counts transaction commit outcomes (commit/abort).
	Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "txn",
		Name:      "commits_total",
		Help:      "Transaction commit outcomes.",
	}, []string{"outcome"})
)

// MustRegister registers every collector above with reg. Call once at
// process startup; passing prometheus.NewRegistry() keeps tests
// isolated from the global DefaultRegisterer.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(CacheLookups, RPCLatency, SplitQueueDepth, PendingOps, Commits)
}
