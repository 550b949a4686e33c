package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation counters, exposed on the status server's /metrics endpoint.
var (
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_cycles_total",
		Help: "Reconciliation cycles completed (including failed ones).",
	})
	CycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_cycle_failures_total",
		Help: "Cycles aborted by a snapshot failure or recovered panic.",
	})
	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_ticks_dropped_total",
		Help: "Scheduler ticks dropped because a cycle was still running.",
	})
	Matches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_matches_total",
		Help: "Match transactions accepted by the ledger.",
	})
	MatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_match_failures_total",
		Help: "Match transactions rejected by the ledger.",
	})
	Cancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keeper_cancels_total",
		Help: "Cancel transactions accepted by the ledger.",
	})

	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_open_orders",
		Help: "Open orders in the most recent snapshot.",
	})
	RetryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_retry_entries",
		Help: "Live (buy, sell) retry counters.",
	})
)
