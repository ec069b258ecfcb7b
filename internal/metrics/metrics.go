// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_positions_opened_total",
		Help: "Positions opened, market and limit execution combined.",
	})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_positions_closed_total",
		Help: "Positions closed, labelled by reason (user, liquidation).",
	}, []string{"reason"})

	OrdersExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_orders_executed_total",
		Help: "Limit orders executed by the coordinator.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_orders_cancelled_total",
		Help: "Limit orders cancelled by their owner.",
	})

	ExecutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_execution_failures_total",
		Help: "Claimed executions that failed and were released back to pending.",
	})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_claim_conflicts_total",
		Help: "Lost claim races on orders or positions.",
	})

	InvalidTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_invalid_ticks_total",
		Help: "Price ticks discarded for failing validation.",
	})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_invariant_violations_total",
		Help: "Detected ledger or lifecycle invariant breaks. Any nonzero value pages.",
	})

	BonusConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "margin_bonus_consumed_total",
		Help: "Bonus amount consumed absorbing close losses.",
	})
)
