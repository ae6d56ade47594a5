package keeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rebalancesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnv_rebalances_executed_total",
		Help: "Debt corrections executed, by pair and direction.",
	}, []string{"pair", "direction"})

	rebalancesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnv_rebalances_skipped_total",
		Help: "Trigger checks that found the debt ratio already in band.",
	}, []string{"pair"})

	rebalancesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dnv_rebalances_failed_total",
		Help: "Debt corrections that aborted with an error.",
	}, []string{"pair"})

	debtRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnv_pool_debt_ratio",
		Help: "Last observed debt/owned ratio per pool.",
	}, []string{"pair"})

	shareSupply = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnv_pool_share_supply",
		Help: "Outstanding pool shares in display units.",
	}, []string{"pair"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dnv_keeper_cycle_duration_seconds",
		Help:    "Wall time of one keeper cycle over all pools.",
		Buckets: prometheus.DefBuckets,
	})
)
