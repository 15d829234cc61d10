package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSlicesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slicegate",
		Name:      "slices_built_total",
		Help:      "Slices successfully constructed, by policy id.",
	}, []string{"policy"})
	metricSliceBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slicegate",
		Name:      "slice_build_seconds",
		Help:      "Slice construction latency.",
		Buckets:   prometheus.DefBuckets,
	})
	metricTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "slicegate",
		Name:      "tokens_issued_total",
		Help:      "Admissibility tokens issued.",
	})
	metricTokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slicegate",
		Name:      "token_verifications_total",
		Help:      "Token verification outcomes.",
	}, []string{"result"})
	metricBatchItems = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "slicegate",
		Name:      "batch_items_total",
		Help:      "Batch items processed.",
	})
	metricPoliciesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "slicegate",
		Name:      "policies_registered",
		Help:      "Policy versions committed in the registry.",
	})
)
