package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waypoint_queries_total",
		Help: "Shortest path queries, by outcome.",
	}, []string{"result"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waypoint_query_duration_seconds",
		Help:    "Time to answer a shortest path query.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	queryRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waypoint_query_rounds",
		Help:    "UpdateSearch rounds needed per query.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	forgetFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_forget_delivery_failures_total",
		Help: "ForgetQuery calls to workers that failed.",
	})
)
