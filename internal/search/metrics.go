package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waypoint_worker_rounds_total",
		Help: "Search rounds served, by how the round ended.",
	}, []string{"result"})

	relaxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waypoint_worker_relax_seconds",
		Help:    "Duration of a single relaxation pass.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	nodesExpanded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_worker_nodes_expanded_total",
		Help: "Nodes popped from a frontier and expanded.",
	})

	foreignReported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waypoint_worker_foreign_nodes_total",
		Help: "Foreign nodes reported back to the executer.",
	})
)
