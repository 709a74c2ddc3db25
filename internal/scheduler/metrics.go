package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcvs_jobs_published_total",
		Help: "Jobs published to the result store, by terminal state",
	}, []string{"state"})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pcvs_jobs_pending",
		Help: "Jobs waiting to be executed",
	})

	setsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcvs_sets_created_total",
		Help: "Sets handed to the runner, by execution mode",
	}, []string{"mode"})
)
