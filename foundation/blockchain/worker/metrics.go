package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	staleSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powchain",
		Subsystem: "worker",
		Name:      "stale_submissions_total",
		Help:      "Seals rejected because the proposal had changed.",
	})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powchain",
		Subsystem: "worker",
		Name:      "submissions_total",
		Help:      "Seals imported by outcome.",
	}, []string{"outcome"})
)
