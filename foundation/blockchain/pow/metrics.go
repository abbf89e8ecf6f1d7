package pow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powchain",
		Subsystem: "pow",
		Name:      "hashes_total",
		Help:      "Memory-hard hashes computed for verification and mining.",
	})

	sealsFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powchain",
		Subsystem: "pow",
		Name:      "seals_found_total",
		Help:      "Seals found by the nonce search.",
	})

	searchRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powchain",
		Subsystem: "pow",
		Name:      "search_rounds_total",
		Help:      "Nonce search rounds by result.",
	}, []string{"result"})
)
