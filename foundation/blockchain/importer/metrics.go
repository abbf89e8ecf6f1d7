package importer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "powchain",
	Subsystem: "importer",
	Name:      "imports_total",
	Help:      "Block imports by outcome.",
}, []string{"outcome"})
