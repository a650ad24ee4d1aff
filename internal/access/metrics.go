package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCounter = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
	Namespace: "accessgate",
	Subsystem: "access",
	Name:      "decisions_total",
	Help:      "Access decisions by terminal result",
}, []string{"result"})
