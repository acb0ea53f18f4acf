package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "talk",
		Subsystem: "signal",
		Name:      "connections",
		Help:      "Live signaling connections.",
	})

	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talk",
		Subsystem: "signal",
		Name:      "messages_total",
		Help:      "Signal messages routed, by type.",
	}, []string{"type"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "talk",
		Subsystem: "signal",
		Name:      "dropped_total",
		Help:      "Messages dropped, by reason.",
	}, []string{"reason"})
)
