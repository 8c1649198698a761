package experience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	tierMain        = "main"
	tierHighQuality = "high_quality"
	tierSafety      = "safety"
)

var (
	// bufferSize tracks occupied slots per tier.
	bufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "assistant",
		Subsystem: "experience",
		Name:      "buffer_size",
		Help:      "Experiences currently held per memory tier",
	}, []string{"tier"})

	// storedTotal counts experiences stored per tier.
	storedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "experience",
		Name:      "stored_total",
		Help:      "Experiences stored per memory tier",
	}, []string{"tier"})

	// evictedTotal counts experiences displaced by capacity per tier.
	evictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "experience",
		Name:      "evicted_total",
		Help:      "Experiences evicted by capacity per memory tier",
	}, []string{"tier"})

	// removedTotal counts experiences removed by deletion or retention.
	removedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assistant",
		Subsystem: "experience",
		Name:      "removed_total",
		Help:      "Experiences removed by user deletion or retention",
	})
)
