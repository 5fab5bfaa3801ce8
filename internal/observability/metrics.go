package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capinit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"server", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capinit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "route", "status"},
	)
	kernelInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capinit",
			Subsystem: "kernel",
			Name:      "invocations_total",
			Help:      "Kernel primitive invocations by operation and result.",
		},
		[]string{"op", "success"},
	)
	objectsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capinit",
			Subsystem: "initializer",
			Name:      "objects_created_total",
			Help:      "Objects created by kind.",
		},
		[]string{"kind"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capinit",
			Subsystem: "initializer",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each reconstruction phase.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"phase", "success"},
	)
	fillBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capinit",
			Subsystem: "initializer",
			Name:      "fill_bytes_total",
			Help:      "Bytes written into frames by content kind.",
		},
		[]string{"content"},
	)
	untypedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "capinit",
			Subsystem: "untyped",
			Name:      "bytes",
			Help:      "Untyped pool bytes by state.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			kernelInvocations,
			objectsCreated, phaseDuration, fillBytes,
			untypedBytes,
		)
	})
}

func RecordHTTPRequest(server, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordInvocation(op string, err error) {
	RegisterMetrics()
	kernelInvocations.WithLabelValues(op, strconv.FormatBool(err == nil)).Inc()
}

func RecordObjectCreated(kind string) {
	RegisterMetrics()
	objectsCreated.WithLabelValues(kind).Inc()
}

func RecordPhase(phase string, duration time.Duration, success bool) {
	RegisterMetrics()
	phaseDuration.WithLabelValues(phase, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordFillBytes(content string, n int) {
	RegisterMetrics()
	fillBytes.WithLabelValues(content).Add(float64(n))
}

func RecordUntyped(total, used, free uint64) {
	RegisterMetrics()
	untypedBytes.WithLabelValues("total").Set(float64(total))
	untypedBytes.WithLabelValues("used").Set(float64(used))
	untypedBytes.WithLabelValues("free").Set(float64(free))
}
