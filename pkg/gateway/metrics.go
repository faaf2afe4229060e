package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vibingu/vibingu/pkg/httpclient"
)

var (
	acquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vibingu",
		Subsystem: "gateway",
		Name:      "permit_wait_seconds",
		Help:      "Time spent waiting for a per-model permit.",
		Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 90},
	}, []string{"model", "upgraded"})

	retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vibingu",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Retryable upstream failures, by model and class.",
	}, []string{"model", "class"})
)

func observeAcquire(model string, upgraded bool, wait time.Duration) {
	label := "false"
	if upgraded {
		label = "true"
	}
	acquireWait.WithLabelValues(model, label).Observe(wait.Seconds())
}

func observeRetry(model string, err error) {
	class := "server_error"
	if httpclient.IsRateLimited(err) {
		class = "rate_limit"
	}
	retries.WithLabelValues(model, class).Inc()
}
