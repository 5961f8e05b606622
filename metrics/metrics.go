package metrics

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeviceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railtuner_device_calls_total",
		Help: "Firmware commands issued, by command and outcome",
	}, []string{"command", "outcome"})

	DeviceCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "railtuner_device_call_seconds",
		Help:    "Round trip time of firmware commands",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"command"})

	DeviceRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "railtuner_device_retries_total",
		Help: "Commands retried after a flush",
	})

	SweepPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railtuner_sweep_points_total",
		Help: "Measurement points taken, by sweep kind",
	}, []string{"sweep"})

	FailedPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "railtuner_sweep_failed_points_total",
		Help: "Points where the DUT reported neither progress nor signal",
	}, []string{"sweep"})

	LastResult = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "railtuner_last_result",
		Help: "Most recent sweep result (dBm for thresholds, trim code for ctune)",
	}, []string{"sweep", "frequency"})
)

// Serve exposes the default registry on addr under /metrics. It blocks, so
// callers run it in its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("Metrics listener stopped: %v", err)
	}
}
