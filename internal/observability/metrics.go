package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics groups the counters exported by the recording pipeline. A nil
// *Metrics records nothing.
type Metrics struct {
	recordingsStarted prometheus.Counter
	recordingActive   prometheus.Gauge
	sessionRestarts   prometheus.Counter
	recognitionErrors *prometheus.CounterVec
	deviceRefreshes   *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		recordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "micscribe_recordings_started_total",
			Help: "Recordings started by the user",
		}),
		recordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micscribe_recording_active",
			Help: "1 while the user intends to record",
		}),
		sessionRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "micscribe_session_restarts_total",
			Help: "Recognition sessions restarted after an unexpected end",
		}),
		recognitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micscribe_recognition_errors_total",
			Help: "Recognition error events by code",
		}, []string{"code"}),
		deviceRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micscribe_device_refreshes_total",
			Help: "Device catalog refreshes by outcome",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordingStarted() {
	if m == nil {
		return
	}
	m.recordingsStarted.Inc()
	m.recordingActive.Set(1)
}

func (m *Metrics) RecordingStopped() {
	if m == nil {
		return
	}
	m.recordingActive.Set(0)
}

func (m *Metrics) SessionRestarted() {
	if m == nil {
		return
	}
	m.sessionRestarts.Inc()
}

func (m *Metrics) RecognitionError(code string) {
	if m == nil {
		return
	}
	m.recognitionErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) DeviceRefresh(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.deviceRefreshes.WithLabelValues(status).Inc()
}

// ServeMetrics exposes gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()
}
