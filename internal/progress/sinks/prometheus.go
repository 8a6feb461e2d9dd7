package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-capture/internal/progress"
)

// PrometheusSink exports run and capture metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	captures        *prometheus.CounterVec
	captureAttempts *prometheus.CounterVec
	captureBytes    *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitecapture_runs_started_total",
			Help: "Capture runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecapture_runs_completed_total",
			Help: "Capture runs finished, by outcome.",
		}, []string{"outcome"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecapture_runs_active",
			Help: "Capture runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecapture_run_duration_seconds",
			Help:    "Wall time per capture run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"outcome"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecapture_captures_total",
			Help: "URL captures by site, strategy and outcome.",
		}, []string{"site", "strategy", "outcome"}),
		captureAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecapture_capture_attempts_total",
			Help: "Strategy attempts spent per site.",
		}, []string{"site"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecapture_capture_bytes_total",
			Help: "Artifact bytes produced per site.",
		}, []string{"site"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecapture_capture_duration_seconds",
			Help:    "Time to capture one URL, by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.captures,
		s.captureAttempts,
		s.captureBytes,
		s.captureDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runsActive.Inc()
		case progress.StageRunDone:
			outcome := string(evt.Outcome)
			s.runsCompleted.WithLabelValues(outcome).Inc()
			s.runsActive.Dec()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
			}
		case progress.StageCaptureDone:
			s.captureDone(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) captureDone(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	strategy := evt.Strategy
	if strategy == "" {
		strategy = "none"
	}
	outcome := string(evt.Outcome)
	s.captures.WithLabelValues(site, strategy, outcome).Inc()
	if evt.Attempts > 0 {
		s.captureAttempts.WithLabelValues(site).Add(float64(evt.Attempts))
	}
	if evt.Bytes > 0 {
		s.captureBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.captureDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
