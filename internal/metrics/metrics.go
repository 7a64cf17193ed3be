// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package metrics exposes dispatcher events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/petenewcomb/simlaunch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const MetricPrefix = "simlaunch_"

// Recorder turns dispatcher events into metrics. Its Observe method is a
// [simlaunch.Observer].
type Recorder struct {
	events   *prometheus.CounterVec
	running  *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "events_total",
				Help: "Number of work item transitions by kind",
			},
			[]string{"executable", "kind"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricPrefix + "running_simulators",
				Help: "Number of simulator processes currently running",
			},
			[]string{"executable"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricPrefix + "simulation_duration_seconds",
				Help:    "Wall-clock time of simulator processes that ran to an exit",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"executable", "outcome"},
		),
	}
	reg.MustRegister(r.events, r.running, r.duration)
	return r
}

// Observer returns an observer that records the events of a dispatcher
// running the given executable.
func (r *Recorder) Observer(executable string) simlaunch.Observer {
	return func(ev simlaunch.Event) {
		r.events.WithLabelValues(executable, ev.Kind.String()).Inc()
		r.running.WithLabelValues(executable).Set(float64(ev.Running))
		switch ev.Kind {
		case simlaunch.EventCompleted, simlaunch.EventFailed, simlaunch.EventTimedOut:
			r.duration.WithLabelValues(executable, ev.Kind.String()).Observe(ev.Duration.Seconds())
		}
	}
}

// Serve exposes the metrics gathered by g over HTTP at /metrics until ctx is
// done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
