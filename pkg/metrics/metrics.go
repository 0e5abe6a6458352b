// Package metrics turns orchestrator lifecycle events into Prometheus
// series.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"specter/pkg/bus"
)

const namespace = "specter"

// Recorder counts session events on its own registry, not the global one.
type Recorder struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	routes           *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	leaks            *prometheus.CounterVec
	sessions         prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Lifecycle events published by session orchestrators.",
	}, []string{"type", "channel"})

	r.routes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routes_total",
		Help:      "Routing decisions by target and module.",
	}, []string{"target", "module"})

	r.dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatches_total",
		Help:      "Finished dispatches by module and terminal status.",
	}, []string{"module", "status"})

	r.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Dispatch latency by module.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"module"})

	r.leaks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_leaks_total",
		Help:      "Executors that ignored cancellation past the grace period.",
	}, []string{"module"})

	r.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Chat sessions currently held by the gateway.",
	})

	r.registry.MustRegister(
		r.events,
		r.routes,
		r.dispatches,
		r.dispatchDuration,
		r.leaks,
		r.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Observe records one event.
func (r *Recorder) Observe(event bus.Event) {
	if r == nil {
		return
	}

	r.events.WithLabelValues(string(event.Type), event.Channel).Inc()

	module := event.Payload["module_id"]
	switch event.Type {
	case bus.EventRouted:
		r.routes.WithLabelValues(event.Payload["target"], module).Inc()
	case bus.EventDispatchCompleted, bus.EventDispatchFailed, bus.EventDispatchTimedOut, bus.EventDispatchCancelled:
		r.dispatches.WithLabelValues(module, event.Payload["status"]).Inc()
		if ms, err := strconv.ParseInt(event.Payload["duration_ms"], 10, 64); err == nil {
			r.dispatchDuration.WithLabelValues(module).Observe((time.Duration(ms) * time.Millisecond).Seconds())
		}
	case bus.EventDispatchLeaked:
		r.leaks.WithLabelValues(module).Inc()
	}
}

// Consume records events until the channel closes or ctx is done.
func (r *Recorder) Consume(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.Observe(event)
		}
	}
}

func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.sessions.Set(float64(n))
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
