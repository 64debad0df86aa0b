// Package metrics exports protocol counters to Prometheus.
//
// A nil *Collector is a valid no-op receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"manualpilot/experiment/internal/command"
	"manualpilot/experiment/internal/session"
)

const namespace = "experiment"

type Collector struct {
	registry *prometheus.Registry

	state        prometheus.Gauge
	commands     *prometheus.CounterVec
	frames       prometheus.Counter
	pings        prometheus.Counter
	timeouts     prometheus.Counter
	restarts     prometheus.Counter
	streamErrors *prometheus.CounterVec
}

// New builds a collector on its own registry. role labels every series
// ("controller" or "participant").
func New(role string) *Collector {
	labels := prometheus.Labels{"role": role}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "session_state",
			Help:        "Current session state (0 Disconnected .. 4 Progressing)",
			ConstLabels: labels,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Commands delivered over the signal stream",
			ConstLabels: labels,
		}, []string{"kind"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_total",
			Help:        "Frames carried over the sync stream",
			ConstLabels: labels,
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "liveness_pings_total",
			Help:        "Liveness pings sent or received",
			ConstLabels: labels,
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "liveness_timeouts_total",
			Help:        "Liveness threshold breaches",
			ConstLabels: labels,
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "listener_restarts_total",
			Help:        "Listening service restarts",
			ConstLabels: labels,
		}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stream_errors_total",
			Help:        "Transport failures by stream",
			ConstLabels: labels,
		}, []string{"stream"}),
	}

	c.registry.MustRegister(c.state, c.commands, c.frames, c.pings, c.timeouts, c.restarts, c.streamErrors)
	return c
}

func (c *Collector) SetState(s session.State) {
	if c == nil {
		return
	}
	c.state.Set(float64(s))
}

func (c *Collector) Command(kind command.Kind) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) Frame() {
	if c == nil {
		return
	}
	c.frames.Inc()
}

func (c *Collector) Ping() {
	if c == nil {
		return
	}
	c.pings.Inc()
}

func (c *Collector) Timeout() {
	if c == nil {
		return
	}
	c.timeouts.Inc()
}

func (c *Collector) Restart() {
	if c == nil {
		return
	}
	c.restarts.Inc()
}

func (c *Collector) StreamError(stream string) {
	if c == nil {
		return
	}
	c.streamErrors.WithLabelValues(stream).Inc()
}

// Handler serves the collector's registry. A nil collector serves 404.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
