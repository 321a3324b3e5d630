package api

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/xnet-bridge/internal/turnout"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

// Metrics holds the bridge's Prometheus collectors on a private registry.
//
// It is passed to the transport controller and the turnout manager as their
// metrics sink, and subscribed to the manager to count property changes.
type Metrics struct {
	registry *prometheus.Registry

	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesDropped  prometheus.Counter
	replyTimeouts  prometheus.Counter
	offRetries     *prometheus.CounterVec
	retryExhausted *prometheus.CounterVec
	stateChanges   *prometheus.CounterVec
}

var (
	_ transport.Metrics = (*Metrics)(nil)
	_ turnout.Metrics   = (*Metrics)(nil)
	_ turnout.Observer  = (*Metrics)(nil)
)

// NewMetrics registers the bridge collectors along with the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnet_frames_sent_total",
			Help: "Frames written to the command station.",
		}, []string{"priority"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnet_frames_received_total",
			Help: "Frames read from the command station by reply kind.",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_frames_dropped_total",
			Help: "Frames discarded because they failed to decode.",
		}),
		replyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_reply_timeouts_total",
			Help: "Messages that got no reply within the reply timeout.",
		}),
		offRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnout_off_retries_total",
			Help: "OFF messages resent after a missing acknowledgement.",
		}, []string{"address"}),
		retryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnout_retry_exhausted_total",
			Help: "Commands abandoned after the OFF retry limit.",
		}, []string{"address"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turnout_state_changes_total",
			Help: "Observable turnout property changes.",
		}, []string{"property"}),
	}

	m.registry.MustRegister(
		m.framesSent,
		m.framesReceived,
		m.framesDropped,
		m.replyTimeouts,
		m.offRetries,
		m.retryExhausted,
		m.stateChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameSent(priority string) { m.framesSent.WithLabelValues(priority).Inc() }
func (m *Metrics) FrameReceived(kind string) { m.framesReceived.WithLabelValues(kind).Inc() }
func (m *Metrics) FrameDropped()             { m.framesDropped.Inc() }
func (m *Metrics) ReplyTimeout()             { m.replyTimeouts.Inc() }
func (m *Metrics) OffRetry(address int)      { m.offRetries.WithLabelValues(strconv.Itoa(address)).Inc() }
func (m *Metrics) RetryExhausted(address int) {
	m.retryExhausted.WithLabelValues(strconv.Itoa(address)).Inc()
}

// TurnoutChanged counts c by property. It runs under the turnout lock and
// only increments a counter.
func (m *Metrics) TurnoutChanged(c turnout.Change) {
	m.stateChanges.WithLabelValues(string(c.Property)).Inc()
}
