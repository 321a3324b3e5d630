package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/xnet-bridge/internal/xnet"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

const (
	defaultHealthInterval = 30 * time.Second
	defaultStatusTimeout  = 2 * time.Second
)

// stationState is what the last status request told us about the command
// station.
type stationState int

const (
	stationUnknown stationState = iota
	stationResponding
	stationSilent
)

// HealthReporter publishes the bridge status on the retained health topic:
// "starting" once, "healthy" or "degraded" every interval, and "stopping"
// on shutdown. The broker publishes "offline" from the will.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	bus       BusConnector
	turnouts  func() int

	station       transport.Transport
	statusTimeout time.Duration
	stationMu     sync.Mutex
	stationState  stationState

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
	now    func() time.Time
}

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// BusConnector reports on the command station link. *transport.Controller
// satisfies it.
type BusConnector interface {
	IsConnected() bool
	Stats() transport.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval defaults to 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Bus is optional; a nil bus reports degraded.
	Bus BusConnector

	// Turnouts returns the number of managed turnouts. Optional.
	Turnouts func() int

	// Station, when set, receives a status request every interval. A
	// request that goes unanswered marks the command station silent and
	// the bridge degraded until the next answer.
	Station transport.Transport

	// StatusTimeout bounds the wait for the status answer. Default 2s.
	StatusTimeout time.Duration

	Logger Logger
}

// NewHealthReporter builds a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	statusTimeout := cfg.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = defaultStatusTimeout
	}
	bridgeID := cfg.BridgeID
	if bridgeID == "" {
		bridgeID = mqtt.Protocol
	}
	return &HealthReporter{
		bridgeID:  bridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		bus:       cfg.Bus,
		turnouts:  cfg.Turnouts,
		station:   cfg.Station,
		done:      make(chan struct{}),
		logger:    cfg.Logger,
		now:       time.Now,

		statusTimeout: statusTimeout,
	}
}

// Start publishes the current status and then one every interval until ctx
// is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes "stopping". Safe to call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publishStatus(HealthStopping, "bridge stopping"); err != nil {
			h.logError("failed to publish stopping status", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}
	h.requestStatus()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			h.requestStatus()
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.bus == nil || !h.bus.IsConnected() {
		return HealthDegraded, "command station link down"
	}
	if h.station != nil && h.currentStation() == stationSilent {
		return HealthDegraded, "command station not responding"
	}
	return HealthHealthy, ""
}

// requestStatus asks the command station for its status. The answer, or its
// absence, is reported on the next health publication.
func (h *HealthReporter) requestStatus() {
	if h.station == nil {
		return
	}
	h.station.Send(xnet.NewStatusRequest().WithTimeout(h.statusTimeout), statusListener{h: h})
}

func (h *HealthReporter) setStation(s stationState) {
	h.stationMu.Lock()
	defer h.stationMu.Unlock()
	h.stationState = s
}

func (h *HealthReporter) currentStation() stationState {
	h.stationMu.Lock()
	defer h.stationMu.Unlock()
	return h.stationState
}

// statusListener is the listener for one status request.
type statusListener struct {
	h *HealthReporter
}

func (l statusListener) OnReply(r xnet.Reply) {
	if r.IsStatusResponse() {
		l.h.setStation(stationResponding)
	}
}

func (l statusListener) OnTimeout(xnet.Message) {
	l.h.setStation(stationSilent)
	if l.h.logger != nil {
		l.h.logger.Warn("command station did not answer status request")
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := h.now()
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     now.UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.turnouts != nil {
		msg.TurnoutsManaged = h.turnouts()
	}

	if h.bus == nil {
		msg.Connection = &ConnectionStatus{Status: "disconnected"}
		return msg
	}
	stats := h.bus.Stats()
	msg.Connection = &ConnectionStatus{Status: "disconnected"}
	if stats.Connected {
		msg.Connection.Status = "connected"
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	msg.Statistics = &BusStatistics{
		FramesSent:     stats.FramesTx,
		FramesReceived: stats.FramesRx,
		FramesDropped:  stats.FramesDropped,
		ReplyTimeouts:  stats.Timeouts,
		BusyRetries:    stats.BusyRetries,
		Reconnects:     stats.ReconnectsTotal,
		Errors:         stats.ErrorsTotal,
		QueueLength:    stats.QueueLength,
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
