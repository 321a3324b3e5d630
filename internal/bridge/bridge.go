package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
	"github.com/nerrad567/xnet-bridge/internal/xnet/transport"
)

// Bridge maps turnouts onto MQTT. It handles:
//   - commands on xnetbridge/command/turnout/{address}, acked on the ack topic
//   - requests (read_state, read_all) answered on the response topic
//   - retained state publication driven by turnout changes
//   - health reporting
//
// All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	manager  TurnoutManager
	health   *HealthReporter
	topics   mqtt.Topics
	qos      byte
	observer *turnout.AsyncObserver

	unsubscribe func()

	// Last published state per address, for change detection.
	stateCache   map[int]StateMessage
	stateCacheMu sync.Mutex

	stopOnce sync.Once

	logger Logger
	now    func() time.Time
}

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TurnoutManager is the part of *turnout.Manager the bridge uses.
type TurnoutManager interface {
	Get(address int) (*turnout.Turnout, error)
	List() []*turnout.Turnout
	Subscribe(o turnout.Observer) (unsubscribe func())
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	MQTTClient MQTTClient
	Manager    TurnoutManager

	// Bus feeds the health reporter. Optional.
	Bus BusConnector

	// Station receives the periodic status request that checks the command
	// station is answering. Optional; usually the same controller as Bus.
	Station       transport.Transport
	StatusTimeout time.Duration

	BridgeID       string
	Version        string
	HealthInterval time.Duration

	// QoS for commands, acks and state. Default 1.
	QoS byte

	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, ErrNoMQTTClient
	}
	if opts.Manager == nil {
		return nil, ErrNoManager
	}
	qos := opts.QoS
	if qos == 0 || qos > 2 {
		qos = 1
	}

	b := &Bridge{
		mqtt:       opts.MQTTClient,
		manager:    opts.Manager,
		qos:        qos,
		stateCache: make(map[int]StateMessage),
		logger:     opts.Logger,
		now:        time.Now,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Bus:       opts.Bus,
		Turnouts:  func() int { return len(opts.Manager.List()) },
		Logger:    opts.Logger,

		Station:       opts.Station,
		StatusTimeout: opts.StatusTimeout,
	})
	return b, nil
}

// Start publishes "starting", the current state of every turnout, then
// subscribes to commands and requests and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.observer = turnout.NewAsyncObserver("mqtt-state", b.publishChange, 0, b.logger)
	b.unsubscribe = b.manager.Subscribe(b.observer)
	b.PublishAll()

	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := b.mqtt.Subscribe(b.topics.AllRequests(), b.qos, b.handleRequest); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}

	b.health.Start(ctx)
	b.logInfo("bridge started", "turnouts", len(b.manager.List()))
	return nil
}

// Stop unsubscribes from turnout changes, drains pending state publications
// and publishes "stopping". Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		if b.observer != nil {
			b.observer.Stop()
		}
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// PublishAll publishes the retained state of every turnout, bypassing
// change detection. Used at start and after a broker reconnect.
func (b *Bridge) PublishAll() {
	for _, t := range b.manager.List() {
		b.publishState(newStateMessage(t.Snapshot(), b.now()), true)
	}
}

func (b *Bridge) publishChange(c turnout.Change) {
	b.publishState(newStateMessage(c.Status, c.At), false)
}

func (b *Bridge) publishState(msg StateMessage, force bool) {
	b.stateCacheMu.Lock()
	last, seen := b.stateCache[msg.Address]
	if seen && !force && last.sameState(msg) {
		b.stateCacheMu.Unlock()
		return
	}
	b.stateCache[msg.Address] = msg
	b.stateCacheMu.Unlock()

	if err := b.publishJSON(b.topics.State(msg.Address), msg, true); err != nil {
		b.logError("failed to publish state", err, "address", msg.Address)
	}
}

// handleCommand validates and applies a command, always answering with an
// ack on the same address.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	address, err := mqtt.ParseAddress(topic)
	if err != nil {
		return err
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(newAckError("", address, ErrCodeInvalidParameters,
			fmt.Sprintf("malformed command: %v", err), b.now()))
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logDebug("received command",
		"command_id", cmd.ID,
		"address", address,
		"state", cmd.State,
		"source", cmd.Source)

	t, err := b.manager.Get(address)
	if err != nil {
		b.publishAck(newAckError(cmd.ID, address, ErrCodeNotConfigured,
			fmt.Sprintf("turnout %d not configured", address), b.now()))
		return nil
	}

	state, err := turnout.ParseState(cmd.State)
	if err == nil {
		err = t.SetCommandedState(state)
	}
	if err != nil {
		b.publishAck(newAckError(cmd.ID, address, errorCode(err), err.Error(), b.now()))
		return nil
	}

	b.publishAck(newAck(cmd.ID, address, b.now()))
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, turnout.ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, turnout.ErrDisposed), errors.Is(err, turnout.ErrNotFound):
		return ErrCodeNotConfigured
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	if ack.Error != nil {
		b.logWarn("command failed",
			"command_id", ack.CommandID,
			"address", ack.Address,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}
	if err := b.publishJSON(b.topics.Ack(ack.Address), ack, false); err != nil {
		b.logError("failed to publish ack", err, "address", ack.Address)
	}
}

func (b *Bridge) handleRequest(topic string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = mqtt.LastSegment(topic)
	}
	if req.RequestID == "" {
		return fmt.Errorf("request without id on %s", topic)
	}

	var resp ResponseMessage
	switch strings.ToLower(req.Action) {
	case "read_state":
		resp = b.readState(req)
	case "read_all":
		resp = b.readAll(req)
	default:
		resp = failedResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action), b.now())
	}

	if err := b.publishJSON(b.topics.Response(req.RequestID), resp, false); err != nil {
		b.logError("failed to publish response", err, "request_id", req.RequestID)
	}
	return nil
}

func (b *Bridge) readState(req RequestMessage) ResponseMessage {
	t, err := b.manager.Get(req.Address)
	if err != nil {
		return failedResponse(req.RequestID, ErrCodeNotConfigured,
			fmt.Sprintf("turnout %d not configured", req.Address), b.now())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: b.now().UTC(),
		Success:   true,
		Data:      map[string]any{"turnout": newStateMessage(t.Snapshot(), b.now())},
	}
}

// readAll answers with the cached view and asks every turnout to poll the
// layout. Updated positions arrive later on the state topics.
func (b *Bridge) readAll(req RequestMessage) ResponseMessage {
	turnouts := b.manager.List()
	states := make([]StateMessage, 0, len(turnouts))
	for _, t := range turnouts {
		states = append(states, newStateMessage(t.Snapshot(), b.now()))
		t.RequestUpdateFromLayout()
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: b.now().UTC(),
		Success:   true,
		Data: map[string]any{
			"turnouts":  states,
			"requested": len(turnouts),
		},
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, b.qos, retained)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
