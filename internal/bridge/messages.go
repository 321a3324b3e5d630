package bridge

import (
	"time"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
)

// CommandMessage asks the bridge to move a turnout.
// Topic: xnetbridge/command/turnout/{address}
type CommandMessage struct {
	// ID correlates the ack. One is generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp,omitzero"`

	// State is "closed" or "thrown".
	State string `json:"state"`

	// Source indicates where the command originated ("api", "panel",
	// "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted means the drive command was queued on the bus.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected before reaching the bus.
	AckFailed AckStatus = "failed"
)

// AckMessage answers a CommandMessage.
// Topic: xnetbridge/ack/turnout/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   int       `json:"address"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is the retained view of one turnout.
// Topic: xnetbridge/state/turnout/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Address   int       `json:"address"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Commanded string    `json:"commanded"`
	Known     string    `json:"known"`
	Internal  string    `json:"internal"`
	Mode      string    `json:"mode"`
	Inverted  bool      `json:"inverted"`
	Protocol  string    `json:"protocol"`
}

// sameState compares everything except the timestamp.
func (m StateMessage) sameState(o StateMessage) bool {
	m.Timestamp, o.Timestamp = time.Time{}, time.Time{}
	return m == o
}

func newStateMessage(s turnout.Status, at time.Time) StateMessage {
	return StateMessage{
		Address:   s.Address,
		Name:      s.Name,
		Timestamp: at.UTC(),
		Commanded: s.Commanded.String(),
		Known:     s.Known.String(),
		Internal:  s.Internal.String(),
		Mode:      s.Mode.String(),
		Inverted:  s.Inverted,
		Protocol:  mqtt.Protocol,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is only ever published by the broker, from the will.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: xnetbridge/health/xnet
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge          string            `json:"bridge"`
	Timestamp       time.Time         `json:"timestamp"`
	Status          HealthStatus      `json:"status"`
	Version         string            `json:"version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Connection      *ConnectionStatus `json:"connection,omitempty"`
	Statistics      *BusStatistics    `json:"statistics,omitempty"`
	TurnoutsManaged int               `json:"turnouts_managed"`
	Reason          string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the command station link.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status       string     `json:"status"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BusStatistics are the transport counters since start.
type BusStatistics struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	FramesDropped  uint64 `json:"frames_dropped"`
	ReplyTimeouts  uint64 `json:"reply_timeouts"`
	BusyRetries    uint64 `json:"busy_retries"`
	Reconnects     uint64 `json:"reconnects"`
	Errors         uint64 `json:"errors"`
	QueueLength    int    `json:"queue_length"`
}

// RequestMessage asks for state without moving anything.
// Topic: xnetbridge/request/turnout/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Action is "read_state" or "read_all".
	Action string `json:"action"`

	// Address is required for read_state.
	Address int `json:"address,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: xnetbridge/response/turnout/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newAck(commandID string, address int, at time.Time) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: at.UTC(),
		Status:    AckAccepted,
		Protocol:  mqtt.Protocol,
		Address:   address,
	}
}

func newAckError(commandID string, address int, code, message string, at time.Time) AckMessage {
	ack := newAck(commandID, address, at)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

func failedResponse(requestID, code, message string, at time.Time) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: at.UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}
