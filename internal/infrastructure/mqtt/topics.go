package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every topic the bridge publishes or handles.
//
// Layout: xnetbridge/{category}/turnout/{address} for per-turnout traffic,
// xnetbridge/{category}/turnout/{request_id} for requests and responses,
// and xnetbridge/health/xnet for the bridge itself.
const TopicPrefix = "xnetbridge"

// Protocol is the health topic suffix and the "bridge" field of health
// payloads.
const Protocol = "xnet"

const deviceKind = "turnout"

// Topics builds bridge topic names.
type Topics struct{}

// Command is where turnout commands arrive.
//
// Example: xnetbridge/command/turnout/18
func (Topics) Command(address int) string {
	return turnoutTopic("command", address)
}

// Ack is where command acknowledgements are published.
func (Topics) Ack(address int) string {
	return turnoutTopic("ack", address)
}

// State is the retained state topic of a turnout.
func (Topics) State(address int) string {
	return turnoutTopic("state", address)
}

// Request is where request/response operations arrive.
//
// Example: xnetbridge/request/turnout/req-abc123
func (Topics) Request(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, deviceKind, requestID)
}

// Response carries the answer to a Request.
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, deviceKind, requestID)
}

// Health is the retained bridge health topic, also used for the LWT.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// AllCommands matches every turnout's command topic.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, deviceKind)
}

// AllRequests matches every request topic.
func (Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, deviceKind)
}

// AllStates matches every turnout's state topic.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, deviceKind)
}

// LastSegment returns the part of topic after the final slash, or "" for a
// topic that does not have the xnetbridge/{category}/turnout/{x} shape.
func LastSegment(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != deviceKind {
		return ""
	}
	return parts[3]
}

// ParseAddress extracts the turnout address from a per-turnout topic.
func ParseAddress(topic string) (int, error) {
	seg := LastSegment(topic)
	if seg == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, fmt.Errorf("%w: address %q: %w", ErrInvalidTopic, seg, err)
	}
	return n, nil
}

func turnoutTopic(category string, address int) string {
	return fmt.Sprintf("%s/%s/%s/%d", TopicPrefix, category, deviceKind, address)
}
