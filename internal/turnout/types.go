package turnout

import (
	"fmt"
	"strings"
	"time"
)

// State is a turnout position.
type State int

const (
	// Unknown means no position has been reported or commanded yet.
	Unknown State = iota
	Closed
	Thrown
	// Inconsistent is only ever a known state: a command is in flight or the
	// last one could not be confirmed.
	Inconsistent
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Thrown:
		return "thrown"
	case Inconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// ParseState accepts "closed" or "thrown" (any case). Other values, including
// "unknown" and "inconsistent", cannot be commanded and return ErrInvalidState.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "closed":
		return Closed, nil
	case "thrown":
		return Thrown, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// ParseKnownState accepts the positions an operator or sensor may report:
// "closed", "thrown" or "unknown". "inconsistent" is reserved for the
// state machine.
func ParseKnownState(s string) (State, error) {
	if strings.EqualFold(strings.TrimSpace(s), "unknown") {
		return Unknown, nil
	}
	return ParseState(s)
}

// stateFromString is the lenient inverse of String used when loading
// persisted rows.
func stateFromString(s string) State {
	switch s {
	case "closed":
		return Closed
	case "thrown":
		return Thrown
	case "inconsistent":
		return Inconsistent
	default:
		return Unknown
	}
}

// FeedbackMode selects how replies and broadcasts confirm a command.
type FeedbackMode int

const (
	// Direct assumes success on any acknowledgement and never reads state
	// from feedback.
	Direct FeedbackMode = iota
	// Signal does not wait for any reply before releasing the output.
	Signal
	// Monitoring reads state from broadcasts, including changes made on the
	// layout.
	Monitoring
	// Exact is Monitoring that also waits for decoders with end switches to
	// report motion complete.
	Exact
)

func (m FeedbackMode) String() string {
	switch m {
	case Signal:
		return "signal"
	case Monitoring:
		return "monitoring"
	case Exact:
		return "exact"
	default:
		return "direct"
	}
}

// ParseFeedbackMode converts a config value to a FeedbackMode.
func ParseFeedbackMode(s string) (FeedbackMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return Direct, nil
	case "signal":
		return Signal, nil
	case "monitoring":
		return Monitoring, nil
	case "exact":
		return Exact, nil
	default:
		return Direct, fmt.Errorf("%w: %q", ErrInvalidFeedbackMode, s)
	}
}

// InternalState is the protocol phase of a turnout.
type InternalState int

const (
	// Idle: no command outstanding.
	Idle InternalState = iota
	// CommandSent: drive command sent, waiting for the first response.
	CommandSent
	// OffSent: OFF scheduled or sent, waiting for its acknowledgement.
	OffSent
)

func (s InternalState) String() string {
	switch s {
	case CommandSent:
		return "command_sent"
	case OffSent:
		return "off_sent"
	default:
		return "idle"
	}
}

// Property names an observable attribute.
type Property string

const (
	PropertyCommandedState Property = "commanded_state"
	PropertyKnownState     Property = "known_state"
	PropertyInverted       Property = "inverted"
	PropertyFeedbackMode   Property = "feedback_mode"
)

// Status is a point-in-time view of a turnout.
type Status struct {
	Address   int
	Name      string
	Commanded State
	Known     State
	Mode      FeedbackMode
	Internal  InternalState
	Inverted  bool
	Disposed  bool
}

// Settled reports whether the layout has confirmed the commanded position.
func (s Status) Settled() bool {
	return s.Known == s.Commanded && s.Internal == Idle
}

// Change describes one observable property change.
type Change struct {
	Address  int
	Property Property
	Old      string
	New      string

	// Status is the turnout after the change.
	Status Status
	At     time.Time
}
