package bridge

import "errors"

// Construction errors.
var (
	ErrNoMQTTClient = errors.New("bridge: MQTT client is required")
	ErrNoManager    = errors.New("bridge: turnout manager is required")
)
