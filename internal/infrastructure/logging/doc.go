// Package logging provides structured logging for the XpressNet bridge.
//
// This package wraps Go's standard log/slog package so every component
// (bus link, transport, turnouts, MQTT bridge) logs with the same fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("turnout commanded", "address", 12, "state", "thrown")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
