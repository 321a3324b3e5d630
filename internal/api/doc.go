// Package api implements the HTTP API and Prometheus metrics of the
// XpressNet bridge.
//
// Endpoints:
//
//	GET  /api/v1/health                      dependency status
//	GET  /api/v1/turnouts                    all turnouts
//	GET  /api/v1/turnouts/{address}          one turnout
//	PUT  /api/v1/turnouts/{address}/state    {"state":"thrown"}
//	PUT  /api/v1/turnouts/{address}/known    {"state":"closed"}, no bus traffic
//	GET  /api/v1/turnouts/{address}/history  recorded changes, ?limit=N
//	GET  /metrics                            Prometheus text format
//
// Commands are accepted with 202: the state endpoint only queues the drive
// command, and the position is confirmed asynchronously by the layout.
//
// # Metrics
//
// Metrics is both the transport and turnout metrics sink, and a turnout
// observer counting property changes. It uses a private registry so tests
// can create as many as they like.
package api
