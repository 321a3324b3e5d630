package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Write failures are asynchronous
// and reach the SetOnError callback instead.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
