// Package influxdb writes turnout events to InfluxDB 2.x.
//
// Each observable change of a turnout (commanded or known position,
// inversion, feedback mode) becomes one point in the turnout_events
// measurement, tagged by address and property. The bridge also writes
// periodic snapshots of its bus counters to xnet_bus.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // optional; run without it
//	}
//	defer client.Close()
//
//	client.WriteTurnoutEvent(18, "known_state", "inconsistent", "thrown")
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Nothing here blocks the turnout state machine.
package influxdb
