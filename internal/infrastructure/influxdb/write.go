package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementTurnoutEvents = "turnout_events"
	measurementBusCounters   = "xnet_bus"
)

// positionValue maps a state name to a number Grafana can plot as a step
// line: closed 0, thrown 1, anything else -1.
func positionValue(state string) int {
	switch state {
	case "closed":
		return 0
	case "thrown":
		return 1
	default:
		return -1
	}
}

// WriteTurnoutEvent records one property change of a turnout.
//
// Point layout:
//
//	turnout_events,site=<id>,address=<n>,property=<p> old="..",new="..",position=<i>
//
// position is only set for the two state properties.
func (c *Client) WriteTurnoutEvent(address int, property, oldValue, newValue string) {
	c.WriteTurnoutEventAt(address, property, oldValue, newValue, c.now())
}

// WriteTurnoutEventAt is WriteTurnoutEvent with an explicit timestamp.
func (c *Client) WriteTurnoutEventAt(address int, property, oldValue, newValue string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"old": oldValue,
		"new": newValue,
	}
	if property == "known_state" || property == "commanded_state" {
		fields["position"] = positionValue(newValue)
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementTurnoutEvents,
		c.tags(map[string]string{
			"address":  strconv.Itoa(address),
			"property": property,
		}),
		fields,
		at,
	))
}

// WriteBusCounters records a snapshot of bus traffic counters, for example
// frames sent and reply timeouts since start.
func (c *Client) WriteBusCounters(counters map[string]float64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}
	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	c.writeAPI.WritePoint(write.NewPoint(measurementBusCounters, c.tags(nil), fields, c.now()))
}

func (c *Client) tags(extra map[string]string) map[string]string {
	tags := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		tags[k] = v
	}
	c.mu.RLock()
	site := c.site
	c.mu.RUnlock()
	if site != "" {
		tags["site"] = site
	}
	return tags
}
