// Package mqtt connects the bridge to an MQTT broker.
//
// The client auto-reconnects, restores subscriptions after a reconnect and
// registers a retained offline will on xnetbridge/health/xnet so consumers
// notice a crashed bridge. Topics builds every topic name the bridge uses:
//
//	xnetbridge/command/turnout/{address}   commands in
//	xnetbridge/ack/turnout/{address}       acknowledgements out
//	xnetbridge/state/turnout/{address}     retained state out
//	xnetbridge/request/turnout/{id}        requests in
//	xnetbridge/response/turnout/{id}       responses out
//	xnetbridge/health/xnet                 retained health out
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
