// Package bridge connects the turnout manager to MQTT.
//
// Topics (prefix xnetbridge):
//
//	command/turnout/{address}     in   {"id","state":"closed|thrown","source"}
//	ack/turnout/{address}         out  accepted, or failed with a code
//	state/turnout/{address}       out  retained commanded/known/internal/mode/inverted
//	request/turnout/{request_id}  in   {"action":"read_state|read_all","address"}
//	response/turnout/{request_id} out
//	health/xnet                   out  retained; the will publishes "offline"
//
// An ack only says whether the command reached the bus queue. Whether the
// turnout actually moved is visible on the state topic, once known equals
// commanded.
package bridge
