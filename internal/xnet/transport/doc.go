// Package transport carries XpressNet frames between the bridge and the
// command station.
//
// It has two layers:
//
//   - Link: a serial port (go.bug.st/serial) or TCP socket that reads and
//     writes whole frames, using the header nibble to delimit them.
//   - Controller: the traffic controller. It owns the only writer, keeps one
//     request outstanding at a time, and routes every inbound frame to the
//     waiting sender and to all registered listeners.
//
// # Reply routing
//
// When a message with a non-zero timeout is sent, the next solicited frame
// is its answer. That frame goes to the message's listener first and then to
// every broadcast listener except that one, so no listener sees a frame
// twice. Feedback frames only answer feedback requests; for every other
// message they are treated as unsolicited broadcasts. If nothing arrives
// within the timeout the message's listener gets OnTimeout.
//
// "Command station busy" and interface communication errors cause the
// message to be sent again after a short delay, up to the message's busy
// retry budget.
//
// # Reconnection
//
// A read failure closes the link and reopens it with exponential backoff
// (2s growing to 1 minute) until Close is called. Messages queued meanwhile
// are written once the link is back; a failed write counts as a lost frame.
package transport
