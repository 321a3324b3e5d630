// Package turnout drives XpressNet accessory decoders.
//
// A Turnout sends a drive command for the requested position, waits for the
// command station or a feedback broadcast to confirm it, and then sends the
// OFF command that de-energises the decoder output. How a reply confirms a
// command depends on the feedback mode:
//
//   - Direct: any acknowledgement releases the output (OFF is sent twice).
//   - Signal: the output is released without waiting for anything.
//   - Monitoring: feedback broadcasts are decoded, including changes made on
//     the layout while idle.
//   - Exact: like Monitoring, but decoders with end switches are polled until
//     they report motion complete.
//
// Every state change is published synchronously to Observers while the
// turnout's lock is held. Observers that do I/O wrap their work in an
// AsyncObserver.
//
// The Manager provides one Turnout per address, seeds it from a Repository
// and fans changes out to observers of the whole layout. HistoryRecorder
// persists those changes.
package turnout
