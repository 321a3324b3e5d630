// Package xnet implements the XpressNet wire format used between a computer
// interface (LI101, LI-USB, LI-ETH) and a Lenz-compatible command station.
//
// Every frame is a header byte whose low nibble is the number of data bytes,
// the data bytes, and a trailing XOR of everything before it:
//
//	| header | data 0 .. data n-1 | xor |
//
// The package covers the subset needed to drive accessory decoders:
//
//   - Accessory commands (0x52): drive or release one output of a turnout
//   - Feedback requests (0x42): ask for the state of a nibble (two turnouts)
//   - Feedback broadcasts (0x4N): one or more address/data pairs
//   - Acknowledgements and the error replies that accompany them
//
// # Feedback nibbles
//
// Each pair in a broadcast describes two consecutive turnouts. The address
// byte selects a group of four (addresses 4k+1 .. 4k+4) and bit 4 of the data
// byte selects the lower or upper pair. The odd address of the pair reports in
// bits 0-1, the even address in bits 2-3.
//
//	data byte:  | I | T T | N | Z3 Z2 | Z1 Z0 |
//	             I   = motion incomplete
//	             TT  = 00 turnout, 01 turnout with end switches, 10 feedback module
//	             N   = 0 lower pair, 1 upper pair
//
// Messages and replies are immutable values and safe to share between
// goroutines.
package xnet
