// Package rtp implements the wire codecs for the voice receive pipeline.
//
// This package handles parsing of RTP-style audio packets and RTCP-style
// report packets as they appear on the voice UDP socket, including the
// quirks of that wire format: extension headers are encrypted along with
// the payload and can only be parsed in a second pass after decryption,
// and the newer "rtpsize" cipher layouts move the extension header into
// the authenticated-but-unencrypted header region.
//
// The package also provides the wraparound-safe sequence and timestamp
// arithmetic that every consumer of these packets must use. Sequence
// numbers are 16-bit and wrap; timestamps are 32-bit sample counters and
// wrap. Both are only meaningful between packets sharing an SSRC.
//
// Design principles:
//   - Bit-exact parsing of the 12-byte RTP header and the 4-byte RTCP
//     common header with no heap churn beyond the packet itself
//   - Closed set of report variants dispatched on the type byte
//   - Synthetic packet kinds (placeholder, silence) carried as an
//     explicit tag rather than sentinel values
package rtp
