package rtp

// Sequence numbers wrap modulo 2^16 and timestamps modulo 2^32, so all
// distance arithmetic has to be done in the ring, never on raw integers.
// Comparisons are only defined between values from the same SSRC.

// restartGap is the jump distance, in either direction, beyond which a
// sequence number is taken to mean the source restarted rather than that
// packets were lost or reordered. A quarter of the sequence space each
// way leaves the middle half of the ring as the restart zone.
const restartGap = 0x4000

// GapWrapped returns the number of slots missing between a and its
// successor b, accounting for 16-bit wraparound. GapWrapped(5, 6) is 0;
// GapWrapped(65534, 2) is 3 (65535, 0, 1).
func GapWrapped(a, b uint16) uint16 {
	return b - a - 1
}

// AddWrapped advances a 16-bit sequence number by n modulo 2^16.
func AddWrapped(a, n uint16) uint16 {
	return a + n
}

// AddWrapped32 advances a 32-bit timestamp by n modulo 2^32.
func AddWrapped32(a, n uint32) uint32 {
	return a + n
}

// NewerWrapped reports whether b is strictly newer than a under 16-bit
// wraparound comparison: b is ahead of a by less than half the sequence
// space.
func NewerWrapped(a, b uint16) bool {
	return b != a && (b-a)&0x8000 == 0
}

// SeqState classifies an incoming sequence number against the highest
// sequence number previously accepted.
type SeqState int

const (
	// SeqNewer means the packet advances the stream, possibly across
	// the 16-bit wrap.
	SeqNewer SeqState = iota

	// SeqStale means the packet is a duplicate or arrived after its
	// slot was already passed.
	SeqStale

	// SeqRestart means the sequence jumped far enough, in either
	// direction, that the source must have reset its counter. The
	// receiver should discard its ordering state and start over.
	SeqRestart
)

// ClassifySequence compares an incoming sequence number against last,
// the highest sequence previously accepted from the same SSRC.
func ClassifySequence(last, seq uint16) SeqState {
	delta := seq - last
	switch {
	case delta == 0:
		return SeqStale
	case delta < restartGap:
		return SeqNewer
	case delta > 0xFFFF-restartGap:
		return SeqStale
	default:
		return SeqRestart
	}
}
