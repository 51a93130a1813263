package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/rtp"
)

// Jitter buffer defaults. Depth is measured in frames, so ten frames is
// 200ms of absorbed jitter at the fixed frame length.
const (
	// DefaultMaxSize is the hard depth cap. Reaching it means waiting
	// longer cannot help, so the head is forced out.
	DefaultMaxSize = 10

	// DefaultPrefill is how many initial packets are consumed to warm
	// the buffer before anything is released.
	DefaultPrefill = 3

	// DefaultPrefSize is the depth held back during steady state; the
	// buffer only releases while more than this many packets are queued.
	DefaultPrefSize = 1
)

// BufferConfig parameterizes a JitterBuffer.
type BufferConfig struct {
	// MaxSize is the hard depth cap, at least 1.
	MaxSize int

	// Prefill is the number of warm-up packets consumed before release
	// begins.
	Prefill int

	// PrefSize is the steady-state held-back depth, less than MaxSize.
	PrefSize int
}

// DefaultBufferConfig returns the standard buffer parameters.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MaxSize:  DefaultMaxSize,
		Prefill:  DefaultPrefill,
		PrefSize: DefaultPrefSize,
	}
}

// PopState reports what a Pop produced.
type PopState int

const (
	// PopEmpty means nothing became releasable before the timeout.
	PopEmpty PopState = iota

	// PopPacket means the head packet was released in order.
	PopPacket

	// PopGap means the next sequence slot is missing and the buffer has
	// given up waiting for it. The slot is consumed; the caller fills it
	// with concealment. One Pop consumes one missing slot.
	PopGap
)

// JitterBuffer reorders one source's packets and releases them in
// strictly increasing sequence order. It absorbs arrival jitter up to a
// bounded depth, fabricates gap results for packets that are permanently
// missing, and resets itself when the source's sequence counter
// restarts.
//
// All methods are safe for concurrent use; the expected pattern is one
// goroutine pushing and one popping.
type JitterBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	// packets is ordered by wrapped sequence comparison.
	packets []*rtp.Packet

	maxsize  int
	prefsize int
	prefill  int
	initial  int // prefill re-arm value

	lastRx uint16 // highest sequence accepted
	hasRx  bool
	lastTx uint16 // sequence of the slot most recently consumed
	hasTx  bool
}

// NewJitterBuffer creates a buffer with the given parameters. Invalid
// parameters fail rather than being silently clamped.
func NewJitterBuffer(config BufferConfig) (*JitterBuffer, error) {
	if config.MaxSize < 1 {
		return nil, fmt.Errorf("maxsize must be at least 1, got %d", config.MaxSize)
	}
	if config.PrefSize < 0 || config.PrefSize >= config.MaxSize {
		return nil, fmt.Errorf("prefsize must be in [0, maxsize), got %d", config.PrefSize)
	}
	if config.Prefill < 0 {
		return nil, fmt.Errorf("prefill must not be negative, got %d", config.Prefill)
	}

	b := &JitterBuffer{
		maxsize:  config.MaxSize,
		prefsize: config.PrefSize,
		prefill:  config.Prefill,
		initial:  config.Prefill,
	}
	b.cond = sync.NewCond(&b.mu)
	return b, nil
}

// Push offers a packet to the buffer and reports whether it was
// accepted. Duplicates and packets whose slot has already been released
// are rejected; a sequence jump past the restart threshold resets the
// buffer and accepts the packet as the start of a new run. Warm-up
// packets are consumed by the prefill counter without being queued.
func (b *JitterBuffer) Push(p *rtp.Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasRx && rtp.ClassifySequence(b.lastRx, p.Sequence) == rtp.SeqRestart {
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Push",
			"sequence": p.Sequence,
			"last_rx":  b.lastRx,
		}).Warn("Sequence restart detected, resetting buffer")
		b.resetLocked()
	}

	if b.hasTx && !rtp.NewerWrapped(b.lastTx, p.Sequence) {
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Push",
			"sequence": p.Sequence,
			"last_tx":  b.lastTx,
		}).Debug("Rejecting packet for an already released slot")
		return false
	}

	if !b.hasRx || rtp.NewerWrapped(b.lastRx, p.Sequence) {
		b.lastRx = p.Sequence
	}
	b.hasRx = true

	if b.prefill > 0 {
		b.prefill--
		return true
	}

	if !b.insertLocked(p) {
		return false
	}
	b.cleanupLocked()

	if b.readyLocked() {
		b.cond.Broadcast()
	}
	return true
}

// Pop blocks until the head is releasable or the timeout elapses.
//
// It returns PopPacket with the head when the head is the immediate
// successor of the last released slot (or nothing has been released
// yet). When the successor slot is missing and the buffer has either
// filled to its cap or timed out with packets queued past the held-back
// depth, the missing slot is consumed and PopGap is returned. Otherwise
// PopEmpty. A timeout of zero makes the call non-blocking.
func (b *JitterBuffer) Pop(timeout time.Duration) (*rtp.Packet, PopState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waited := false
	if !b.readyLocked() && timeout > 0 {
		waited = true
		expired := false
		timer := time.AfterFunc(timeout, func() {
			b.mu.Lock()
			expired = true
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		for !b.readyLocked() && !expired {
			b.cond.Wait()
		}
		timer.Stop()
	}

	if b.readyLocked() {
		head := b.packets[0]
		if !b.hasTx || head.Sequence == rtp.AddWrapped(b.lastTx, 1) {
			b.packets = b.packets[1:]
			b.lastTx = head.Sequence
			b.hasTx = true
			return head, PopPacket
		}
		// Full to the cap with the successor slot missing: waiting
		// longer cannot help, give the slot up.
		b.lastTx = rtp.AddWrapped(b.lastTx, 1)
		return nil, PopGap
	}

	// The wait expired. With packets queued past the held-back depth
	// the head not being releasable means its predecessor slot is
	// missing and overdue. A non-blocking call never declares a slot
	// overdue.
	if waited && b.prefill == 0 && len(b.packets) > b.prefsize {
		b.lastTx = rtp.AddWrapped(b.lastTx, 1)
		return nil, PopGap
	}
	return nil, PopEmpty
}

// Peek returns the head packet without removing it. With all false the
// head is only returned when it is currently releasable.
func (b *JitterBuffer) Peek(all bool) *rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) == 0 {
		return nil
	}
	if !all && !b.readyLocked() {
		return nil
	}
	return b.packets[0]
}

// PeekNext returns the head packet only when it is the immediate
// successor of the last consumed slot, without removing it.
func (b *JitterBuffer) PeekNext() *rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) == 0 || !b.hasTx {
		return nil
	}
	if b.packets[0].Sequence != rtp.AddWrapped(b.lastTx, 1) {
		return nil
	}
	return b.packets[0]
}

// Gap returns the number of slots missing between the last consumed
// slot and the head packet.
func (b *JitterBuffer) Gap() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.packets) == 0 || !b.hasTx {
		return 0
	}
	return int(rtp.GapWrapped(b.lastTx, b.packets[0].Sequence))
}

// Flush removes and returns all queued packets in release order,
// regardless of readiness. Ordering state is kept so a caller draining
// the buffer can tell where the gaps were.
func (b *JitterBuffer) Flush() []*rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.packets
	b.packets = nil
	if len(out) > 0 {
		b.lastTx = out[len(out)-1].Sequence
		b.hasTx = true
	}
	b.cond.Broadcast()
	return out
}

// Reset discards all queued packets and ordering state and re-arms the
// prefill counter, as on a source restart.
func (b *JitterBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.cond.Broadcast()
}

// Backlogged reports whether packets are queued past the held-back
// depth, meaning the head slot either is releasable now or could become
// overdue.
func (b *JitterBuffer) Backlogged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefill == 0 && len(b.packets) > b.prefsize
}

// Len returns the number of queued packets.
func (b *JitterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

func (b *JitterBuffer) resetLocked() {
	b.packets = nil
	b.prefill = b.initial
	b.hasRx = false
	b.hasTx = false
}

// insertLocked places p at its sequence-ordered position, reporting
// false for a duplicate of an already queued packet.
func (b *JitterBuffer) insertLocked(p *rtp.Packet) bool {
	at := len(b.packets)
	for i, q := range b.packets {
		if q.Sequence == p.Sequence {
			return false
		}
		if rtp.NewerWrapped(p.Sequence, q.Sequence) {
			at = i
			break
		}
	}
	b.packets = append(b.packets, nil)
	copy(b.packets[at+1:], b.packets[at:])
	b.packets[at] = p
	return true
}

func (b *JitterBuffer) cleanupLocked() {
	// Drop anything whose slot has already been consumed.
	for len(b.packets) > 0 && b.hasTx && !rtp.NewerWrapped(b.lastTx, b.packets[0].Sequence) {
		b.packets = b.packets[1:]
	}

	// Evict oldest past the cap. Policy event, not an error.
	for len(b.packets) > b.maxsize {
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.cleanupLocked",
			"sequence": b.packets[0].Sequence,
			"depth":    len(b.packets),
		}).Debug("Buffer overflow, evicting oldest packet")
		b.packets = b.packets[1:]
	}
}

// readyLocked reports whether the head may be consumed: warm-up done,
// depth past the held-back minimum, and either the head continues the
// released run, nothing has been released yet, or the buffer is full
// enough that waiting cannot help.
func (b *JitterBuffer) readyLocked() bool {
	if b.prefill > 0 || len(b.packets) <= b.prefsize {
		return false
	}
	return !b.hasTx ||
		b.packets[0].Sequence == rtp.AddWrapped(b.lastTx, 1) ||
		len(b.packets) >= b.maxsize
}
