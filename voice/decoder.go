package voice

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/rtp"
)

// SourceDecoder owns the jitter buffer and codec state for one SSRC. It
// turns the buffer's ordered releases into decoded audio units,
// synthesizing loss concealment for slots the buffer gave up on.
//
// One goroutine pushes packets in and one pops audio out; the decoder
// never blocks a pusher on decode work.
type SourceDecoder struct {
	ssrc   uint32
	buffer *JitterBuffer
	dec    *Decoder
	lookup LookupFunc

	mu        sync.Mutex
	identity  *Identity
	lastSeq   uint16
	lastTs    uint32
	destroyed bool
}

// NewSourceDecoder creates decode state for one source.
func NewSourceDecoder(ssrc uint32, config BufferConfig, lookup LookupFunc) (*SourceDecoder, error) {
	buffer, err := NewJitterBuffer(config)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSourceDecoder",
		"ssrc":     ssrc,
	}).Info("Source decoder created")

	return &SourceDecoder{
		ssrc:   ssrc,
		buffer: buffer,
		dec:    NewDecoder(),
		lookup: lookup,
	}, nil
}

// SSRC returns the source id this decoder serves.
func (d *SourceDecoder) SSRC() uint32 {
	return d.ssrc
}

// PushPacket offers a decrypted packet to the jitter buffer and reports
// whether it was accepted. Pushes after Destroy are dropped.
func (d *SourceDecoder) PushPacket(p *rtp.Packet) bool {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	return d.buffer.Push(p)
}

// Backlogged reports whether enough packets are queued that a timed pop
// could release or give up a slot.
func (d *SourceDecoder) Backlogged() bool {
	return d.buffer.Backlogged()
}

// PopData blocks up to timeout for the next decoded audio unit. It
// returns nil when nothing became releasable, and otherwise exactly one
// unit: either the next real packet decoded, or a concealment unit
// filling a slot the buffer gave up on. Emitted sequence numbers are
// strictly increasing and gap-free.
func (d *SourceDecoder) PopData(timeout time.Duration) *VoiceData {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	packet, state := d.buffer.Pop(timeout)
	switch state {
	case PopPacket:
		return d.emitPacket(packet)
	case PopGap:
		return d.emitConcealed()
	default:
		return nil
	}
}

// emitPacket decodes a real packet. A codec failure is a concealment
// opportunity, not a stream error: the unit is emitted with silence
// audio and decoding continues with the next packet.
func (d *SourceDecoder) emitPacket(packet *rtp.Packet) *VoiceData {
	pcm, err := d.dec.Decode(packet.Decrypted)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SourceDecoder.emitPacket",
			"ssrc":     d.ssrc,
			"sequence": packet.Sequence,
			"error":    err.Error(),
		}).Debug("Decode failed, substituting silence")
		pcm = d.silencePCM()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeq = packet.Sequence
	d.lastTs = packet.Timestamp
	return &VoiceData{Packet: packet, Source: d.identityLocked(), PCM: pcm}
}

// emitConcealed fills one missing slot. When the packet after the gap is
// already buffered its payload drives the concealment decode; otherwise
// the decoder extrapolates from silence.
func (d *SourceDecoder) emitConcealed() *VoiceData {
	var nextFrame []byte
	if next := d.buffer.PeekNext(); next != nil {
		nextFrame = next.Decrypted
	}

	pcm, err := d.dec.DecodeConceal(nextFrame)
	if err != nil {
		pcm = d.silencePCM()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seq := rtp.AddWrapped(d.lastSeq, 1)
	ts := rtp.AddWrapped32(d.lastTs, TimestampStep)
	d.lastSeq = seq
	d.lastTs = ts

	logrus.WithFields(logrus.Fields{
		"function": "SourceDecoder.emitConcealed",
		"ssrc":     d.ssrc,
		"sequence": seq,
		"fec":      nextFrame != nil,
	}).Debug("Concealing lost packet")

	placeholder := rtp.NewPlaceholderPacket(d.ssrc, seq, ts)
	return &VoiceData{Packet: placeholder, Source: d.identityLocked(), PCM: pcm}
}

// silencePCM is the last-resort substitute when even the concealment
// decode fails: one frame of zeroed samples.
func (d *SourceDecoder) silencePCM() []int16 {
	return make([]int16, SamplesPerFrame*Channels)
}

// SetIdentity caches the resolved speaker identity for this source.
func (d *SourceDecoder) SetIdentity(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = &id
}

// InvalidateIdentity drops the cached identity so the next emitted unit
// re-resolves it through the lookup collaborator.
func (d *SourceDecoder) InvalidateIdentity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = nil
}

// identityLocked resolves the cached identity lazily. The mapping may
// not be known yet, in which case units carry a nil source until it is.
func (d *SourceDecoder) identityLocked() *Identity {
	if d.identity == nil && d.lookup != nil {
		if id, ok := d.lookup(d.ssrc); ok {
			d.identity = &id
		}
	}
	return d.identity
}

// Reset clears sequence and timestamp tracking and re-arms the buffer,
// keeping the decoder alive for a transient reconnection.
func (d *SourceDecoder) Reset() {
	d.buffer.Reset()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeq = 0
	d.lastTs = 0
}

// Destroy drains the buffer through the normal decode path and frees the
// decoder. Everything still buffered is returned as decoded units so
// nothing is silently lost; the caller forwards them to its sink.
// Destroy is idempotent.
func (d *SourceDecoder) Destroy() []*VoiceData {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.mu.Unlock()

	remaining := d.buffer.Flush()
	units := make([]*VoiceData, 0, len(remaining))
	for _, packet := range remaining {
		units = append(units, d.emitPacket(packet))
	}

	logrus.WithFields(logrus.Fields{
		"function": "SourceDecoder.Destroy",
		"ssrc":     d.ssrc,
		"drained":  len(units),
	}).Info("Source decoder destroyed")

	return units
}
