package voice

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/rtp"
)

// Audio parameters fixed by the voice transport.
const (
	// SampleRate is the decode sample rate in Hz.
	SampleRate = 48000

	// Channels is the channel count of the decoded stream.
	Channels = 2

	// FrameLength is the duration of one audio frame.
	FrameLength = 20 * time.Millisecond

	// SamplesPerFrame is the per-channel sample count of one frame.
	SamplesPerFrame = SampleRate / 1000 * 20

	// TimestampStep is the media-clock advance between consecutive
	// frames.
	TimestampStep uint32 = SamplesPerFrame
)

// maxFrameBytes bounds a decoded frame: 120ms at 48kHz, stereo, 2 bytes
// per sample.
const maxFrameBytes = SampleRate / 1000 * 120 * Channels * 2

// Decoder decodes one source's Opus stream into interleaved 16-bit PCM
// using pion/opus (pure Go). Each source owns its own Decoder; the codec
// state is stream-specific and must not be shared across SSRCs.
type Decoder struct {
	mu  sync.Mutex
	dec *opus.Decoder
	out []byte
}

// NewDecoder creates a decoder for one audio source.
func NewDecoder() *Decoder {
	dec := opus.NewDecoder()
	return &Decoder{
		dec: &dec,
		out: make([]byte, maxFrameBytes),
	}
}

// Decode decodes one Opus frame into interleaved signed 16-bit samples.
func (d *Decoder) Decode(frame []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decode(frame)
}

// DecodeConceal synthesizes audio for a lost frame. When the frame that
// follows the loss is already known it is decoded in the lost frame's
// place as the concealment approximation; otherwise the fixed silence
// frame is decoded instead.
func (d *Decoder) DecodeConceal(next []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if next == nil {
		return d.decode(rtp.OpusSilence)
	}
	return d.decode(next)
}

func (d *Decoder) decode(frame []byte) ([]int16, error) {
	bandwidth, isStereo, err := d.dec.Decode(frame, d.out)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Decoder.decode",
			"frame_size": len(frame),
			"error":      err.Error(),
		}).Debug("Opus decode failed")
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	channels := 1
	if isStereo {
		channels = Channels
	}
	samples := bandwidth.SampleRate() / 1000 * 20 * channels

	// Convert []byte to []int16 (little-endian)
	pcm := make([]int16, samples)
	for i := 0; i < samples; i++ {
		pcm[i] = int16(d.out[i*2]) | int16(d.out[i*2+1])<<8
	}
	return pcm, nil
}
