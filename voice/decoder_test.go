package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voicerecv/rtp"
)

func newTestDecoder(t *testing.T, config BufferConfig) *SourceDecoder {
	t.Helper()
	d, err := NewSourceDecoder(1, config, nil)
	require.NoError(t, err)
	return d
}

func TestPopDataPrefillScenario(t *testing.T) {
	// Default parameters: three packets warm the buffer, one is held
	// back, so the first decoded unit is wire sequence 103.
	d := newTestDecoder(t, DefaultBufferConfig())

	for seq := uint16(100); seq < 110; seq++ {
		require.True(t, d.PushPacket(audioPacket(seq)))
	}

	unit := d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint16(103), unit.Packet.Sequence)
	assert.Equal(t, rtp.KindReal, unit.Packet.Kind)
	assert.NotNil(t, unit.PCM)

	for want := uint16(104); want <= 108; want++ {
		unit = d.PopData(0)
		require.NotNil(t, unit)
		assert.Equal(t, want, unit.Packet.Sequence)
	}

	// Only the held-back packet remains.
	assert.Nil(t, d.PopData(0))
}

func TestPopDataConcealsGap(t *testing.T) {
	d := newTestDecoder(t, BufferConfig{MaxSize: 10, PrefSize: 1})

	for _, seq := range []uint16{100, 101, 103, 104} {
		require.True(t, d.PushPacket(audioPacket(seq)))
	}

	unit := d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint16(100), unit.Packet.Sequence)

	unit = d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint16(101), unit.Packet.Sequence)

	// Nothing contiguous and no pressure yet.
	assert.Nil(t, d.PopData(0))

	// The expired wait gives 102 up: exactly one placeholder with the
	// synthesized sequence and timestamp.
	unit = d.PopData(5 * time.Millisecond)
	require.NotNil(t, unit)
	assert.Equal(t, rtp.KindPlaceholder, unit.Packet.Kind)
	assert.Equal(t, uint16(102), unit.Packet.Sequence)
	assert.Equal(t, uint32(102)*TimestampStep, unit.Packet.Timestamp)
	assert.NotNil(t, unit.PCM)

	// The packet after the gap follows as a real unit.
	unit = d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, rtp.KindReal, unit.Packet.Kind)
	assert.Equal(t, uint16(103), unit.Packet.Sequence)
}

func TestPopDataEmitsGapFreeSequences(t *testing.T) {
	d := newTestDecoder(t, BufferConfig{MaxSize: 4})

	require.True(t, d.PushPacket(audioPacket(100)))
	unit := d.PopData(0)
	require.NotNil(t, unit)

	// Lose 101 and burst enough to overflow the buffer.
	for seq := uint16(102); seq <= 106; seq++ {
		require.True(t, d.PushPacket(audioPacket(seq)))
	}

	var got []uint16
	for {
		unit = d.PopData(0)
		if unit == nil {
			break
		}
		got = append(got, unit.Packet.Sequence)
	}
	assert.Equal(t, []uint16{101, 102, 103, 104, 105, 106}, got)
}

func TestIdentityResolution(t *testing.T) {
	calls := 0
	lookup := func(ssrc uint32) (Identity, bool) {
		calls++
		if ssrc == 1 {
			return Identity{UserID: 7, Username: "alice"}, true
		}
		return Identity{}, false
	}

	d, err := NewSourceDecoder(1, BufferConfig{MaxSize: 10}, lookup)
	require.NoError(t, err)

	require.True(t, d.PushPacket(audioPacket(100)))
	unit := d.PopData(0)
	require.NotNil(t, unit)
	require.NotNil(t, unit.Source)
	assert.Equal(t, uint64(7), unit.Source.UserID)

	// Cached after the first resolution.
	require.True(t, d.PushPacket(audioPacket(101)))
	_ = d.PopData(0)
	assert.Equal(t, 1, calls)

	// An explicit identity replaces the cache.
	d.SetIdentity(Identity{UserID: 9, Username: "bob"})
	require.True(t, d.PushPacket(audioPacket(102)))
	unit = d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint64(9), unit.Source.UserID)

	// Invalidation forces a re-resolve.
	d.InvalidateIdentity()
	require.True(t, d.PushPacket(audioPacket(103)))
	unit = d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint64(7), unit.Source.UserID)
	assert.Equal(t, 2, calls)
}

func TestDestroyDrainsBufferedPackets(t *testing.T) {
	d := newTestDecoder(t, BufferConfig{MaxSize: 10})

	for _, seq := range []uint16{200, 201, 202} {
		require.True(t, d.PushPacket(audioPacket(seq)))
	}

	units := d.Destroy()
	require.Len(t, units, 3)
	for i, unit := range units {
		assert.Equal(t, uint16(200+i), unit.Packet.Sequence)
		assert.NotNil(t, unit.PCM)
	}

	// Destroyed decoders accept and produce nothing.
	assert.Nil(t, d.Destroy())
	assert.False(t, d.PushPacket(audioPacket(203)))
	assert.Nil(t, d.PopData(0))
}

func TestDecoderReset(t *testing.T) {
	d := newTestDecoder(t, BufferConfig{MaxSize: 10})

	require.True(t, d.PushPacket(audioPacket(500)))
	require.NotNil(t, d.PopData(0))

	d.Reset()

	// Tracking is gone: an older sequence starts a fresh run.
	require.True(t, d.PushPacket(audioPacket(50)))
	unit := d.PopData(0)
	require.NotNil(t, unit)
	assert.Equal(t, uint16(50), unit.Packet.Sequence)
}
