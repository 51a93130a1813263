package rtp

import (
	"testing"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// marshalPacket builds a wire packet using an independent implementation
// so the parser is not tested against itself.
func marshalPacket(t *testing.T, hdr pionrtp.Header, payload []byte) []byte {
	t.Helper()
	p := pionrtp.Packet{Header: hdr, Payload: payload}
	data, err := p.Marshal()
	require.NoError(t, err)
	return data
}

func TestParsePacket(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	data := marshalPacket(t, pionrtp.Header{
		Version:        2,
		Marker:         true,
		PayloadType:    120,
		SequenceNumber: 4660,
		Timestamp:      0x11223344,
		SSRC:           0xCAFEBABE,
	}, payload)

	p, err := ParsePacket(data)
	require.NoError(t, err)

	assert.Equal(t, KindReal, p.Kind)
	assert.Equal(t, uint8(2), p.Version)
	assert.True(t, p.Marker)
	assert.Equal(t, uint8(120), p.PayloadType)
	assert.Equal(t, uint16(4660), p.Sequence)
	assert.Equal(t, uint32(0x11223344), p.Timestamp)
	assert.Equal(t, uint32(0xCAFEBABE), p.SSRC)
	assert.Equal(t, payload, p.Payload)
	assert.False(t, p.Extended)
	assert.Nil(t, p.Decrypted)
}

func TestParsePacketCSRCList(t *testing.T) {
	data := marshalPacket(t, pionrtp.Header{
		Version:        2,
		PayloadType:    120,
		SequenceNumber: 1,
		SSRC:           7,
		CSRC:           []uint32{0x01020304, 0x05060708},
	}, []byte{0xAA})

	p, err := ParsePacket(data)
	require.NoError(t, err)

	assert.Equal(t, uint8(2), p.CSRCCount)
	assert.Equal(t, []uint32{0x01020304, 0x05060708}, p.CSRCs)
	assert.Equal(t, []byte{0xAA}, p.Payload)
}

func TestParsePacketMalformed(t *testing.T) {
	// Too short for a header.
	_, err := ParsePacket([]byte{0x80, 0x78, 0x00})
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Wrong version bits.
	bad := make([]byte, HeaderSize)
	bad[0] = 0x00
	_, err = ParsePacket(bad)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// CSRC count overruns the packet.
	short := make([]byte, HeaderSize)
	short[0] = 0x80 | 0x03
	_, err = ParsePacket(short)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestIsReport(t *testing.T) {
	audio := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, []byte{0x01})
	assert.False(t, IsReport(audio))

	for pt := byte(200); pt <= 204; pt++ {
		report := []byte{0x80, pt, 0x00, 0x01, 0, 0, 0, 7}
		assert.True(t, IsReport(report), "type %d", pt)
	}

	assert.False(t, IsReport([]byte{0x80}))
	assert.False(t, IsReport([]byte{0x80, 205, 0, 0}))
}

func TestSyntheticPackets(t *testing.T) {
	ph := NewPlaceholderPacket(7, 102, 1920)
	assert.Equal(t, KindPlaceholder, ph.Kind)
	assert.Equal(t, uint16(102), ph.Sequence)
	assert.Equal(t, uint32(1920), ph.Timestamp)
	assert.Empty(t, ph.Decrypted)
	assert.False(t, ph.IsSilence())

	sil := NewSilencePacket(7, 960)
	assert.Equal(t, KindSilence, sil.Kind)
	assert.True(t, sil.IsSilence())
	assert.Equal(t, OpusSilence, sil.Decrypted)

	// A real packet whose decrypted payload is the silence frame also
	// counts as silence.
	wire := &Packet{Kind: KindReal, Decrypted: []byte{0xF8, 0xFF, 0xFE}}
	assert.True(t, wire.IsSilence())
}

func TestAdjustRTPSize(t *testing.T) {
	data := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, []byte{0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x03, 0x04})

	p, err := ParsePacket(data)
	require.NoError(t, err)
	require.NoError(t, p.AdjustRTPSize())

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, p.Nonce)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, p.Payload)
	assert.Len(t, p.Header, HeaderSize)
}

func TestAdjustRTPSizeExtension(t *testing.T) {
	// Extension flag set: the leading 4-byte extension header moves
	// into the authenticated header region.
	extHeader := []byte{0xBE, 0xDE, 0x00, 0x01}
	payload := append(append([]byte{}, extHeader...), 0xAA, 0xBB, 0x01, 0x02, 0x03, 0x04)

	data := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, payload)
	data[0] |= 0x10 // extension bit

	p, err := ParsePacket(data)
	require.NoError(t, err)
	require.True(t, p.Extended)
	require.NoError(t, p.AdjustRTPSize())

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, p.Nonce)
	assert.Equal(t, []byte{0xAA, 0xBB}, p.Payload)
	require.Len(t, p.Header, HeaderSize+4)
	assert.Equal(t, extHeader, p.Header[HeaderSize:])
}

func TestApplyExtension(t *testing.T) {
	data := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, []byte{0x00})
	data[0] |= 0x10

	p, err := ParsePacket(data)
	require.NoError(t, err)

	// Decrypted payload: one-byte-header extension with a two-byte
	// audio-power element, one padding byte, then the audio frame.
	decrypted := []byte{
		0xBE, 0xDE, 0x00, 0x01, // profile + one word
		0x11, 0x80, 0x42, 0x00, // id=1 len=2, value 0x8042, padding
		0xF1, 0xF2, // audio
	}

	offset, err := p.ApplyExtension(decrypted)
	require.NoError(t, err)
	assert.Equal(t, 8, offset)
	assert.Equal(t, uint16(0xBEDE), p.ExtensionProfile)

	level, voiced, ok := p.AudioPower()
	require.True(t, ok)
	assert.True(t, voiced)
	assert.Equal(t, uint16(0x42), level)
}

func TestApplyExtensionRTPSize(t *testing.T) {
	payload := []byte{
		0xBE, 0xDE, 0x00, 0x01, // extension header, in the clear
		0xEE, 0xEE, // ciphertext stand-in
		0x01, 0x02, 0x03, 0x04, // nonce
	}
	data := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, payload)
	data[0] |= 0x10

	p, err := ParsePacket(data)
	require.NoError(t, err)
	require.NoError(t, p.AdjustRTPSize())

	// The extension elements are inside the decrypted payload; the
	// 4-byte extension header is reattached from the header tail.
	decrypted := []byte{
		0x11, 0x80, 0x10, 0x00, // one element word
		0xF1, 0xF2, // audio
	}

	offset, err := p.ApplyExtension(decrypted)
	require.NoError(t, err)
	assert.Equal(t, 4, offset)

	level, voiced, ok := p.AudioPower()
	require.True(t, ok)
	assert.True(t, voiced)
	assert.Equal(t, uint16(0x10), level)
}

func TestApplyExtensionTruncated(t *testing.T) {
	data := marshalPacket(t, pionrtp.Header{
		Version: 2, PayloadType: 120, SequenceNumber: 1, SSRC: 7,
	}, []byte{0x00})
	data[0] |= 0x10

	p, err := ParsePacket(data)
	require.NoError(t, err)

	// Declares two words but carries none.
	_, err = p.ApplyExtension([]byte{0xBE, 0xDE, 0x00, 0x02})
	assert.ErrorIs(t, err, ErrBadExtension)
}

func TestApplyExtensionNotExtended(t *testing.T) {
	p := &Packet{}
	offset, err := p.ApplyExtension([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Zero(t, offset)
}
