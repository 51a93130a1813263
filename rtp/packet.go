package rtp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// OpusSilence is the fixed three-byte Opus frame the sender emits to
// mark intentional silence before it stops transmitting.
var OpusSilence = []byte{0xF8, 0xFF, 0xFE}

// HeaderSize is the fixed portion of the audio packet header.
const HeaderSize = 12

// Extension element IDs carried in the one-byte-header extension scheme.
const (
	// ExtensionAudioPower carries the sender-measured audio level.
	ExtensionAudioPower byte = 1

	// ExtensionSpeakingState carries the sender's speaking flags.
	ExtensionSpeakingState byte = 9
)

// extensionMagic is the profile value of the one-byte-header extension
// scheme (RFC 5285).
const extensionMagic uint16 = 0xBEDE

// Kind distinguishes packets received off the wire from synthetic
// packets fabricated by the receive pipeline.
type Kind int

const (
	// KindReal is a packet that arrived on the socket.
	KindReal Kind = iota

	// KindPlaceholder is a synthetic stand-in for a packet that was
	// genuinely lost; its slot must still be filled to keep sequence
	// continuity. It carries no payload.
	KindPlaceholder

	// KindSilence is synthetic intentional silence, not loss. It
	// carries the fixed Opus silence frame.
	KindSilence
)

// Packet is a single audio packet for one source.
//
// Sequence and Timestamp ordering is only meaningful between packets
// sharing the same SSRC; comparing across sources is a caller bug.
// Payload holds the opaque wire bytes until decryption; Decrypted is nil
// until the cipher suite has authenticated the packet.
type Packet struct {
	Kind Kind

	Version     uint8
	Padding     bool
	Extended    bool
	CSRCCount   uint8
	Marker      bool
	PayloadType uint8

	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	CSRCs     []uint32

	// Header is the raw wire header: the fixed 12 bytes, plus the
	// 4-byte extension header when AdjustRTPSize has moved it into the
	// authenticated region.
	Header []byte

	// Payload is the opaque (encrypted) packet body.
	Payload []byte

	// Nonce is the trailing nonce stripped from the payload by
	// AdjustRTPSize, for the cipher layouts that carry it there.
	Nonce []byte

	// Decrypted is the authenticated plaintext audio payload with any
	// extension header already stripped. Nil until decryption succeeds.
	Decrypted []byte

	// Extensions maps extension element IDs to their raw values,
	// populated by ApplyExtension after decryption.
	Extensions map[byte][]byte

	// ExtensionProfile is the two-byte extension profile, when present.
	ExtensionProfile uint16

	rtpsize bool
}

// IsReport reports whether a datagram is a report packet rather than an
// audio packet. The second header byte is in the 200-204 report-type
// range for every report variant and outside it for audio. This is a
// protocol convention, not a length-prefixed discriminator.
func IsReport(data []byte) bool {
	return len(data) >= 2 && data[1] >= reportTypeMin && data[1] <= reportTypeMax
}

// ParsePacket parses an audio packet's fixed header, contributing-source
// list, and opaque payload. Extension content is encrypted and is parsed
// later via ApplyExtension once the payload has been decrypted.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	if data[0]>>6 != 2 {
		return nil, fmt.Errorf("%w: version bits 0b%02b", ErrMalformedPacket, data[0]>>6)
	}

	p := &Packet{
		Kind:        KindReal,
		Version:     data[0] >> 6,
		Padding:     data[0]&0x20 != 0,
		Extended:    data[0]&0x10 != 0,
		CSRCCount:   data[0] & 0x0F,
		Marker:      data[1]&0x80 != 0,
		PayloadType: data[1] & 0x7F,
		Sequence:    binary.BigEndian.Uint16(data[2:4]),
		Timestamp:   binary.BigEndian.Uint32(data[4:8]),
		SSRC:        binary.BigEndian.Uint32(data[8:12]),
		Extensions:  make(map[byte][]byte),
	}

	offset := HeaderSize + 4*int(p.CSRCCount)
	if len(data) < offset {
		return nil, fmt.Errorf("%w: csrc list overruns packet", ErrMalformedPacket)
	}
	for i := 0; i < int(p.CSRCCount); i++ {
		p.CSRCs = append(p.CSRCs, binary.BigEndian.Uint32(data[HeaderSize+4*i:]))
	}

	p.Header = append([]byte(nil), data[:HeaderSize]...)
	p.Payload = append([]byte(nil), data[offset:]...)
	return p, nil
}

// NewPlaceholderPacket fabricates a stand-in for a lost packet so the
// decoder can keep sequence continuity and pick a concealment strategy.
func NewPlaceholderPacket(ssrc uint32, sequence uint16, timestamp uint32) *Packet {
	return &Packet{
		Kind:      KindPlaceholder,
		SSRC:      ssrc,
		Sequence:  sequence,
		Timestamp: timestamp,
		Decrypted: []byte{},
	}
}

// NewSilencePacket fabricates an intentional-silence packet carrying the
// fixed Opus silence frame.
func NewSilencePacket(ssrc uint32, timestamp uint32) *Packet {
	return &Packet{
		Kind:      KindSilence,
		SSRC:      ssrc,
		Timestamp: timestamp,
		Decrypted: OpusSilence,
	}
}

// IsSilence reports whether the packet represents silence: either a
// synthetic silence packet, or a real packet whose decrypted payload is
// the Opus silence frame.
func (p *Packet) IsSilence() bool {
	if p.Kind == KindSilence {
		return true
	}
	return p.Decrypted != nil && bytes.Equal(p.Decrypted, OpusSilence)
}

// AdjustRTPSize rearranges the packet for the rtpsize cipher layouts:
// the trailing 4-byte nonce is stripped from the payload, and when the
// extension flag is set the 4-byte extension header is moved out of the
// payload into the authenticated header region, mirroring SRTP layout.
func (p *Packet) AdjustRTPSize() error {
	if len(p.Payload) < 4 {
		return fmt.Errorf("%w: rtpsize payload too short", ErrMalformedPacket)
	}
	p.rtpsize = true
	p.Nonce = p.Payload[len(p.Payload)-4:]

	if !p.Extended {
		p.Payload = p.Payload[:len(p.Payload)-4]
		return nil
	}
	if len(p.Payload) < 8 {
		return fmt.Errorf("%w: rtpsize extension payload too short", ErrMalformedPacket)
	}
	p.Header = append(p.Header, p.Payload[:4]...)
	p.Payload = p.Payload[4 : len(p.Payload)-4]
	return nil
}

// ApplyExtension parses the header extension out of the decrypted
// payload, populating the extension-element map, and returns the byte
// offset at which the audio payload begins so callers can trim the
// extension header before handing the payload to the codec.
//
// Under the rtpsize layouts the 4-byte extension header lives at the
// tail of the authenticated wire header rather than in the payload, and
// is reattached here before parsing.
func (p *Packet) ApplyExtension(decrypted []byte) (int, error) {
	if !p.Extended {
		return 0, nil
	}

	data := decrypted
	if p.rtpsize {
		if len(p.Header) < HeaderSize+4 {
			return 0, fmt.Errorf("%w: missing rtpsize extension header", ErrBadExtension)
		}
		data = append(append([]byte(nil), p.Header[len(p.Header)-4:]...), decrypted...)
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: short extension header", ErrBadExtension)
	}

	profile := binary.BigEndian.Uint16(data[0:2])
	words := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < 4+words*4 {
		return 0, fmt.Errorf("%w: %d extension words in %d bytes", ErrBadExtension, words, len(data))
	}

	p.ExtensionProfile = profile
	if profile == extensionMagic {
		p.parseOneByteElements(data, words)
	}

	offset := 4 + words*4
	if p.rtpsize {
		// discount the reattached header bytes
		offset -= 4
	}
	return offset, nil
}

// parseOneByteElements walks the one-byte-header extension elements:
// element ID in the high nibble, length-minus-one in the low nibble,
// zero bytes are padding (RFC 5285).
func (p *Packet) parseOneByteElements(data []byte, words int) {
	offset := 4
	for n := 0; n < words && offset < len(data); {
		header := data[offset]
		if header == 0 {
			offset++
			continue
		}

		id := header >> 4
		length := 1 + int(header&0x0F)
		if offset+1+length > len(data) {
			return
		}
		p.Extensions[id] = append([]byte(nil), data[offset+1:offset+1+length]...)
		offset += 1 + length
		n++
	}
}

// AudioPower decodes the audio-power extension element, when present.
// The value is a big-endian level where the high bit flags voice
// activity.
func (p *Packet) AudioPower() (level uint16, voiced bool, ok bool) {
	raw, ok := p.Extensions[ExtensionAudioPower]
	if !ok || len(raw) < 2 {
		return 0, false, false
	}
	v := binary.BigEndian.Uint16(raw[:2])
	return v & 0x7FFF, v&0x8000 != 0, true
}

func (p *Packet) String() string {
	switch p.Kind {
	case KindPlaceholder:
		return fmt.Sprintf("<placeholder ssrc=%d seq=%d ts=%d>", p.SSRC, p.Sequence, p.Timestamp)
	case KindSilence:
		return fmt.Sprintf("<silence ssrc=%d ts=%d>", p.SSRC, p.Timestamp)
	default:
		return fmt.Sprintf("<packet ssrc=%d seq=%d ts=%d size=%d ext=%t>",
			p.SSRC, p.Sequence, p.Timestamp, len(p.Payload), p.Extended)
	}
}
