package crypto

import (
	"crypto/cipher"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opd-ai/voicerecv/rtp"
)

// KeySize is the session key size shared by every scheme.
const KeySize = 32

// NonceSize is the derived nonce size shared by every scheme.
const NonceSize = 24

// audio packets carry a 12-byte header, reports an 8-byte one; the
// header-derived nonce schemes differ only in that offset.
const reportHeaderLen = 8

// Scheme names a cipher/nonce derivation scheme as negotiated by the
// signaling layer.
type Scheme string

const (
	// SchemeXSalsa20 zero-pads the 12-byte wire header into the nonce
	// and decrypts the full payload.
	SchemeXSalsa20 Scheme = "xsalsa20_poly1305"

	// SchemeXSalsa20Suffix carries the whole 24-byte nonce as a payload
	// suffix.
	SchemeXSalsa20Suffix Scheme = "xsalsa20_poly1305_suffix"

	// SchemeXSalsa20Lite carries a 4-byte counter as a payload suffix,
	// zero-padded into the nonce.
	SchemeXSalsa20Lite Scheme = "xsalsa20_poly1305_lite"

	// SchemeAEADRTPSize carries a 4-byte counter suffix and
	// authenticates the wire header as associated data under
	// XChaCha20-Poly1305. Extension headers live in the authenticated
	// header region under this layout.
	SchemeAEADRTPSize Scheme = "aead_xchacha20_poly1305_rtpsize"
)

// Suite performs authenticated decryption for one session. The scheme
// is fixed at construction; the key may rotate via UpdateKey.
type Suite struct {
	mu     sync.RWMutex
	scheme Scheme
	key    [KeySize]byte
	aead   cipher.AEAD // non-nil only for the AEAD scheme
}

// NewSuite creates a cipher suite for the named scheme. It fails with
// ErrUnsupportedScheme for unknown scheme names and ErrInvalidKey for
// key material that is not exactly KeySize bytes.
func NewSuite(scheme Scheme, key []byte) (*Suite, error) {
	switch scheme {
	case SchemeXSalsa20, SchemeXSalsa20Suffix, SchemeXSalsa20Lite, SchemeAEADRTPSize:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	s := &Suite{scheme: scheme}
	if err := s.UpdateKey(key); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSuite",
		"scheme":   scheme,
	}).Info("Cipher suite initialized")

	return s, nil
}

// Scheme returns the scheme this suite was built for.
func (s *Suite) Scheme() Scheme {
	return s.scheme
}

// UpdateKey replaces the session key, used when signaling rotates the
// key mid-session. The scheme does not change.
func (s *Suite) UpdateKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.key[:], key)
	if s.scheme == SchemeAEADRTPSize {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		s.aead = aead
	}

	logrus.WithFields(logrus.Fields{
		"function": "Suite.UpdateKey",
		"scheme":   s.scheme,
	}).Debug("Session key rotated")

	return nil
}

// DecryptAudio authenticates and decrypts an audio packet's payload,
// parses any header extension out of the plaintext, and stores and
// returns the trimmed audio payload.
func (s *Suite) DecryptAudio(p *rtp.Packet) ([]byte, error) {
	plain, err := s.openAudio(p)
	if err != nil {
		return nil, err
	}

	if p.Extended {
		offset, err := p.ApplyExtension(plain)
		if err != nil {
			return nil, err
		}
		plain = plain[offset:]
	}

	p.Decrypted = plain
	return plain, nil
}

// openAudio derives the nonce per the session scheme and opens the
// payload ciphertext.
func (s *Suite) openAudio(p *rtp.Packet) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nonce [NonceSize]byte
	switch s.scheme {
	case SchemeXSalsa20:
		copy(nonce[:rtp.HeaderSize], p.Header[:rtp.HeaderSize])
		return s.openSecretbox(p.Payload, &nonce)

	case SchemeXSalsa20Suffix:
		if len(p.Payload) < NonceSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(p.Payload))
		}
		copy(nonce[:], p.Payload[len(p.Payload)-NonceSize:])
		return s.openSecretbox(p.Payload[:len(p.Payload)-NonceSize], &nonce)

	case SchemeXSalsa20Lite:
		if len(p.Payload) < 4 {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(p.Payload))
		}
		copy(nonce[:4], p.Payload[len(p.Payload)-4:])
		return s.openSecretbox(p.Payload[:len(p.Payload)-4], &nonce)

	case SchemeAEADRTPSize:
		if err := p.AdjustRTPSize(); err != nil {
			return nil, err
		}
		copy(nonce[:4], p.Nonce)
		plain, err := s.aead.Open(nil, nonce[:], p.Payload, p.Header)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return plain, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s.scheme)
	}
}

// DecryptReport authenticates and decrypts a report datagram, returning
// the 8-byte header followed by the plaintext body, ready for a second
// parse pass.
func (s *Suite) DecryptReport(data []byte) ([]byte, error) {
	if len(data) < reportHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(data))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	header, body := data[:reportHeaderLen], data[reportHeaderLen:]

	var nonce [NonceSize]byte
	var plain []byte
	var err error
	switch s.scheme {
	case SchemeXSalsa20:
		copy(nonce[:reportHeaderLen], header)
		plain, err = s.openSecretbox(body, &nonce)

	case SchemeXSalsa20Suffix:
		if len(body) < NonceSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(body))
		}
		copy(nonce[:], body[len(body)-NonceSize:])
		plain, err = s.openSecretbox(body[:len(body)-NonceSize], &nonce)

	case SchemeXSalsa20Lite:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(body))
		}
		copy(nonce[:4], body[len(body)-4:])
		plain, err = s.openSecretbox(body[:len(body)-4], &nonce)

	case SchemeAEADRTPSize:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(body))
		}
		copy(nonce[:4], body[len(body)-4:])
		plain, err = s.aead.Open(nil, nonce[:], body[:len(body)-4], header)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s.scheme)
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, reportHeaderLen+len(plain))
	out = append(out, header...)
	out = append(out, plain...)
	return out, nil
}

// openSecretbox opens an XSalsa20-Poly1305 box, mapping the boolean
// failure to the package's sentinel error.
func (s *Suite) openSecretbox(ciphertext []byte, nonce *[NonceSize]byte) ([]byte, error) {
	plain, ok := secretbox.Open(nil, ciphertext, nonce, &s.key)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}
