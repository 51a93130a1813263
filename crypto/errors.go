package crypto

import "errors"

// Sentinel errors for cipher suite operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrAuthenticationFailed indicates an authentication tag mismatch
	// while decrypting a packet.
	ErrAuthenticationFailed = errors.New("packet authentication failed")

	// ErrUnsupportedScheme indicates a cipher scheme name this suite
	// does not implement.
	ErrUnsupportedScheme = errors.New("unsupported cipher scheme")

	// ErrInvalidKey indicates key material of the wrong size.
	ErrInvalidKey = errors.New("invalid session key")

	// ErrShortPayload indicates a payload too small to carry the
	// scheme's nonce.
	ErrShortPayload = errors.New("payload shorter than nonce")
)
