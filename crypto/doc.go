// Package crypto implements authenticated decryption of voice traffic.
//
// A session negotiates one of four cipher schemes, differing in how the
// 24-byte nonce is derived and whether the wire header is authenticated
// as associated data:
//
//   - xsalsa20_poly1305: nonce is the 12-byte wire header zero-padded
//   - xsalsa20_poly1305_suffix: nonce is the trailing 24 payload bytes
//   - xsalsa20_poly1305_lite: nonce is a trailing 4-byte counter
//     zero-padded
//   - aead_xchacha20_poly1305_rtpsize: trailing 4-byte counter
//     zero-padded, XChaCha20-Poly1305 with the wire header as AEAD
//     associated data, extension header in the authenticated region
//
// Report packets use the same schemes with the nonce derivation shifted
// to their 8-byte header. The scheme is fixed for a session; the key can
// rotate.
package crypto
