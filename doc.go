// Package voicerecv implements the receive side of an encrypted RTP
// voice session: parsing and decrypting incoming datagrams, reordering
// each source's packets through a bounded jitter buffer, concealing
// losses, and delivering decoded PCM per speaker.
//
// Session wires the subpackages together for the common case; the
// rtp, crypto, voice, and transport packages remain usable on their
// own for callers that need a different composition.
package voicerecv
