package rtp

import "errors"

// Sentinel errors for packet parsing.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrMalformedPacket indicates the version bits or fixed header
	// layout of a datagram are invalid.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrTruncatedReport indicates a report packet's declared length
	// exceeds the data actually present.
	ErrTruncatedReport = errors.New("truncated report packet")

	// ErrUnknownReportType indicates a report type byte outside the
	// closed 200-204 set.
	ErrUnknownReportType = errors.New("unknown report type")

	// ErrBadExtension indicates a header extension that does not fit in
	// the decrypted payload.
	ErrBadExtension = errors.New("bad header extension")
)
