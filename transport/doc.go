// Package transport is the ingress side of the voice receive pipeline:
// a socket read loop that classifies each datagram as audio or report
// traffic, parses and decrypts it, and dispatches it into the router
// without ever blocking on downstream decode work.
//
// Per-packet errors (malformed headers, authentication failures) drop
// the packet and keep the loop running; only a socket-level failure
// tears the receiver down. A run of consecutive authentication failures
// is surfaced as a probable stale session key rather than swallowed.
package transport
