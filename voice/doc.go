// Package voice turns demultiplexed audio packets into time-ordered,
// loss-concealed decoded audio.
//
// The pipeline is one Router per session fanning packets out to one
// SourceDecoder per SSRC. Each SourceDecoder owns a JitterBuffer that
// absorbs network reordering up to a bounded depth and releases packets
// in strictly increasing sequence order, fabricating gap markers when a
// packet is permanently missing. The decoder fills those gaps with
// forward error concealment when the following packet is already
// buffered, or with extrapolated silence when it is not.
//
// Concurrency model: the ingress reader pushes packets in, the router's
// scheduling loop pulls decoded audio out, and an ActivityTimer derives
// speaking transitions from arrival cadence. The three never share
// mutable state directly; readiness travels over channel wakeups and
// each buffer carries its own lock.
package voice
