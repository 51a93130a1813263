package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/crypto"
	"github.com/opd-ai/voicerecv/rtp"
	"github.com/opd-ai/voicerecv/voice"
)

const (
	// readBufferSize is larger than any voice datagram.
	readBufferSize = 2048

	// readDeadline bounds each blocking read so cancellation is
	// observed promptly.
	readDeadline = 100 * time.Millisecond

	// DefaultAuthFailureLimit is how many consecutive authentication
	// failures suggest a stale session key.
	DefaultAuthFailureLimit = 10
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Conn is the datagram socket to read from. Required. The receiver
	// takes ownership and closes it on shutdown.
	Conn net.PacketConn

	// Suite decrypts audio and report traffic. Required.
	Suite *crypto.Suite

	// Router receives decrypted audio and parsed reports. Required.
	Router *voice.Router

	// Activity, when set, is touched on every accepted audio packet.
	Activity *voice.ActivityTimer

	// Lookup, when set, identifies known sources; silence filler from
	// unknown sources is dropped instead of creating a decoder.
	Lookup voice.LookupFunc

	// OnError is invoked for fatal read-loop failures and for probable
	// stale-key conditions. Optional.
	OnError func(error)

	// AuthFailureLimit overrides DefaultAuthFailureLimit when positive.
	AuthFailureLimit int
}

// Receiver owns the ingress read loop of one voice session. It is
// created running and stopped with Close.
type Receiver struct {
	conn     net.PacketConn
	suite    *crypto.Suite
	router   *voice.Router
	activity *voice.ActivityTimer
	lookup   voice.LookupFunc
	onError  func(error)

	authLimit int32
	authFails atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewReceiver validates the configuration and starts the read loop.
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	if config.Conn == nil {
		return nil, ErrMissingConn
	}
	if config.Suite == nil {
		return nil, ErrMissingSuite
	}
	if config.Router == nil {
		return nil, ErrMissingRouter
	}

	limit := config.AuthFailureLimit
	if limit <= 0 {
		limit = DefaultAuthFailureLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		conn:      config.Conn,
		suite:     config.Suite,
		router:    config.Router,
		activity:  config.Activity,
		lookup:    config.Lookup,
		onError:   config.OnError,
		authLimit: int32(limit),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go r.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "NewReceiver",
		"scheme":   config.Suite.Scheme(),
		"addr":     config.Conn.LocalAddr(),
	}).Info("Voice receiver started")

	return r, nil
}

// Close stops the read loop and closes the socket. Safe to call more
// than once.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.conn.Close()
		<-r.done
	})
	return err
}

// UpdateKey forwards a session key rotation to the cipher suite and
// clears the stale-key failure counter.
func (r *Receiver) UpdateKey(key []byte) error {
	if err := r.suite.UpdateKey(key); err != nil {
		return err
	}
	r.authFails.Store(0)
	return nil
}

// ParticipantJoined registers a speaker identity for a source,
// re-registering the SSRC if it was recently destroyed.
func (r *Receiver) ParticipantJoined(ssrc uint32, id voice.Identity) {
	r.router.SetIdentity(ssrc, id)
}

// ParticipantLeft destroys a source's decoder, draining buffered audio,
// and forces its activity stopped.
func (r *Receiver) ParticipantLeft(ssrc uint32) {
	r.router.DestroyDecoder(ssrc)
	if r.activity != nil {
		r.activity.Drop(ssrc)
	}
}

// readLoop pulls datagrams off the socket one at a time. Per-datagram
// failures never end the loop; socket failures do.
func (r *Receiver) readLoop() {
	defer close(r.done)

	buffer := make([]byte, readBufferSize)
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := r.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			r.fail(err)
			return
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		r.handleDatagram(data)
	}
}

// handleDatagram classifies and dispatches one wire datagram.
func (r *Receiver) handleDatagram(data []byte) {
	if rtp.IsReport(data) {
		r.handleReport(data)
		return
	}

	packet, err := rtp.ParsePacket(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handleDatagram",
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping malformed packet")
		return
	}

	if _, err := r.suite.DecryptAudio(packet); err != nil {
		r.handleDecryptFailure(packet.SSRC, err)
		return
	}
	r.authFails.Store(0)

	// Senders emit silence filler as they trail off; for a source we
	// cannot attribute it is not worth creating decode state.
	if packet.IsSilence() && r.unknownSource(packet.SSRC) {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handleDatagram",
			"ssrc":     packet.SSRC,
		}).Debug("Dropping silence from unknown source")
		return
	}

	if r.activity != nil {
		r.activity.Touch(packet.SSRC)
	}
	r.router.FeedAudio(packet)
}

// handleReport decrypts and parses one report datagram and dispatches
// it to the router's report sink.
func (r *Receiver) handleReport(data []byte) {
	plain, err := r.suite.DecryptReport(data)
	if err != nil {
		r.handleDecryptFailure(0, err)
		return
	}
	r.authFails.Store(0)

	report, err := rtp.ParseReport(plain)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handleReport",
			"size":     len(data),
			"error":    err.Error(),
		}).Debug("Dropping malformed report")
		return
	}
	r.router.FeedReport(report)
}

// handleDecryptFailure drops the packet and tracks consecutive
// authentication failures; a long enough run is surfaced as a probable
// stale key.
func (r *Receiver) handleDecryptFailure(ssrc uint32, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.handleDecryptFailure",
		"ssrc":     ssrc,
		"error":    err.Error(),
	}).Warn("Dropping undecryptable packet")

	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		return
	}
	if r.authFails.Add(1) == r.authLimit {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.handleDecryptFailure",
			"failures": r.authLimit,
		}).Error("Consecutive authentication failures, key may be stale")
		if r.onError != nil {
			r.onError(ErrStaleKey)
		}
	}
}

// unknownSource reports whether the lookup collaborator has no identity
// for an SSRC. Without a lookup every source counts as known.
func (r *Receiver) unknownSource(ssrc uint32) bool {
	if r.lookup == nil {
		return false
	}
	_, ok := r.lookup(ssrc)
	return !ok
}

// fail tears the receive pipeline down after a fatal socket error.
func (r *Receiver) fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.fail",
		"error":    err.Error(),
	}).Error("Read loop failed, shutting down receiver")

	if stopErr := r.router.Stop(); stopErr != nil && !errors.Is(stopErr, voice.ErrRouterStopped) {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.fail",
			"error":    stopErr.Error(),
		}).Warn("Router stop failed during shutdown")
	}
	if r.onError != nil {
		r.onError(err)
	}
}
