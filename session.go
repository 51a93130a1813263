package voicerecv

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/crypto"
	"github.com/opd-ai/voicerecv/transport"
	"github.com/opd-ai/voicerecv/voice"
)

// Config carries everything a receive session needs. Scheme, Key, Conn,
// and Sink are required; the rest defaults sensibly.
type Config struct {
	// Scheme is the cipher scheme negotiated by signaling.
	Scheme crypto.Scheme

	// Key is the 32-byte session key from signaling.
	Key []byte

	// Conn is the datagram socket carrying voice traffic. The session
	// takes ownership and closes it on Close.
	Conn net.PacketConn

	// Sink receives decoded audio units.
	Sink voice.AudioSink

	// ReportSink receives parsed report packets. Optional.
	ReportSink voice.ReportSink

	// Lookup resolves SSRCs to speaker identities. Optional.
	Lookup voice.LookupFunc

	// Buffer overrides the jitter buffer parameters. Zero value means
	// defaults.
	Buffer voice.BufferConfig

	// ActivityWindow overrides the speaking-stopped window. Zero means
	// the default.
	ActivityWindow time.Duration

	// OnSpeakingStart and OnSpeakingStop receive per-source activity
	// transitions derived from arrival cadence. Optional.
	OnSpeakingStart func(ssrc uint32)
	OnSpeakingStop  func(ssrc uint32)

	// OnError receives fatal pipeline errors and stale-key warnings.
	// Optional.
	OnError func(error)
}

// Session is one running voice receive pipeline: ingress reader,
// per-source decoders, scheduling loop, and activity timer.
type Session struct {
	suite    *crypto.Suite
	router   *voice.Router
	activity *voice.ActivityTimer
	receiver *transport.Receiver
}

// New assembles and starts a receive session.
func New(config Config) (*Session, error) {
	suite, err := crypto.NewSuite(config.Scheme, config.Key)
	if err != nil {
		return nil, err
	}

	router, err := voice.NewRouter(voice.RouterConfig{
		Buffer:     config.Buffer,
		Lookup:     config.Lookup,
		Sink:       config.Sink,
		ReportSink: config.ReportSink,
		OnError:    config.OnError,
	})
	if err != nil {
		return nil, err
	}
	if err := router.Start(); err != nil {
		return nil, err
	}

	activity := voice.NewActivityTimer(voice.ActivityConfig{
		Window:  config.ActivityWindow,
		OnStart: config.OnSpeakingStart,
		OnStop:  config.OnSpeakingStop,
	})

	receiver, err := transport.NewReceiver(transport.ReceiverConfig{
		Conn:     config.Conn,
		Suite:    suite,
		Router:   router,
		Activity: activity,
		Lookup:   config.Lookup,
		OnError:  config.OnError,
	})
	if err != nil {
		activity.Stop()
		_ = router.Stop()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"scheme":   config.Scheme,
	}).Info("Voice receive session started")

	return &Session{
		suite:    suite,
		router:   router,
		activity: activity,
		receiver: receiver,
	}, nil
}

// UpdateKey applies a session key rotation from signaling.
func (s *Session) UpdateKey(key []byte) error {
	return s.receiver.UpdateKey(key)
}

// ParticipantJoined attaches a speaker identity to a source.
func (s *Session) ParticipantJoined(ssrc uint32, id voice.Identity) {
	s.receiver.ParticipantJoined(ssrc, id)
}

// ParticipantLeft tears down a source's decode state, draining any
// buffered audio to the sink first.
func (s *Session) ParticipantLeft(ssrc uint32) {
	s.receiver.ParticipantLeft(ssrc)
}

// Close stops the whole pipeline: ingress first, then the scheduling
// loop, then the remaining decoders are drained and destroyed.
func (s *Session) Close() error {
	err := s.receiver.Close()
	if stopErr := s.router.Stop(); stopErr != nil && !errors.Is(stopErr, voice.ErrRouterStopped) && err == nil {
		err = stopErr
	}
	s.router.DestroyAll()
	s.activity.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Session.Close",
	}).Info("Voice receive session closed")
	return err
}
