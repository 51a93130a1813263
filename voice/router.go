package voice

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicerecv/rtp"
)

const (
	// droppedRingSize bounds the ring of recently destroyed SSRCs used
	// to suppress stragglers from removed participants.
	droppedRingSize = 16

	// popTimeout is how long one scheduling pass waits on a backlogged
	// decoder. It doubles as the reorder deadline: a missing slot is
	// given up once newer packets have queued past the held-back depth
	// and this wait expires.
	popTimeout = time.Millisecond

	// idleTick bounds how long the scheduling loop sleeps with no
	// readiness signal, so shutdown and late buffers are always
	// observed.
	idleTick = 200 * time.Millisecond
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Buffer parameterizes the jitter buffer of every decoder this
	// router creates. Zero value means defaults.
	Buffer BufferConfig

	// Lookup resolves SSRCs to speaker identities. Optional.
	Lookup LookupFunc

	// Sink receives decoded audio units from the scheduling loop.
	// Required.
	Sink AudioSink

	// ReportSink receives report packets. Optional.
	ReportSink ReportSink

	// OnError is invoked when the scheduling loop fails fatally, after
	// the loop has shut down. Optional.
	OnError func(error)
}

// Router demultiplexes audio packets by SSRC to per-source decoders and
// runs the scheduling loop that pulls decoded audio out and forwards it
// to the sink.
//
// A single coarse lock covers decoder create, destroy, and iterate. The
// access pattern is low contention: the ingress reader writes, the
// scheduling loop reads.
type Router struct {
	config RouterConfig

	mu         sync.RWMutex
	decoders   map[uint32]*SourceDecoder
	identities map[uint32]Identity
	dropped    [droppedRingSize]uint32
	dropN      int
	running    bool

	ready chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// NewRouter creates a router forwarding decoded audio to the given
// sink.
func NewRouter(config RouterConfig) (*Router, error) {
	if config.Sink == nil {
		return nil, ErrNilSink
	}
	if config.Buffer == (BufferConfig{}) {
		config.Buffer = DefaultBufferConfig()
	}
	if _, err := NewJitterBuffer(config.Buffer); err != nil {
		return nil, err
	}

	return &Router{
		config:     config,
		decoders:   make(map[uint32]*SourceDecoder),
		identities: make(map[uint32]Identity),
		ready:      make(chan struct{}, 1),
	}, nil
}

// FeedAudio routes one decrypted audio packet to its source's decoder,
// creating the decoder on first contact. Packets from recently destroyed
// sources are dropped silently.
func (r *Router) FeedAudio(p *rtp.Packet) {
	if r.recentlyDropped(p.SSRC) {
		logrus.WithFields(logrus.Fields{
			"function": "Router.FeedAudio",
			"ssrc":     p.SSRC,
		}).Debug("Dropping straggler from destroyed source")
		return
	}

	dec := r.GetOrCreateDecoder(p.SSRC)
	if dec.PushPacket(p) {
		r.signal()
	}
}

// FeedReport dispatches a report packet to the report sink, if any.
func (r *Router) FeedReport(report rtp.Report) {
	if r.config.ReportSink == nil {
		return
	}
	if err := r.config.ReportSink.WriteReport(report); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Router.FeedReport",
			"report_type": report.ReportType(),
			"error":       err.Error(),
		}).Warn("Report sink write failed")
	}
}

// GetOrCreateDecoder returns the decoder for an SSRC, creating it on
// first use.
func (r *Router) GetOrCreateDecoder(ssrc uint32) *SourceDecoder {
	r.mu.RLock()
	dec := r.decoders[ssrc]
	r.mu.RUnlock()
	if dec != nil {
		return dec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if dec = r.decoders[ssrc]; dec != nil {
		return dec
	}

	// Config was validated at construction, creation cannot fail.
	dec, _ = NewSourceDecoder(ssrc, r.config.Buffer, r.config.Lookup)
	if id, ok := r.identities[ssrc]; ok {
		dec.SetIdentity(id)
	}
	r.decoders[ssrc] = dec
	return dec
}

// SetIdentity attaches a resolved identity to a source, remembered for
// decoders not created yet. An SSRC sitting in the recently-destroyed
// ring is re-registered: the suppression entry is cleared so the
// source's next packet recreates its decoder.
func (r *Router) SetIdentity(ssrc uint32, id Identity) {
	r.mu.Lock()
	for i := range r.dropped {
		if r.dropped[i] == ssrc {
			r.dropped[i] = 0
		}
	}
	r.identities[ssrc] = id
	dec := r.decoders[ssrc]
	r.mu.Unlock()

	if dec != nil {
		dec.SetIdentity(id)
	}
}

// DestroyDecoder removes and destroys a source's decoder, draining its
// buffered audio through the sink first. The SSRC enters the
// recently-destroyed ring so stragglers do not recreate it.
func (r *Router) DestroyDecoder(ssrc uint32) {
	r.mu.Lock()
	dec := r.decoders[ssrc]
	if dec == nil {
		r.mu.Unlock()
		return
	}
	delete(r.decoders, ssrc)
	delete(r.identities, ssrc)
	r.dropped[r.dropN%droppedRingSize] = ssrc
	r.dropN++
	r.mu.Unlock()

	r.drain(dec)
}

// DestroyAll destroys every decoder, draining each.
func (r *Router) DestroyAll() {
	r.mu.Lock()
	decs := make([]*SourceDecoder, 0, len(r.decoders))
	for ssrc, dec := range r.decoders {
		decs = append(decs, dec)
		delete(r.decoders, ssrc)
	}
	r.mu.Unlock()

	for _, dec := range decs {
		r.drain(dec)
	}
}

// drain destroys one decoder and forwards its remaining audio to the
// sink, outside the router lock.
func (r *Router) drain(dec *SourceDecoder) {
	for _, unit := range dec.Destroy() {
		if err := r.config.Sink.Write(unit.Source, unit); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Router.drain",
				"ssrc":     dec.SSRC(),
				"error":    err.Error(),
			}).Warn("Sink write failed during drain")
			return
		}
	}
}

// Start launches the background scheduling loop.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRouterRunning
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.run(r.stop, r.done)

	logrus.WithFields(logrus.Fields{
		"function": "Router.Start",
	}).Info("Router scheduling loop started")
	return nil
}

// Stop terminates the scheduling loop and waits for it to exit. Decoders
// stay alive; a stopped router can be started again.
func (r *Router) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRouterStopped
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done

	logrus.WithFields(logrus.Fields{
		"function": "Router.Stop",
	}).Info("Router scheduling loop stopped")
	return nil
}

// run is the scheduling loop: wait for a readiness signal, then give
// every decoder one chance to emit, so no single busy source can starve
// the others.
func (r *Router) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.ready:
		case <-ticker.C:
		}

		emitted, err := r.service(stop)
		if err != nil {
			r.fail(err)
			return
		}
		if emitted {
			// More may be queued behind what we just popped.
			r.signal()
		}
	}
}

// service gives each decoder one pop. A sink failure is fatal to the
// loop; per-decoder emptiness is not.
func (r *Router) service(stop chan struct{}) (bool, error) {
	r.mu.RLock()
	decs := make([]*SourceDecoder, 0, len(r.decoders))
	for _, dec := range r.decoders {
		decs = append(decs, dec)
	}
	r.mu.RUnlock()

	emitted := false
	for _, dec := range decs {
		select {
		case <-stop:
			return emitted, nil
		default:
		}

		// Idle sources cost nothing: only a backlogged source is worth
		// a timed wait, which is what lets an overdue slot be given up.
		unit := dec.PopData(0)
		if unit == nil && dec.Backlogged() {
			unit = dec.PopData(popTimeout)
		}
		if unit == nil {
			continue
		}
		emitted = true
		if err := r.config.Sink.Write(unit.Source, unit); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}

// fail shuts the pipeline down after a fatal loop error: decoders are
// drained and destroyed, then the error is surfaced.
func (r *Router) fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Router.fail",
		"error":    err.Error(),
	}).Error("Scheduling loop failed, shutting down")

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.DestroyAll()
	if r.config.OnError != nil {
		r.config.OnError(err)
	}
}

func (r *Router) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *Router) recentlyDropped(ssrc uint32) bool {
	if ssrc == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dropped := range r.dropped {
		if dropped == ssrc {
			return true
		}
	}
	return false
}
