package voice

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultActivityWindow is how long a source may go without a packet
// before it is considered to have stopped producing audio.
const DefaultActivityWindow = 500 * time.Millisecond

// ActivityConfig configures an ActivityTimer.
type ActivityConfig struct {
	// Window is the silence duration that ends a run of activity. Zero
	// means DefaultActivityWindow.
	Window time.Duration

	// OnStart is invoked when a source begins producing audio. Optional.
	OnStart func(ssrc uint32)

	// OnStop is invoked when a source's window elapses with no further
	// packets, or when the source is dropped. Optional.
	OnStop func(ssrc uint32)
}

// ActivityTimer derives per-source speaking transitions from packet
// arrival cadence, independent of decode timing. Touch marks arrivals;
// a background loop wakes at the earliest pending deadline and expires
// sources whose window has elapsed. Exactly one start and one stop are
// emitted per continuous run of packets.
type ActivityTimer struct {
	window  time.Duration
	onStart func(ssrc uint32)
	onStop  func(ssrc uint32)

	mu   sync.Mutex
	last map[uint32]time.Time // active sources only

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewActivityTimer creates the timer and starts its expiry loop.
func NewActivityTimer(config ActivityConfig) *ActivityTimer {
	if config.Window <= 0 {
		config.Window = DefaultActivityWindow
	}

	t := &ActivityTimer{
		window:  config.Window,
		onStart: config.OnStart,
		onStop:  config.OnStop,
		last:    make(map[uint32]time.Time),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Touch records a packet arrival for a source, emitting the started
// event when the source was not already active. A mark that has aged
// past the window counts as inactive: the expiry loop may not have
// observed the deadline yet, but the run it belonged to is over, so the
// pending stopped event is emitted here before the new run's started.
func (t *ActivityTimer) Touch(ssrc uint32) {
	now := time.Now()

	t.mu.Lock()
	at, active := t.last[ssrc]
	stale := active && now.Sub(at) >= t.window
	t.last[ssrc] = now
	t.mu.Unlock()

	if stale {
		logrus.WithFields(logrus.Fields{
			"function": "ActivityTimer.Touch",
			"ssrc":     ssrc,
		}).Debug("Activity stopped (stale mark)")
		if t.onStop != nil {
			t.onStop(ssrc)
		}
	}
	if !active || stale {
		logrus.WithFields(logrus.Fields{
			"function": "ActivityTimer.Touch",
			"ssrc":     ssrc,
		}).Debug("Activity started")
		if t.onStart != nil {
			t.onStart(ssrc)
		}
	}
	t.signal()
}

// Drop forces an immediate stopped event for a source, used when a
// participant leaves mid-run.
func (t *ActivityTimer) Drop(ssrc uint32) {
	t.mu.Lock()
	_, active := t.last[ssrc]
	delete(t.last, ssrc)
	t.mu.Unlock()

	if active {
		logrus.WithFields(logrus.Fields{
			"function": "ActivityTimer.Drop",
			"ssrc":     ssrc,
		}).Debug("Activity stopped (dropped)")
		if t.onStop != nil {
			t.onStop(ssrc)
		}
	}
	t.signal()
}

// Stop terminates the expiry loop. Active sources do not get a final
// stopped event. Safe to call more than once.
func (t *ActivityTimer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

// run sleeps until the earliest pending deadline, a new arrival, or
// shutdown, then expires every source whose window has elapsed.
func (t *ActivityTimer) run() {
	defer close(t.done)

	for {
		timer := time.NewTimer(t.nextWait())
		select {
		case <-t.stop:
			timer.Stop()
			return
		case <-t.wake:
			timer.Stop()
		case <-timer.C:
			t.expire()
		}
	}
}

// nextWait is the time until the earliest active source's deadline, or
// the full window when nothing is active.
func (t *ActivityTimer) nextWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	wait := t.window
	now := time.Now()
	for _, at := range t.last {
		if d := at.Add(t.window).Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (t *ActivityTimer) expire() {
	now := time.Now()

	t.mu.Lock()
	var expired []uint32
	for ssrc, at := range t.last {
		if now.Sub(at) >= t.window {
			expired = append(expired, ssrc)
			delete(t.last, ssrc)
		}
	}
	t.mu.Unlock()

	for _, ssrc := range expired {
		logrus.WithFields(logrus.Fields{
			"function": "ActivityTimer.expire",
			"ssrc":     ssrc,
		}).Debug("Activity stopped (window elapsed)")
		if t.onStop != nil {
			t.onStop(ssrc)
		}
	}
}

func (t *ActivityTimer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
