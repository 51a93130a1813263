package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents() (chan uint32, chan uint32, ActivityConfig) {
	starts := make(chan uint32, 16)
	stops := make(chan uint32, 16)
	config := ActivityConfig{
		Window:  50 * time.Millisecond,
		OnStart: func(ssrc uint32) { starts <- ssrc },
		OnStop:  func(ssrc uint32) { stops <- ssrc },
	}
	return starts, stops, config
}

func expectEvent(t *testing.T, ch chan uint32, want uint32) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func expectNoEvent(t *testing.T, ch chan uint32, within time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected event for ssrc %d", got)
	case <-time.After(within):
	}
}

func TestActivityStartStopOncePerRun(t *testing.T) {
	starts, stops, config := collectEvents()
	timer := NewActivityTimer(config)
	defer timer.Stop()

	// A continuous run of packets: one started, and nothing more while
	// packets keep arriving.
	timer.Touch(7)
	expectEvent(t, starts, 7)
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		timer.Touch(7)
	}
	expectNoEvent(t, starts, 20*time.Millisecond)
	expectNoEvent(t, stops, 0)

	// The window elapses: exactly one stopped.
	expectEvent(t, stops, 7)
	expectNoEvent(t, stops, 80*time.Millisecond)

	// A new run emits started again.
	timer.Touch(7)
	expectEvent(t, starts, 7)
}

func TestActivityIndependentSources(t *testing.T) {
	starts, stops, config := collectEvents()
	timer := NewActivityTimer(config)
	defer timer.Stop()

	timer.Touch(1)
	timer.Touch(2)

	seen := map[uint32]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ssrc := <-starts:
			seen[ssrc] = true
		case <-time.After(time.Second):
			t.Fatal("missing started event")
		}
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])

	// Keep source 1 alive past source 2's expiry.
	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		timer.Touch(1)
		time.Sleep(10 * time.Millisecond)
	}

	expectEvent(t, stops, 2)
	expectNoEvent(t, stops, 10*time.Millisecond)
}

func TestActivityDrop(t *testing.T) {
	starts, stops, config := collectEvents()
	timer := NewActivityTimer(config)
	defer timer.Stop()

	timer.Touch(5)
	expectEvent(t, starts, 5)

	timer.Drop(5)
	expectEvent(t, stops, 5)

	// Dropping an inactive source is a no-op.
	timer.Drop(5)
	expectNoEvent(t, stops, 20*time.Millisecond)
}

func TestActivityStaleMarkStartsNewRun(t *testing.T) {
	starts, stops, config := collectEvents()
	config.Window = time.Hour
	timer := NewActivityTimer(config)
	defer timer.Stop()

	timer.Touch(9)
	expectEvent(t, starts, 9)

	// Age the mark past the window without the expiry loop noticing, as
	// when the loop lags behind its deadline.
	timer.mu.Lock()
	timer.last[9] = time.Now().Add(-2 * time.Hour)
	timer.mu.Unlock()

	// The refreshing packet closes the old run and opens a new one.
	timer.Touch(9)
	expectEvent(t, stops, 9)
	expectEvent(t, starts, 9)
	expectNoEvent(t, stops, 20*time.Millisecond)
}

func TestActivityStop(t *testing.T) {
	_, stops, config := collectEvents()
	timer := NewActivityTimer(config)

	timer.Touch(3)
	timer.Stop()

	// No expiry events after shutdown, and stopping again is a no-op.
	expectNoEvent(t, stops, 100*time.Millisecond)
	timer.Stop()
}

func TestActivityDefaultWindow(t *testing.T) {
	timer := NewActivityTimer(ActivityConfig{})
	defer timer.Stop()
	require.Equal(t, DefaultActivityWindow, timer.window)
}
