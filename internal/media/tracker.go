package media

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Tuning holds the position tracking parameters. The acceleration and
// seek constants are empirically tuned; keep them configurable.
type Tuning struct {
	// TickInterval is the cadence of the continuous position stream.
	TickInterval time.Duration
	// SeekThreshold is the position jump, in seconds, between consecutive
	// same-track samples that classifies as a seek.
	SeekThreshold float64
	// AccelerationDelay is the elapsed time, in seconds, after which
	// continuous-stream catch-up acceleration starts to ramp.
	AccelerationDelay float64
	// AccelerationCap bounds the catch-up acceleration factor.
	AccelerationCap float64
	// AccelerationRamp is the elapsed-seconds divisor of the linear ramp.
	AccelerationRamp float64
}

// DefaultTuning returns the standard tracking parameters.
func DefaultTuning() Tuning {
	return Tuning{
		TickInterval:      100 * time.Millisecond,
		SeekThreshold:     6.0,
		AccelerationDelay: 2.0,
		AccelerationCap:   1.05,
		AccelerationRamp:  200.0,
	}
}

// Tracker maintains a model of the current playback position for one media
// source, derived from pushed state reports plus elapsed wall-clock time.
// It feeds a continuous position stream while playing and discrete change
// notifications on track changes and seeks.
//
// A tracker is single-use: once it observes a stop or Stop is called, a
// new tracker must be created to resume tracking.
type Tracker struct {
	tuning     Tuning
	continuous bool
	events     <-chan StateEvent
	logger     *log.Logger
	now        func() time.Time

	mu             sync.Mutex
	state          PlayerState
	identity       TrackIdentity
	sample         *PlaybackSample
	pauseStart     time.Time
	lastCalculated float64
	primed         bool
	terminal       bool

	sub    *Subscription
	cancel context.CancelFunc
	doneCh chan struct{}
	stop   sync.Once
}

// NewTracker creates a tracker fed by events. continuous marks radio-style
// sources whose reported position is unreliable.
func NewTracker(tuning Tuning, continuous bool, events <-chan StateEvent, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		tuning:     tuning,
		continuous: continuous,
		events:     events,
		logger:     logger,
		now:        time.Now,
		sub:        newSubscription(),
		doneCh:     make(chan struct{}),
	}
}

// Subscription returns the tracker's output channels.
func (t *Tracker) Subscription() *Subscription {
	return t.sub
}

// State returns the last observed player state.
func (t *Tracker) State() PlayerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Identity returns the last observed track identity.
func (t *Tracker) Identity() TrackIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// Start launches the monitor loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(ctx)
}

// Stop cancels the monitor loop and waits for it to exit, then closes the
// subscription. Safe to call more than once.
func (t *Tracker) Stop() {
	t.stop.Do(func() {
		if t.cancel != nil {
			t.cancel()
			<-t.doneCh
		}
		t.sub.close()
	})
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.tuning.TickInterval)
	defer ticker.Stop()

	events := t.events
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			t.Observe(ev)
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick emits the current position estimate while playing. Missing samples
// just skip the tick.
func (t *Tracker) tick() {
	t.mu.Lock()
	if t.state != StatePlaying || t.sample == nil {
		t.mu.Unlock()
		return
	}
	pos := t.positionLocked()
	t.mu.Unlock()

	t.sub.sendPosition(pos)
}

// Position returns the current position estimate in seconds. While not
// playing it returns the last stationary position unchanged.
func (t *Tracker) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *Tracker) positionLocked() float64 {
	if t.sample == nil {
		return t.lastCalculated
	}
	if t.state != StatePlaying || t.sample.CapturedAt.IsZero() {
		return t.sample.Position
	}

	elapsed := t.now().Sub(t.sample.CapturedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	// Continuous streams get a bounded catch-up acceleration to
	// compensate for identification and processing latency.
	accel := 1.0
	if t.continuous && elapsed > t.tuning.AccelerationDelay {
		accel = math.Min(t.tuning.AccelerationCap, 1.0+elapsed/t.tuning.AccelerationRamp)
	}

	pos := math.Round((t.sample.Position+elapsed*accel)*100) / 100
	t.lastCalculated = pos
	return pos
}

// SetInitialPosition seeds the reference sample, typically from a
// recognition result. capturedAt zero means "now".
func (t *Tracker) SetInitialPosition(pos float64, capturedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if capturedAt.IsZero() {
		capturedAt = t.now()
	}
	t.sample = &PlaybackSample{Position: pos, CapturedAt: capturedAt, State: t.state}
	t.pauseStart = time.Time{}
	t.logger.Debug("set initial position", "position", pos)
}

// Observe processes one pushed state report: pause/resume accounting,
// sample replacement and change classification. The first report primes
// the tracker without emitting notifications.
func (t *Tracker) Observe(ev StateEvent) {
	t.mu.Lock()

	if t.terminal {
		t.mu.Unlock()
		return
	}

	prevState := t.state
	trackChanged := t.primed && !ev.Identity().Equal(t.identity)

	t.handlePauseResumeLocked(prevState, ev.State)

	seek := false
	if !trackChanged && !t.continuous && ev.HasPosition && t.sample != nil &&
		math.Abs(ev.Position-t.sample.Position) > t.tuning.SeekThreshold {
		seek = true
	}

	if trackChanged {
		t.sample = nil
	}
	t.identity = ev.Identity()
	t.state = ev.State

	// Continuous streams keep their seeded sample; their reported
	// positions are not meaningful.
	if ev.HasPosition && (!t.continuous || t.sample == nil) {
		capturedAt := ev.PositionAt
		if capturedAt.IsZero() {
			capturedAt = t.now()
		}
		// A capture time before the current sample's re-states an old
		// snapshot; keep the current sample and its shifted clock.
		if t.sample == nil || !capturedAt.Before(t.sample.CapturedAt) {
			t.sample = &PlaybackSample{Position: ev.Position, CapturedAt: capturedAt, State: ev.State}
		}
	}

	primed := t.primed
	t.primed = true

	stopped := ev.State == StateStopped
	if stopped {
		t.terminal = true
	}
	t.mu.Unlock()

	if !primed {
		return
	}

	switch {
	case trackChanged:
		t.logger.Debug("track change detected", "title", ev.Title, "artist", ev.Artist)
		t.sub.sendChange(ChangeEvent{TrackChange: true})
	case stopped:
		t.logger.Debug("source stopped")
		t.sub.sendChange(ChangeEvent{TrackChange: true})
	case seek:
		t.logger.Debug("seek detected", "position", ev.Position)
		t.sub.sendChange(ChangeEvent{TrackChange: false})
	}
}

// handlePauseResumeLocked shifts the reference sample's capture time
// forward by the pause duration so the position estimate does not advance
// across the gap. Continuous streams are left unshifted.
func (t *Tracker) handlePauseResumeLocked(prev, next PlayerState) {
	if next == StatePaused && prev == StatePlaying {
		t.pauseStart = t.now()
		return
	}

	if next == StatePlaying && prev == StatePaused && !t.pauseStart.IsZero() {
		pauseDur := t.now().Sub(t.pauseStart)
		if !t.continuous && t.sample != nil && !t.sample.CapturedAt.IsZero() {
			t.sample = &PlaybackSample{
				Position:   t.sample.Position,
				CapturedAt: t.sample.CapturedAt.Add(pauseDur),
				State:      t.sample.State,
			}
		}
		t.pauseStart = time.Time{}
	}
}
