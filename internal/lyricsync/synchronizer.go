// Package lyricsync drives a scrolling lyrics display for one device,
// mapping the tracked playback position to the active timeline line.
package lyricsync

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/baileyboy0304/music-companion/internal/lyrics"
	"github.com/baileyboy0304/music-companion/internal/media"
)

// Config holds the synchronizer timing parameters.
type Config struct {
	// WatchdogInitialInterval is the fast cadence used right after start.
	WatchdogInitialInterval time.Duration
	// WatchdogInitialTicks is how many fast ticks run before settling.
	WatchdogInitialTicks int
	// WatchdogInterval is the steady watchdog cadence.
	WatchdogInterval time.Duration
	// LookaheadMin and LookaheadMax bound the upcoming-line window used
	// for continuous streams.
	LookaheadMin time.Duration
	LookaheadMax time.Duration
}

// DefaultConfig returns the standard synchronizer parameters.
func DefaultConfig() Config {
	return Config{
		WatchdogInitialInterval: 500 * time.Millisecond,
		WatchdogInitialTicks:    5,
		WatchdogInterval:        3 * time.Second,
		LookaheadMin:            500 * time.Millisecond,
		LookaheadMax:            10 * time.Second,
	}
}

// StartOptions describes a synchronization session to start.
type StartOptions struct {
	SourceID string
	Title    string
	Artist   string
	Timeline *lyrics.Timeline

	// HasInitialPosition indicates a reliable starting position is known.
	HasInitialPosition bool
	InitialPosition    float64 // seconds
	InitialPositionAt  time.Time

	// Continuous marks radio-style sources with unreliable positions.
	Continuous bool
}

// Synchronizer owns at most one active sync session for a device. Starting
// a new session always stops the previous one first.
type Synchronizer struct {
	cfg    Config
	tuning media.Tuning
	source media.Source
	sink   Sink
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	session *session
}

type session struct {
	id          string
	sourceID    string
	title       string
	artist      string
	timeline    *lyrics.Timeline
	continuous  bool
	tracker     *media.Tracker
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stop        sync.Once

	mu          sync.Mutex
	lineIndex   int
	lastDisplay time.Time
}

// New creates a synchronizer bound to a media source and display sink.
func New(cfg Config, tuning media.Tuning, source media.Source, sink Sink, logger *log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{
		cfg:    cfg,
		tuning: tuning,
		source: source,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Active reports whether a session is currently running.
func (s *Synchronizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// CurrentTrack returns the (title, artist) of the active session, if any.
func (s *Synchronizer) CurrentTrack() (title, artist string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", "", false
	}
	return s.session.title, s.session.artist, true
}

// Start begins synchronization for a resolved track, stopping any prior
// session first. When a reliable initial position is supplied the starting
// line is resolved and rendered immediately; otherwise the first lines are
// shown provisionally until the tracker's first position update.
func (s *Synchronizer) Start(ctx context.Context, opts StartOptions) error {
	s.Stop()

	events, unsubscribe, err := s.source.Subscribe(opts.SourceID)
	if err != nil {
		return err
	}

	tracker := media.NewTracker(s.tuning, opts.Continuous, events, s.logger)

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:          uuid.New().String(),
		sourceID:    opts.SourceID,
		title:       opts.Title,
		artist:      opts.Artist,
		timeline:    opts.Timeline,
		continuous:  opts.Continuous,
		tracker:     tracker,
		unsubscribe: unsubscribe,
		cancel:      cancel,
		lineIndex:   -1,
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	if opts.HasInitialPosition {
		tracker.SetInitialPosition(opts.InitialPosition, opts.InitialPositionAt)
		s.syncToPosition(sess, int64(opts.InitialPosition*1000))
	} else {
		s.renderProvisional(sess)
	}

	tracker.Start(sessCtx)

	sess.wg.Add(2)
	go s.eventLoop(sessCtx, sess)
	go s.watchdog(sessCtx, sess)

	s.logger.Info("lyrics sync started",
		"session", sess.id,
		"source", sess.sourceID,
		"lines", sess.timeline.Len(),
		"continuous", sess.continuous,
		"positioned", opts.HasInitialPosition)
	return nil
}

// Stop ends the current session, if any. It cancels the watchdog and the
// tracker, waits for both to finish, and clears the display. Idempotent
// and safe to call from any goroutine.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		s.stopSession(sess)
	}
}

func (s *Synchronizer) stopSession(sess *session) {
	sess.stop.Do(func() {
		sess.cancel()
		sess.tracker.Stop()
		sess.wg.Wait()
		sess.unsubscribe()

		if err := s.sink.Render("", "", ""); err != nil {
			s.logger.Warn("clearing display failed", "session", sess.id, "err", err)
		}

		s.mu.Lock()
		if s.session == sess {
			s.session = nil
		}
		s.mu.Unlock()

		s.logger.Info("lyrics sync stopped", "session", sess.id, "source", sess.sourceID)
	})
}

// eventLoop applies tracker output to the display in observation order.
func (s *Synchronizer) eventLoop(ctx context.Context, sess *session) {
	defer sess.wg.Done()

	sub := sess.tracker.Subscription()
	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-sub.Positions:
			if finished := s.handlePosition(sess, pos); finished {
				go s.stopSession(sess)
				return
			}
		case ev := <-sub.Changes:
			if ev.TrackChange {
				s.logger.Info("track change, ending session", "session", sess.id)
				go s.stopSession(sess)
				return
			}
			s.resync(sess)
		}
	}
}

// handlePosition resolves the active line for a continuous position update
// and redisplays only when the line index changes. It returns true when
// the timeline is exhausted.
func (s *Synchronizer) handlePosition(sess *session, pos float64) bool {
	posMS := int64(pos * 1000)

	if posMS >= sess.timeline.LastOffset() {
		s.logger.Info("lyrics finished", "session", sess.id)
		return true
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := sess.timeline.Locate(posMS)
	if idx == -1 {
		// Before the first line.
		sess.lineIndex = -1
		return false
	}

	if idx != sess.lineIndex {
		s.renderLineLocked(sess, idx)
	}
	return false
}

// resync re-locates within the existing timeline after a seek and
// redisplays immediately.
func (s *Synchronizer) resync(sess *session) {
	posMS := int64(sess.tracker.Position() * 1000)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.lineIndex = -1
	if idx := sess.timeline.Locate(posMS); idx >= 0 {
		s.renderLineLocked(sess, idx)
		s.logger.Debug("resynced after seek", "session", sess.id, "line", idx)
	}
}

// syncToPosition resolves and renders the starting line for a known
// initial position. Continuous streams prefer an upcoming line within the
// lookahead window over the exact containment match.
func (s *Synchronizer) syncToPosition(sess *session, posMS int64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := -1
	if sess.continuous {
		idx = sess.timeline.LocateUpcoming(posMS, s.cfg.LookaheadMin.Milliseconds(), s.cfg.LookaheadMax.Milliseconds())
	}
	if idx == -1 {
		idx = sess.timeline.Locate(posMS)
	}
	if idx == -1 {
		s.renderProvisionalLocked(sess)
		return
	}

	s.renderLineLocked(sess, idx)
}

// renderProvisional shows the first one or two lines while waiting for the
// first reliable position update.
func (s *Synchronizer) renderProvisional(sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.renderProvisionalLocked(sess)
}

func (s *Synchronizer) renderProvisionalLocked(sess *session) {
	if sess.timeline.Len() == 0 {
		return
	}
	next := ""
	if sess.timeline.Len() > 1 {
		next = sess.timeline.Line(1)
	}
	if err := s.sink.Render("", sess.timeline.Line(0), next); err != nil {
		s.logger.Warn("display update failed", "session", sess.id, "err", err)
	}
	sess.lastDisplay = s.now()
}

// renderLineLocked writes the context of line idx to the sink. The logical
// transition completes even if the sink reports an error.
func (s *Synchronizer) renderLineLocked(sess *session, idx int) {
	prev, cur, next := sess.timeline.Context(idx)
	if err := s.sink.Render(prev, cur, next); err != nil {
		s.logger.Warn("display update failed", "session", sess.id, "line", idx, "err", err)
	}
	sess.lineIndex = idx
	sess.lastDisplay = s.now()
}

// watchdog periodically forces a redisplay when no display update happened
// within the interval, recovering from missed transitions. It runs fast
// for the first few ticks after start to minimize perceived startup lag.
func (s *Synchronizer) watchdog(ctx context.Context, sess *session) {
	defer sess.wg.Done()

	ticks := 0
	for {
		interval := s.cfg.WatchdogInterval
		if ticks < s.cfg.WatchdogInitialTicks {
			interval = s.cfg.WatchdogInitialInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			ticks++
		}

		sess.mu.Lock()
		stale := s.now().Sub(sess.lastDisplay) > interval
		sess.mu.Unlock()

		if !stale || sess.tracker.State() != media.StatePlaying {
			continue
		}

		if finished := s.forceRedisplay(sess); finished {
			go s.stopSession(sess)
			return
		}
	}
}

// forceRedisplay recomputes the active line from the tracker's current
// estimate. When the exact interval lookup misses, it falls back to the
// closest line so the display can never get permanently stuck.
func (s *Synchronizer) forceRedisplay(sess *session) bool {
	posMS := int64(sess.tracker.Position() * 1000)

	if posMS >= sess.timeline.LastOffset() {
		s.logger.Info("lyrics finished", "session", sess.id)
		return true
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := sess.timeline.Locate(posMS)
	if idx == -1 && sess.timeline.Len() > 0 && posMS >= sess.timeline.Offset(0) {
		idx = sess.timeline.Closest(posMS)
		s.logger.Debug("no exact line match, using closest", "session", sess.id, "line", idx)
	}
	if idx == -1 {
		return false
	}

	s.renderLineLocked(sess, idx)
	return false
}
