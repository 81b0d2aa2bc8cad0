// Package fetch decides when to fetch lyrics for a device and hands the
// results to that device's synchronizer. It reacts to player state
// changes and to out-of-band song recognition, deduplicates repeat
// fetches, and short-circuits stream sources that report station
// metadata instead of track metadata.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baileyboy0304/music-companion/internal/lrclib"
	"github.com/baileyboy0304/music-companion/internal/lyrics"
	"github.com/baileyboy0304/music-companion/internal/lyricsync"
	"github.com/baileyboy0304/music-companion/internal/media"
)

// Backend searches a lyrics provider for synced lyrics. A miss is
// reported as lrclib.ErrNotFound.
type Backend interface {
	Search(ctx context.Context, artist, title string) (string, error)
}

// Store caches raw synced lyrics between fetches.
type Store interface {
	Get(artist, title string) (string, bool, error)
	Set(artist, title, text string) error
}

// Config holds the orchestrator parameters.
type Config struct {
	// StreamContentPrefix marks content IDs that belong to radio-style
	// streams, where player metadata names the station rather than the
	// song.
	StreamContentPrefix string

	// FingerprintLead backdates recognition positions to cover the time
	// spent capturing and matching the audio sample.
	FingerprintLead time.Duration

	Sync   lyricsync.Config
	Tuning media.Tuning
}

// DefaultConfig returns the standard orchestrator parameters.
func DefaultConfig() Config {
	return Config{
		StreamContentPrefix: "library://radio",
		FingerprintLead:     2 * time.Second,
		Sync:                lyricsync.DefaultConfig(),
		Tuning:              media.DefaultTuning(),
	}
}

// Device is one configured playback device with its own display.
type Device struct {
	ID       string
	SourceID string
	Sink     lyricsync.Sink
}

// Request describes one lyrics fetch.
type Request struct {
	Title  string
	Artist string

	// ContentID is the player-reported media identifier, used for the
	// stream short-circuit and repeat detection.
	ContentID string

	Position    float64 // seconds
	HasPosition bool
	PositionAt  time.Time

	// Fingerprint marks requests that come from audio recognition. They
	// override any running session and bypass the stream short-circuit.
	Fingerprint bool
}

// Orchestrator owns the fetch pipeline for all configured devices.
type Orchestrator struct {
	cfg     Config
	backend Backend
	store   Store
	source  media.Source
	logger  *log.Logger
	now     func() time.Time

	mu          sync.Mutex
	devices     map[string]*deviceState
	justStarted bool
}

type deviceState struct {
	device Device
	sync   *lyricsync.Synchronizer

	mu sync.Mutex
	// prevState and prevContentID mirror the last observed player event
	// so attribute-only churn can be ignored.
	prevSeen      bool
	prevState     media.PlayerState
	prevContentID string
	// lastContentID is the last content ID a fetch was started for.
	lastContentID string
}

// New creates an orchestrator. store may be nil to disable caching.
func New(cfg Config, backend Backend, store Store, source media.Source, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		backend: backend,
		store:   store,
		source:  source,
		logger:  logger,
		now:     time.Now,
		devices: make(map[string]*deviceState),
		// Positions reported right after startup describe playback that
		// began long before we were listening, so the first fetch starts
		// without one.
		justStarted: true,
	}
}

// Register adds a device and creates its synchronizer.
func (o *Orchestrator) Register(dev Device) error {
	if dev.ID == "" || dev.SourceID == "" || dev.Sink == nil {
		return fmt.Errorf("fetch: device needs id, source id and sink")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.devices[dev.ID]; exists {
		return fmt.Errorf("fetch: device %q already registered", dev.ID)
	}

	o.devices[dev.ID] = &deviceState{
		device: dev,
		sync:   lyricsync.New(o.cfg.Sync, o.cfg.Tuning, o.source, dev.Sink, o.logger),
	}
	o.logger.Info("device registered", "device", dev.ID, "source", dev.SourceID)
	return nil
}

// Synchronizer returns the synchronizer owned by a device.
func (o *Orchestrator) Synchronizer(deviceID string) (*lyricsync.Synchronizer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ds, ok := o.devices[deviceID]
	if !ok {
		return nil, false
	}
	return ds.sync, true
}

// Close stops all device synchronizers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	states := make([]*deviceState, 0, len(o.devices))
	for _, ds := range o.devices {
		states = append(states, ds)
	}
	o.mu.Unlock()

	for _, ds := range states {
		ds.sync.Stop()
	}
}

// HandlePlayerEvent reacts to one player state change for a device. A
// new on-demand track triggers a fetch, a stream source tears down the
// display and waits for recognition, and attribute-only updates are
// ignored.
func (o *Orchestrator) HandlePlayerEvent(ctx context.Context, deviceID string, ev media.StateEvent) error {
	ds, err := o.deviceState(deviceID)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	churn := ds.prevSeen && ds.prevState == ev.State && ds.prevContentID == ev.ContentID
	ds.prevSeen = true
	ds.prevState = ev.State
	ds.prevContentID = ev.ContentID
	lastProcessed := ds.lastContentID
	ds.mu.Unlock()

	if churn {
		o.logger.Debug("state and content unchanged, ignoring", "device", deviceID)
		return nil
	}

	stream := o.isStream(ev.ContentID)

	switch {
	case ev.State == media.StatePlaying && !stream:
		if ev.ContentID == "" || ev.ContentID == lastProcessed {
			o.logger.Info("track already processed, skipping fetch", "device", deviceID)
			return nil
		}

		ds.sync.Stop()

		title := CleanTrackName(ev.Title)
		if title == "" || ev.Artist == "" {
			o.logger.Warn("missing track or artist, waiting", "device", deviceID)
			return nil
		}

		o.logger.Info("new track detected",
			"device", deviceID, "artist", ev.Artist, "title", title, "content", ev.ContentID)
		return o.Fetch(ctx, deviceID, Request{
			Title:       title,
			Artist:      ev.Artist,
			ContentID:   ev.ContentID,
			Position:    ev.Position,
			HasPosition: ev.HasPosition,
			PositionAt:  ev.PositionAt,
		})

	case ev.State == media.StatePlaying && stream:
		ds.setLastContentID(ev.ContentID)
		o.logger.Info("stream source, waiting for recognition", "device", deviceID, "content", ev.ContentID)
		ds.sync.Stop()

	default:
		o.logger.Debug("player not playing", "device", deviceID, "state", ev.State)
	}
	return nil
}

// HandleRecognition starts a lyrics session for a song identified by
// audio recognition. playOffset is the in-song position at the moment
// the sample was captured; the captured-at time is backdated by the
// fingerprint lead to cover capture and matching latency.
func (o *Orchestrator) HandleRecognition(ctx context.Context, deviceID, title, artist string, playOffset time.Duration) error {
	if title == "" || artist == "" {
		o.logger.Warn("recognition result missing title or artist", "device", deviceID)
		return nil
	}

	ds, err := o.deviceState(deviceID)
	if err != nil {
		return err
	}

	ds.mu.Lock()
	contentID := ds.prevContentID
	ds.mu.Unlock()

	o.logger.Info("recognition result",
		"device", deviceID, "artist", artist, "title", title, "offset", playOffset)
	return o.Fetch(ctx, deviceID, Request{
		Title:       CleanTrackName(title),
		Artist:      artist,
		ContentID:   contentID,
		Position:    playOffset.Seconds(),
		HasPosition: true,
		PositionAt:  o.now().Add(-o.cfg.FingerprintLead),
		Fingerprint: true,
	})
}

// Fetch looks up lyrics for a track and starts synchronized display on
// the device. Repeat requests for the already-displayed track are
// dropped unless they come from recognition, which always wins so a
// misidentified track can be corrected.
func (o *Orchestrator) Fetch(ctx context.Context, deviceID string, req Request) error {
	ds, err := o.deviceState(deviceID)
	if err != nil {
		return err
	}

	if o.isStream(req.ContentID) && !req.Fingerprint {
		o.logger.Info("stream source, skipping automatic fetch", "device", deviceID)
		return nil
	}

	o.renderStatus(ds, "Searching for lyrics...")

	if o.consumeJustStarted() {
		o.logger.Info("first fetch after startup, ignoring reported position", "device", deviceID)
		req.HasPosition = false
	}

	if !req.Fingerprint {
		if title, artist, ok := ds.sync.CurrentTrack(); ok && title == req.Title && artist == req.Artist {
			o.logger.Info("already displaying lyrics for this track", "device", deviceID)
			return nil
		}
	}

	ds.sync.Stop()
	ds.setLastContentID(req.ContentID)

	raw, err := o.lookup(ctx, req.Artist, req.Title)
	if errors.Is(err, lrclib.ErrNotFound) {
		o.logger.Warn("no lyrics found", "device", deviceID, "artist", req.Artist, "title", req.Title)
		o.renderStatus(ds, "No lyrics found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch lyrics for %q: %w", req.Title, err)
	}

	timeline := lyrics.Parse(raw)
	if timeline.Len() == 0 {
		o.logger.Warn("lyrics have no usable timeline", "device", deviceID, "title", req.Title)
		o.renderStatus(ds, "Lyrics not synced")
		return nil
	}

	opts := lyricsync.StartOptions{
		SourceID:   ds.device.SourceID,
		Title:      req.Title,
		Artist:     req.Artist,
		Timeline:   timeline,
		Continuous: req.Fingerprint,
	}
	if req.HasPosition {
		opts.HasInitialPosition = true
		opts.InitialPosition = req.Position
		opts.InitialPositionAt = req.PositionAt
	}

	o.logger.Info("starting lyrics session",
		"device", deviceID, "title", req.Title, "lines", timeline.Len(), "positioned", req.HasPosition)
	return ds.sync.Start(ctx, opts)
}

// lookup consults the cache, then the backend. A miss with a
// multi-artist credit retries each individual artist, since providers
// often index only the primary one.
func (o *Orchestrator) lookup(ctx context.Context, artist, title string) (string, error) {
	if o.store != nil {
		text, ok, err := o.store.Get(artist, title)
		if err != nil {
			o.logger.Warn("lyrics cache read failed", "err", err)
		} else if ok {
			o.logger.Debug("lyrics cache hit", "artist", artist, "title", title)
			return text, nil
		}
	}

	text, err := o.backend.Search(ctx, artist, title)
	if errors.Is(err, lrclib.ErrNotFound) && ContainsArtistSeparator(artist) {
		o.logger.Info("no lyrics for combined credit, trying individual artists", "artist", artist)
		for _, single := range SplitArtists(artist) {
			text, err = o.backend.Search(ctx, single, title)
			if err == nil {
				o.logger.Info("lyrics found with individual artist", "artist", single)
				break
			}
			if !errors.Is(err, lrclib.ErrNotFound) {
				return "", err
			}
		}
	}
	if err != nil {
		return "", err
	}

	if o.store != nil {
		if serr := o.store.Set(artist, title, text); serr != nil {
			o.logger.Warn("lyrics cache write failed", "err", serr)
		}
	}
	return text, nil
}

func (o *Orchestrator) deviceState(deviceID string) (*deviceState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ds, ok := o.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("fetch: unknown device %q", deviceID)
	}
	return ds, nil
}

func (o *Orchestrator) isStream(contentID string) bool {
	return o.cfg.StreamContentPrefix != "" && strings.HasPrefix(contentID, o.cfg.StreamContentPrefix)
}

func (o *Orchestrator) consumeJustStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	first := o.justStarted
	o.justStarted = false
	return first
}

func (o *Orchestrator) renderStatus(ds *deviceState, message string) {
	if err := ds.device.Sink.Render("", message, ""); err != nil {
		o.logger.Warn("status update failed", "device", ds.device.ID, "err", err)
	}
}

func (ds *deviceState) setLastContentID(contentID string) {
	ds.mu.Lock()
	ds.lastContentID = contentID
	ds.mu.Unlock()
}
