// Package mpris observes MPRIS players over D-Bus and publishes their
// state changes as playback events. One observer serves any number of
// players on the same bus, each identified by its well-known bus name.
package mpris

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"

	"github.com/baileyboy0304/music-companion/internal/media"
)

const (
	mprisPath        = "/org/mpris/MediaPlayer2"
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"
	mprisNamePrefix  = "org.mpris.MediaPlayer2."

	signalBufferSize = 32
	eventBufferSize  = 16
)

// Observer listens for PropertiesChanged and Seeked signals and fans
// them out to subscribers as media.StateEvent values.
type Observer struct {
	bus    *dbus.Conn
	logger *log.Logger

	signals  chan *dbus.Signal
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	services map[string]*serviceState
}

type serviceState struct {
	name  string
	owner string

	// snapshot carries the last known metadata so partial signals can
	// still produce complete events.
	snapshot media.StateEvent

	nextID int
	subs   map[int]chan media.StateEvent
}

// NewObserver creates an observer on an established session bus
// connection. Call Start before subscribing.
func NewObserver(bus *dbus.Conn, logger *log.Logger) (*Observer, error) {
	if bus == nil {
		return nil, errors.New("mpris: nil dbus connection")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Observer{
		bus:      bus,
		logger:   logger,
		signals:  make(chan *dbus.Signal, signalBufferSize),
		stopCh:   make(chan struct{}),
		services: make(map[string]*serviceState),
	}, nil
}

// Start begins signal dispatch.
func (o *Observer) Start() {
	o.bus.Signal(o.signals)
	go o.loop()
}

// Stop ends signal dispatch and closes all subscriber channels.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.bus.RemoveSignal(o.signals)

		o.mu.Lock()
		defer o.mu.Unlock()
		for _, svc := range o.services {
			for _, ch := range svc.subs {
				close(ch)
			}
			svc.subs = map[int]chan media.StateEvent{}
		}
	})
}

// Subscribe registers for state events of one player, identified by its
// MPRIS bus name (for example "org.mpris.MediaPlayer2.spotify"). The
// returned cancel func removes the subscription.
func (o *Observer) Subscribe(sourceID string) (<-chan media.StateEvent, func(), error) {
	if sourceID == "" {
		return nil, nil, errors.New("mpris: empty source id")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	svc, ok := o.services[sourceID]
	if !ok {
		var err error
		svc, err = o.watchService(sourceID)
		if err != nil {
			return nil, nil, err
		}
		o.services[sourceID] = svc
	}

	id := svc.nextID
	svc.nextID++
	ch := make(chan media.StateEvent, eventBufferSize)
	svc.subs[id] = ch

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, exists := svc.subs[id]; exists {
			delete(svc.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// watchService adds the match rules for one player and primes its
// snapshot from the current player properties. Callers hold o.mu.
func (o *Observer) watchService(name string) (*serviceState, error) {
	matches := []string{
		fmt.Sprintf("type='signal',sender='%s',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'",
			name, mprisPath),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='Seeked',path='%s'",
			name, mprisPlayerIface, mprisPath),
	}
	for _, match := range matches {
		if err := o.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match).Err; err != nil {
			return nil, fmt.Errorf("mpris: add match for %s: %w", name, err)
		}
	}

	svc := &serviceState{
		name: name,
		subs: make(map[int]chan media.StateEvent),
	}

	// Signals carry the sender's unique name, so resolve the owner for
	// dispatch. A player that is not running yet resolves later, on its
	// first signal, via the well-known name.
	var owner string
	if err := o.bus.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err == nil {
		svc.owner = owner
		o.primeSnapshot(svc)
	} else {
		o.logger.Debug("player not running yet", "player", name)
	}

	o.logger.Info("watching mpris player", "player", name)
	return svc, nil
}

// primeSnapshot reads the player's current properties so the first
// emitted event is complete. Best effort.
func (o *Observer) primeSnapshot(svc *serviceState) {
	obj := o.bus.Object(svc.name, mprisPath)

	if prop, err := obj.GetProperty(mprisPlayerIface + ".PlaybackStatus"); err == nil {
		if status, ok := prop.Value().(string); ok {
			svc.snapshot.State = playbackState(status)
		}
	}
	if prop, err := obj.GetProperty(mprisPlayerIface + ".Metadata"); err == nil {
		if metadata, ok := prop.Value().(map[string]dbus.Variant); ok {
			applyMetadata(&svc.snapshot, metadata)
		}
	}
	if pos, ok := o.queryPosition(svc.name); ok {
		svc.snapshot.Position = pos
		svc.snapshot.HasPosition = true
		svc.snapshot.PositionAt = time.Now()
	}
}

func (o *Observer) loop() {
	for {
		select {
		case <-o.stopCh:
			return
		case sig, ok := <-o.signals:
			if !ok {
				return
			}
			o.handleSignal(sig)
		}
	}
}

func (o *Observer) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Path != mprisPath {
		return
	}

	switch sig.Name {
	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		o.handlePropertiesChanged(sig)
	case "org.mpris.MediaPlayer2.Player.Seeked":
		o.handleSeeked(sig)
	}
}

func (o *Observer) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != mprisPlayerIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	o.mu.Lock()
	svc := o.serviceForSender(sig.Sender)
	if svc == nil {
		o.mu.Unlock()
		return
	}

	if metadataVariant, exists := changed["Metadata"]; exists {
		if metadata, ok := metadataVariant.Value().(map[string]dbus.Variant); ok {
			applyMetadata(&svc.snapshot, metadata)
			// A metadata change usually means a new track started, so
			// refresh the position instead of reusing the stale one.
			if pos, ok := o.queryPosition(svc.name); ok {
				svc.snapshot.Position = pos
				svc.snapshot.HasPosition = true
				svc.snapshot.PositionAt = time.Now()
			} else {
				svc.snapshot.HasPosition = false
			}
		}
	}
	if statusVariant, exists := changed["PlaybackStatus"]; exists {
		if status, ok := statusVariant.Value().(string); ok {
			svc.snapshot.State = playbackState(status)
		}
	}

	ev := svc.snapshot
	o.mu.Unlock()

	o.emit(svc, ev)
}

func (o *Observer) handleSeeked(sig *dbus.Signal) {
	if len(sig.Body) < 1 {
		return
	}
	positionMicros, ok := sig.Body[0].(int64)
	if !ok || positionMicros < 0 {
		return
	}

	o.mu.Lock()
	svc := o.serviceForSender(sig.Sender)
	if svc == nil {
		o.mu.Unlock()
		return
	}
	svc.snapshot.Position = float64(positionMicros) / 1e6
	svc.snapshot.HasPosition = true
	svc.snapshot.PositionAt = time.Now()
	ev := svc.snapshot
	o.mu.Unlock()

	o.emit(svc, ev)
}

// serviceForSender maps a signal sender to a watched service. Callers
// hold o.mu. An unresolved owner is filled in lazily on first match by
// re-querying the name owner.
func (o *Observer) serviceForSender(sender string) *serviceState {
	for _, svc := range o.services {
		if svc.owner == sender || svc.name == sender {
			return svc
		}
	}
	for _, svc := range o.services {
		if svc.owner != "" {
			continue
		}
		var owner string
		if err := o.bus.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, svc.name).Store(&owner); err == nil {
			svc.owner = owner
			if owner == sender {
				return svc
			}
		}
	}
	return nil
}

func (o *Observer) emit(svc *serviceState, ev media.StateEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range svc.subs {
		select {
		case ch <- ev:
		default:
			o.logger.Warn("dropping event for slow subscriber", "player", svc.name)
		}
	}
}

func (o *Observer) queryPosition(name string) (float64, bool) {
	prop, err := o.bus.Object(name, mprisPath).GetProperty(mprisPlayerIface + ".Position")
	if err != nil {
		return 0, false
	}
	positionMicros, ok := prop.Value().(int64)
	if !ok || positionMicros < 0 {
		return 0, false
	}
	return float64(positionMicros) / 1e6, true
}

// ListPlayers returns the MPRIS bus names currently present on the bus.
func ListPlayers(bus *dbus.Conn) ([]string, error) {
	var names []string
	if err := bus.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("mpris: list bus names: %w", err)
	}

	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisNamePrefix) {
			players = append(players, name)
		}
	}
	return players, nil
}

func playbackState(status string) media.PlayerState {
	switch status {
	case "Playing":
		return media.StatePlaying
	case "Paused":
		return media.StatePaused
	case "Stopped":
		return media.StateStopped
	default:
		return media.StateIdle
	}
}

func applyMetadata(ev *media.StateEvent, metadata map[string]dbus.Variant) {
	ev.Title = metadataString(metadata, "xesam:title")
	ev.Artist = metadataArtist(metadata, "xesam:artist")
	ev.ContentID = contentID(metadata)
}

// contentID prefers the stable track URL over the player-assigned
// track object path, which some players recycle between tracks.
func contentID(metadata map[string]dbus.Variant) string {
	if url := metadataString(metadata, "xesam:url"); url != "" {
		return url
	}
	if trackID, exists := metadata["mpris:trackid"]; exists {
		switch typed := trackID.Value().(type) {
		case dbus.ObjectPath:
			return string(typed)
		case string:
			return typed
		}
	}
	return ""
}

func metadataString(metadata map[string]dbus.Variant, key string) string {
	variant, exists := metadata[key]
	if !exists {
		return ""
	}
	if text, ok := variant.Value().(string); ok {
		return text
	}
	return ""
}

func metadataArtist(metadata map[string]dbus.Variant, key string) string {
	variant, exists := metadata[key]
	if !exists {
		return ""
	}
	switch typed := variant.Value().(type) {
	case []string:
		if len(typed) > 0 {
			return typed[0]
		}
	case string:
		return typed
	}
	return ""
}
