package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/baileyboy0304/music-companion/internal/lrclib"
	"github.com/baileyboy0304/music-companion/internal/media"
)

const syncedLyrics = "[00:00.00]Alpha\n[00:05.00]Beta\n[00:10.00]Gamma\n[00:15.00]Delta"

type fakeBackend struct {
	mu      sync.Mutex
	lyrics  map[string]string
	queries int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{lyrics: make(map[string]string)}
}

func (f *fakeBackend) add(artist, title, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lyrics[artist+"\x00"+title] = text
}

func (f *fakeBackend) Search(_ context.Context, artist, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if text, ok := f.lyrics[artist+"\x00"+title]; ok {
		return text, nil
	}
	return "", lrclib.ErrNotFound
}

func (f *fakeBackend) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string)}
}

func (f *fakeStore) Get(artist, title string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.entries[artist+"\x00"+title]
	return text, ok, nil
}

func (f *fakeStore) Set(artist, title, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[artist+"\x00"+title] = text
	return nil
}

type fakeSource struct {
	mu   sync.Mutex
	subs []chan media.StateEvent
}

func (f *fakeSource) Subscribe(string) (<-chan media.StateEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan media.StateEvent, 16)
	f.subs = append(f.subs, ch)
	return ch, func() {}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	renders [][3]string
}

func (r *recordingSink) Render(prev, cur, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, [3]string{prev, cur, next})
	return nil
}

func (r *recordingSink) last() [3]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.renders) == 0 {
		return [3]string{}
	}
	return r.renders[len(r.renders)-1]
}

func (r *recordingSink) saw(current string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rd := range r.renders {
		if rd[1] == current {
			return true
		}
	}
	return false
}

func newTestOrchestrator(t *testing.T, backend Backend, store Store) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	o := New(DefaultConfig(), backend, store, &fakeSource{}, nil)
	o.justStarted = false
	require.NoError(t, o.Register(Device{ID: "living-room", SourceID: "player-1", Sink: sink}))
	t.Cleanup(o.Close)
	return o, sink
}

func playingEvent(title, artist, contentID string) media.StateEvent {
	return media.StateEvent{
		State:     media.StatePlaying,
		Title:     title,
		Artist:    artist,
		ContentID: contentID,
	}
}

func TestOrchestrator_PlayerEventStartsSession(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Bohemian Rhapsody", syncedLyrics)
	o, sink := newTestOrchestrator(t, backend, nil)

	err := o.HandlePlayerEvent(context.Background(), "living-room",
		playingEvent("Bohemian Rhapsody", "Queen", "library://track/1"))
	require.NoError(t, err)

	s, ok := o.Synchronizer("living-room")
	require.True(t, ok)
	require.True(t, s.Active())
	require.True(t, sink.saw("Searching for lyrics..."))

	title, artist, ok := s.CurrentTrack()
	require.True(t, ok)
	require.Equal(t, "Bohemian Rhapsody", title)
	require.Equal(t, "Queen", artist)
}

func TestOrchestrator_RepeatEventIgnored(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Bohemian Rhapsody", syncedLyrics)
	o, _ := newTestOrchestrator(t, backend, nil)

	ev := playingEvent("Bohemian Rhapsody", "Queen", "library://track/1")
	require.NoError(t, o.HandlePlayerEvent(context.Background(), "living-room", ev))
	queries := backend.queryCount()

	require.NoError(t, o.HandlePlayerEvent(context.Background(), "living-room", ev))
	require.Equal(t, queries, backend.queryCount(), "repeat event must not refetch")
}

func TestOrchestrator_NewContentReplacesSession(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Bohemian Rhapsody", syncedLyrics)
	backend.add("Queen", "Somebody to Love", syncedLyrics)
	o, _ := newTestOrchestrator(t, backend, nil)

	ctx := context.Background()
	require.NoError(t, o.HandlePlayerEvent(ctx, "living-room",
		playingEvent("Bohemian Rhapsody", "Queen", "library://track/1")))
	require.NoError(t, o.HandlePlayerEvent(ctx, "living-room",
		playingEvent("Somebody to Love", "Queen", "library://track/2")))

	s, _ := o.Synchronizer("living-room")
	title, _, ok := s.CurrentTrack()
	require.True(t, ok)
	require.Equal(t, "Somebody to Love", title)
}

func TestOrchestrator_NoLyricsFound(t *testing.T) {
	o, sink := newTestOrchestrator(t, newFakeBackend(), nil)

	err := o.HandlePlayerEvent(context.Background(), "living-room",
		playingEvent("Obscure Song", "Nobody", "library://track/1"))
	require.NoError(t, err)

	require.Equal(t, [3]string{"", "No lyrics found", ""}, sink.last())
	s, _ := o.Synchronizer("living-room")
	require.False(t, s.Active())
}

func TestOrchestrator_UnsyncedLyricsRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Nobody", "Plain Song", "just words\nwithout any timestamps")
	o, sink := newTestOrchestrator(t, backend, nil)

	err := o.HandlePlayerEvent(context.Background(), "living-room",
		playingEvent("Plain Song", "Nobody", "library://track/1"))
	require.NoError(t, err)

	require.Equal(t, [3]string{"", "Lyrics not synced", ""}, sink.last())
}

func TestOrchestrator_StreamSkipsAutomaticFetch(t *testing.T) {
	backend := newFakeBackend()
	o, _ := newTestOrchestrator(t, backend, nil)

	err := o.HandlePlayerEvent(context.Background(), "living-room",
		playingEvent("Station Name", "Radio", "library://radio/fm4"))
	require.NoError(t, err)

	require.Zero(t, backend.queryCount(), "stream playback must not query the backend")
	s, _ := o.Synchronizer("living-room")
	require.False(t, s.Active())
}

func TestOrchestrator_RecognitionFetchesOnStream(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Somebody to Love", syncedLyrics)
	o, sink := newTestOrchestrator(t, backend, nil)

	ctx := context.Background()
	require.NoError(t, o.HandlePlayerEvent(ctx, "living-room",
		playingEvent("Station Name", "Radio", "library://radio/fm4")))
	require.NoError(t, o.HandleRecognition(ctx, "living-room", "Somebody to Love", "Queen", 1*time.Second))

	s, _ := o.Synchronizer("living-room")
	require.True(t, s.Active())
	// The recognized position is 1s, so the upcoming line at 5s is shown.
	require.Equal(t, [3]string{"Alpha", "Beta", "Gamma"}, sink.last())
}

func TestOrchestrator_FirstFetchIgnoresPosition(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Bohemian Rhapsody", syncedLyrics)
	sink := &recordingSink{}
	o := New(DefaultConfig(), backend, nil, &fakeSource{}, nil)
	require.NoError(t, o.Register(Device{ID: "living-room", SourceID: "player-1", Sink: sink}))
	t.Cleanup(o.Close)

	ev := playingEvent("Bohemian Rhapsody", "Queen", "library://track/1")
	ev.Position = 12.0
	ev.HasPosition = true
	ev.PositionAt = time.Now()
	require.NoError(t, o.HandlePlayerEvent(context.Background(), "living-room", ev))

	// Position 12s would resolve line "Gamma"; a fresh start shows the
	// first lines instead because the reported position predates us.
	require.Equal(t, [3]string{"", "Alpha", "Beta"}, sink.last())
}

func TestOrchestrator_DuplicateFetchSkipped(t *testing.T) {
	backend := newFakeBackend()
	backend.add("Queen", "Bohemian Rhapsody", syncedLyrics)
	o, _ := newTestOrchestrator(t, backend, nil)

	ctx := context.Background()
	req := Request{Title: "Bohemian Rhapsody", Artist: "Queen", ContentID: "library://track/1"}
	require.NoError(t, o.Fetch(ctx, "living-room", req))
	queries := backend.queryCount()

	require.NoError(t, o.Fetch(ctx, "living-room", req))
	require.Equal(t, queries, backend.queryCount(), "active session for the same track must suppress refetch")
}

func TestOrchestrator_CacheAvoidsBackend(t *testing.T) {
	backend := newFakeBackend()
	store := newFakeStore()
	require.NoError(t, store.Set("Queen", "Bohemian Rhapsody", syncedLyrics))
	o, _ := newTestOrchestrator(t, backend, store)

	err := o.Fetch(context.Background(), "living-room",
		Request{Title: "Bohemian Rhapsody", Artist: "Queen", ContentID: "library://track/1"})
	require.NoError(t, err)

	require.Zero(t, backend.queryCount())
	s, _ := o.Synchronizer("living-room")
	require.True(t, s.Active())
}

func TestOrchestrator_ArtistFallback(t *testing.T) {
	backend := newFakeBackend()
	backend.add("David Bowie", "Under Pressure", syncedLyrics)
	store := newFakeStore()
	o, _ := newTestOrchestrator(t, backend, store)

	err := o.Fetch(context.Background(), "living-room",
		Request{Title: "Under Pressure", Artist: "Queen & David Bowie", ContentID: "library://track/1"})
	require.NoError(t, err)

	s, _ := o.Synchronizer("living-room")
	require.True(t, s.Active())

	// The cache is keyed by the combined credit so the retry is not
	// repeated next time.
	_, ok, err := store.Get("Queen & David Bowie", "Under Pressure")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOrchestrator_UnknownDevice(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeBackend(), nil)

	err := o.HandlePlayerEvent(context.Background(), "garage", media.StateEvent{State: media.StatePlaying})
	require.Error(t, err)
}
