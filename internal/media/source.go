package media

// Source is the media source observer boundary. Implementations push a
// StateEvent whenever the underlying player state changes; delivery is
// at-least-eventual, not low latency. A source must support multiple
// concurrent subscribers per ID.
type Source interface {
	// Subscribe returns a channel of state events for the given source ID
	// and a function that releases the subscription.
	Subscribe(sourceID string) (<-chan StateEvent, func(), error)
}
