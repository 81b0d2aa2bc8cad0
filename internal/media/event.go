package media

import "time"

// TrackIdentity identifies the track a state report belongs to. Two
// reports describe the same track when their content IDs match, or when
// title and artist match if either content ID is absent.
type TrackIdentity struct {
	Title     string
	Artist    string
	ContentID string
}

// Equal reports whether two identities describe the same track.
func (id TrackIdentity) Equal(other TrackIdentity) bool {
	if id.ContentID != "" && other.ContentID != "" {
		return id.ContentID == other.ContentID
	}
	return id.Title == other.Title && id.Artist == other.Artist
}

// IsZero reports whether the identity carries no track information.
func (id TrackIdentity) IsZero() bool {
	return id == TrackIdentity{}
}

// StateEvent is a push notification from the media source observer. It
// carries the full player state at the time of the change; position fields
// may be absent.
type StateEvent struct {
	State     PlayerState
	Title     string
	Artist    string
	ContentID string

	// Position is the reported playback position in seconds, valid only
	// when HasPosition is set.
	Position    float64
	HasPosition bool

	// PositionAt is the instant the position was captured at the source.
	// Zero means unknown; the receipt time is used instead.
	PositionAt time.Time
}

// Identity returns the track identity carried by the event.
func (ev StateEvent) Identity() TrackIdentity {
	return TrackIdentity{Title: ev.Title, Artist: ev.Artist, ContentID: ev.ContentID}
}

// PlaybackSample is the last authoritative position report from the media
// source. It is replaced wholesale on each new report, never mutated.
type PlaybackSample struct {
	Position   float64
	CapturedAt time.Time
	State      PlayerState
}

// ChangeEvent is a discrete notification about a non-continuous update.
// TrackChange is true for a genuine track change (the session must be torn
// down) and false for a seek within the same track (re-locate only).
type ChangeEvent struct {
	TrackChange bool
}
