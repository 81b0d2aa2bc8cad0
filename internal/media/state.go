// Package media tracks the playback position of an external media source,
// reconciling periodically reported positions against wall-clock time and
// classifying observed updates into track changes and seeks.
package media

// PlayerState represents the observed playback state of the media source.
type PlayerState int

const (
	StateIdle PlayerState = iota
	StatePlaying
	StatePaused
	StateStopped
)

// String returns the state name.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsActive returns true if playback is active (playing or paused).
func (s PlayerState) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}
