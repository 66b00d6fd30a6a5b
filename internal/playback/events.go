package playback

import (
	"time"

	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// StateChange is emitted when playback state changes.
type StateChange struct {
	Previous State
	Current  State
}

// TrackChange is emitted when the current item actually changes (by id):
// explicit play, next/previous, natural advance, or failure skip.
//
// NOT emitted by:
//   - Pause/Resume: state changes do not emit TrackChange
//   - repeat-one loops: replaying the same item is not a change
//
// Subscribers should handle all item-related side effects (now-playing
// notifications, scrobbling, resume snapshots) in response to this
// event.
type TrackChange struct {
	Previous      *media.Item
	Current       *media.Item
	PreviousIndex int
	Index         int
}

// QueueChange is emitted when the queue contents change.
type QueueChange struct {
	Items []media.Item
	Index int
}

// ModeChange is emitted when repeat or shuffle mode changes.
type ModeChange struct {
	Repeat  transport.RepeatMode
	Shuffle bool
}

// PositionChange is emitted on seeks and on progress ticks from the
// output device.
type PositionChange struct {
	Position time.Duration
}

// DurationChange is emitted when the current item's duration becomes
// known or changes.
type DurationChange struct {
	Duration time.Duration
}

// VolumeChange is emitted when the volume changes.
type VolumeChange struct {
	Volume float64
}

// SourceUpgrade is emitted when playback hot-swaps from a cross-origin
// URL to a local blob copy.
type SourceUpgrade struct {
	ItemID string
	URL    string
}

// ErrorEvent is emitted when an error occurs during playback.
type ErrorEvent struct {
	Operation string // e.g., "play", "resume"
	ItemID    string // item id if applicable
	Err       error
}
