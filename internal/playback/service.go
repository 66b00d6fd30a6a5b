package playback

import (
	"time"

	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/output"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// Service defines the playback service contract.
type Service interface {
	// Playback control
	Play(item media.Item) error
	PlayAt(index int) error // Play the queue item at index
	Pause() error
	Resume() error
	Toggle() error
	Seek(pos time.Duration) error
	SeekBy(delta time.Duration) error
	Next() error
	Previous() error

	// Queue manipulation
	SetQueue(items []media.Item)
	AddToQueue(item media.Item)

	// Mode control
	Repeat() transport.RepeatMode
	SetRepeat(mode transport.RepeatMode)
	CycleRepeat() transport.RepeatMode
	Shuffle() bool
	SetShuffle(enabled bool)
	ToggleShuffle() bool

	// Volume control
	Volume() float64
	SetVolume(v float64)

	// State queries
	Status() State
	CurrentItem() *media.Item
	QueueItems() []media.Item
	QueueIndex() int
	QueueLen() int
	HasNext() bool
	Position() time.Duration
	Duration() time.Duration
	Device() output.Device // Direct device access (for capture/visualization)

	// Event subscription
	Subscribe() *Subscription

	// Lifecycle
	Close() error
}
