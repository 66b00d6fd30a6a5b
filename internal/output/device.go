// Package output abstracts the single audio output resource the playback
// engine drives. A Device is an explicitly owned handle: the engine holds
// exactly one at a time, swaps it out under the continuity policy, and
// every consumer of its event channel is released when the device closes.
package output

import (
	"errors"
	"time"
)

var (
	// ErrAborted is returned by Play when a newer SetSource or Close
	// superseded the attempt. Expected under rapid track switching and
	// suppressed by the engine.
	ErrAborted = errors.New("playback aborted")

	// ErrNotReady is returned by SetPosition before the source has
	// reached metadata readiness.
	ErrNotReady = errors.New("output not ready")
)

// Origin selects the credentials mode used when fetching a source URL.
type Origin int

const (
	// OriginOmit fetches without credentials. Required for unproxied
	// external sources, which reject credentialed requests.
	OriginOmit Origin = iota
	// OriginAnonymous fetches with the configured bearer credentials.
	// Used for storage view URLs and upgraded local blobs.
	OriginAnonymous
)

// String returns the origin mode name.
func (o Origin) String() string {
	switch o {
	case OriginOmit:
		return "omit"
	case OriginAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// ReadyState describes how much of the current source is available.
type ReadyState int

const (
	ReadyNone     ReadyState = iota // no source, or still loading
	ReadyMetadata                   // duration known, seeking allowed
	ReadyFull                       // fully decoded and playable
)

// Source is a URL (or local file path) plus its credentials mode.
// Local paths ignore the origin.
type Source struct {
	URL    string
	Origin Origin
}

// EventType identifies a device event.
type EventType int

const (
	EventMetadata EventType = iota // duration became known
	EventProgress                  // periodic position report
	EventEnded                     // source played to its natural end
	EventError                     // source failed to load or decode
)

// Event is a device notification. Only the fields relevant to the type
// are populated.
type Event struct {
	Type     EventType
	Duration time.Duration // EventMetadata
	Position time.Duration // EventProgress
	Err      error         // EventError
}

// Device is one audio output resource.
//
// SetSource assigns a source and begins loading it, implicitly resetting
// the position and releasing the previous source. Play starts or resumes
// and blocks until the source is ready; it returns ErrAborted when a
// newer SetSource or Close superseded the attempt. The Events channel is
// closed by Close, which releases every subscriber.
type Device interface {
	SetSource(src Source)
	Source() Source
	Play() error
	Pause()
	SetVolume(level float64)
	Volume() float64
	Position() time.Duration
	Duration() time.Duration
	SetPosition(pos time.Duration) error
	ReadyState() ReadyState
	SetCaptured(captured bool)
	Captured() bool
	Events() <-chan Event
	Close() error
}
