// Package media defines the playable item model shared by the transport
// state machine, the playback engine, and the persistence layer.
package media

import (
	"errors"
	"time"
)

// ErrNoSource is returned when an item carries neither an external URL
// nor an internal file identifier.
var ErrNoSource = errors.New("no audio source")

// Item is a track or podcast episode.
type Item struct {
	ID       string
	Title    string
	Artist   string
	Episode  bool
	Duration time.Duration // advisory, may be zero until playback reports it

	Source Source
}

// Source identifies where an item's audio comes from. Exactly two
// implementations exist: ExternalSource and InternalSource. Consumers
// resolve it with a type switch, never by probing fields; a nil Source
// is the ErrNoSource condition.
type Source interface {
	isSource()
}

// ExternalSource is a ready-to-use streaming URL hosted outside our
// storage (third-party CDN, podcast feed enclosure).
type ExternalSource struct {
	URL string
}

// InternalSource is a file identifier in our storage service, resolved
// to a view URL at play time.
type InternalSource struct {
	FileID string
}

func (ExternalSource) isSource() {}
func (InternalSource) isSource() {}

// Verify both variants satisfy Source at compile time.
var (
	_ Source = ExternalSource{}
	_ Source = InternalSource{}
)

// HasSource returns true if the item carries a usable audio source.
func (i Item) HasSource() bool {
	switch s := i.Source.(type) {
	case ExternalSource:
		return s.URL != ""
	case InternalSource:
		return s.FileID != ""
	default:
		return false
	}
}
