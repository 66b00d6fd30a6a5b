package scrobble

import "time"

// Track contains the metadata of one submission.
type Track struct {
	Artist    string
	Title     string
	Duration  time.Duration
	Timestamp time.Time // when the listen started
}

// Pending is a queued submission awaiting retry.
type Pending struct {
	ID       int64
	Track    Track
	Attempts int
}

// Queue persists scrobbles that could not be delivered so a later
// retry pass can submit them.
type Queue interface {
	AddPendingScrobble(t Track) error
	PendingScrobbles() ([]Pending, error)
	DeletePendingScrobble(id int64) error
	RecordScrobbleAttempt(id int64, errMsg string) error
	PrunePendingScrobbles(maxAge time.Duration) error
}
