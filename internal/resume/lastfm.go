package resume

import (
	"database/sql"
	"time"

	"github.com/vibrato-audio/vibrato/internal/scrobble"
)

// Store doubles as the scrobbler's offline retry queue.
var _ scrobble.Queue = (*Store)(nil)

// LastfmSession is a stored Last.fm session.
type LastfmSession struct {
	Username   string
	SessionKey string
	LinkedAt   time.Time
}

// LastfmSession returns the stored Last.fm session, or nil if not linked.
func (s *Store) LastfmSession() (*LastfmSession, error) {
	var username, sessionKey string
	var linkedAt int64

	err := s.db.QueryRow(`
		SELECT username, session_key, linked_at FROM lastfm_session WHERE id = 1
	`).Scan(&username, &sessionKey, &linkedAt)

	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // nil session means not linked, not an error
	}
	if err != nil {
		return nil, err
	}

	return &LastfmSession{
		Username:   username,
		SessionKey: sessionKey,
		LinkedAt:   time.Unix(linkedAt, 0),
	}, nil
}

// SaveLastfmSession stores the Last.fm session after successful authentication.
func (s *Store) SaveLastfmSession(username, sessionKey string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO lastfm_session (id, username, session_key, linked_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			session_key = excluded.session_key,
			linked_at = excluded.linked_at
	`, username, sessionKey, now)
	return err
}

// DeleteLastfmSession removes the stored Last.fm session (unlink).
func (s *Store) DeleteLastfmSession() error {
	_, err := s.db.Exec(`DELETE FROM lastfm_session WHERE id = 1`)
	return err
}

// AddPendingScrobble queues a scrobble for later submission.
func (s *Store) AddPendingScrobble(t scrobble.Track) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO lastfm_pending_scrobbles
		(artist, track, duration_seconds, timestamp, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, 0, '', ?)
	`, t.Artist, t.Title, int(t.Duration.Seconds()), t.Timestamp.Unix(), now)
	return err
}

// PendingScrobbles returns all queued scrobbles ordered by creation time.
func (s *Store) PendingScrobbles() ([]scrobble.Pending, error) {
	rows, err := s.db.Query(`
		SELECT id, artist, track, duration_seconds, timestamp, attempts
		FROM lastfm_pending_scrobbles
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []scrobble.Pending
	for rows.Next() {
		var p scrobble.Pending
		var durationSecs int
		var timestamp int64

		if err := rows.Scan(&p.ID, &p.Track.Artist, &p.Track.Title, &durationSecs, &timestamp, &p.Attempts); err != nil {
			return nil, err
		}

		p.Track.Duration = time.Duration(durationSecs) * time.Second
		p.Track.Timestamp = time.Unix(timestamp, 0)
		pending = append(pending, p)
	}

	return pending, rows.Err()
}

// DeletePendingScrobble removes a successfully submitted scrobble.
func (s *Store) DeletePendingScrobble(id int64) error {
	_, err := s.db.Exec(`DELETE FROM lastfm_pending_scrobbles WHERE id = ?`, id)
	return err
}

// RecordScrobbleAttempt increments the attempt count and sets the error message.
func (s *Store) RecordScrobbleAttempt(id int64, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE lastfm_pending_scrobbles
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, errMsg, id)
	return err
}

// PrunePendingScrobbles removes queued scrobbles older than maxAge.
func (s *Store) PrunePendingScrobbles(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).Unix()
	_, err := s.db.Exec(`DELETE FROM lastfm_pending_scrobbles WHERE created_at < ?`, cutoff)
	return err
}
