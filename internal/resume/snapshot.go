package resume

import (
	"database/sql"
	"errors"
	"time"

	dbutil "github.com/vibrato-audio/vibrato/internal/db"
	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// Snapshot is a saved playback session.
type Snapshot struct {
	Items        []media.Item
	CurrentIndex int
	Repeat       transport.RepeatMode
	Shuffle      bool
	Volume       float64
	SavedAt      time.Time
}

const (
	sourceKindExternal = "external"
	sourceKindInternal = "internal"
)

func sourceColumns(s media.Source) (kind, ref any) {
	switch v := s.(type) {
	case media.ExternalSource:
		return sourceKindExternal, v.URL
	case media.InternalSource:
		return sourceKindInternal, v.FileID
	}
	return nil, nil
}

func sourceFromColumns(kind, ref string) media.Source {
	switch kind {
	case sourceKindExternal:
		return media.ExternalSource{URL: ref}
	case sourceKindInternal:
		return media.InternalSource{FileID: ref}
	}
	return nil
}

func getSnapshot(db *sql.DB) (*Snapshot, error) {
	var currentIndex, repeatMode int
	var shuffle bool
	var volume float64
	var savedAt int64
	row := db.QueryRow(`SELECT current_index, repeat_mode, shuffle, volume, saved_at FROM player_state WHERE id = 1`)
	err := row.Scan(&currentIndex, &repeatMode, &shuffle, &volume, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT item_id, title, artist, episode, duration_ms, source_kind, source_ref
		FROM queue_items
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []media.Item
	for rows.Next() {
		var it media.Item
		var artist, sourceKind, sourceRef sql.NullString
		var durationMS sql.NullInt64

		err := rows.Scan(&it.ID, &it.Title, &artist, &it.Episode, &durationMS, &sourceKind, &sourceRef)
		if err != nil {
			return nil, err
		}

		it.Artist = dbutil.NullString(artist)
		it.Duration = time.Duration(dbutil.NullInt64(durationMS)) * time.Millisecond
		it.Source = sourceFromColumns(dbutil.NullString(sourceKind), dbutil.NullString(sourceRef))
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Items:        items,
		CurrentIndex: currentIndex,
		Repeat:       transport.RepeatMode(repeatMode),
		Shuffle:      shuffle,
		Volume:       volume,
		SavedAt:      time.Unix(savedAt, 0),
	}, nil
}

func saveSnapshot(sqlDB *sql.DB, snap Snapshot) error {
	return dbutil.WithTx(sqlDB, func(tx *sql.Tx) error {
		// Clear existing queue
		_, err := tx.Exec(`DELETE FROM queue_items`)
		if err != nil {
			return err
		}

		savedAt := snap.SavedAt
		if savedAt.IsZero() {
			savedAt = time.Now()
		}

		_, err = tx.Exec(`
			INSERT INTO player_state (id, current_index, repeat_mode, shuffle, volume, saved_at)
			VALUES (1, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				current_index = excluded.current_index,
				repeat_mode = excluded.repeat_mode,
				shuffle = excluded.shuffle,
				volume = excluded.volume,
				saved_at = excluded.saved_at
		`, snap.CurrentIndex, int(snap.Repeat), snap.Shuffle, snap.Volume, savedAt.Unix())
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO queue_items (position, item_id, title, artist, episode, duration_ms, source_kind, source_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, it := range snap.Items {
			var artist any
			if it.Artist != "" {
				artist = it.Artist
			}
			var durationMS any
			if it.Duration > 0 {
				durationMS = it.Duration.Milliseconds()
			}
			kind, ref := sourceColumns(it.Source)
			_, err = stmt.Exec(i, it.ID, it.Title, artist, it.Episode, durationMS, kind, ref)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
