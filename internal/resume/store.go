// Package resume persists playback sessions to SQLite so the player can
// pick up where it left off: the queue with item sources, the transport
// modes, the volume, and per-item listening positions.
package resume

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName      = "vibrato"
	dbFileName   = "vibrato.db"
	saveDebounce = 500 * time.Millisecond
)

// Store owns the session database. Snapshot saves are debounced so
// bursts of queue edits collapse into one write; position saves are
// immediate because callers already throttle them.
type Store struct {
	db        *sql.DB
	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *Snapshot
}

// Open opens the session database in the XDG data directory, creating
// it and the schema as needed.
func Open() (*Store, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	return openAt(dbPath)
}

func openAt(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close flushes any pending snapshot and closes the database.
func (s *Store) Close() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	pending := s.pending
	s.pending = nil
	s.saveMu.Unlock()

	if pending != nil {
		_ = saveSnapshot(s.db, *pending)
	}

	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveSnapshot schedules a debounced write of the session snapshot.
// The latest snapshot wins; earlier pending ones are discarded.
func (s *Store) SaveSnapshot(snap Snapshot) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.pending = &snap

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}

	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.saveMu.Lock()
		pending := s.pending
		s.pending = nil
		s.saveMu.Unlock()

		if pending != nil {
			_ = saveSnapshot(s.db, *pending)
		}
	})
}

// Snapshot loads the saved session, or nil when none was ever saved.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.saveMu.Lock()
	pending := s.pending
	s.saveMu.Unlock()
	if pending != nil {
		snap := *pending
		return &snap, nil
	}
	return getSnapshot(s.db)
}

// SavePosition upserts the listening position for an item. A zero
// duration stores NULL so a later probe can fill it in.
func (s *Store) SavePosition(itemID string, pos, dur time.Duration) error {
	var durMS any
	if dur > 0 {
		durMS = dur.Milliseconds()
	}
	_, err := s.db.Exec(`
		INSERT INTO item_positions (item_id, position_ms, duration_ms, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			position_ms = excluded.position_ms,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, itemID, pos.Milliseconds(), durMS, time.Now().Unix())
	return err
}

// Position returns the saved listening position for an item. The bool
// reports whether a position was found.
func (s *Store) Position(itemID string) (time.Duration, bool, error) {
	var posMS int64
	row := s.db.QueryRow(`SELECT position_ms FROM item_positions WHERE item_id = ?`, itemID)
	err := row.Scan(&posMS)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return time.Duration(posMS) * time.Millisecond, true, nil
}

// DeletePosition removes the saved position for an item, typically
// after it finished playing.
func (s *Store) DeletePosition(itemID string) error {
	_, err := s.db.Exec(`DELETE FROM item_positions WHERE item_id = ?`, itemID)
	return err
}

// Clear removes the saved session and all item positions.
func (s *Store) Clear() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.pending = nil
	s.saveMu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM player_state;
		DELETE FROM queue_items;
		DELETE FROM item_positions;
	`)
	return err
}

// endGrace is how close to the end a saved position may be before
// resuming restarts from the beginning instead.
const endGrace = 5 * time.Second

// ResumePoint returns where playback should pick up for an item: the
// saved position, or zero (and false) when none was saved or the item
// had effectively finished.
func (s *Store) ResumePoint(itemID string) (time.Duration, bool, error) {
	var posMS int64
	var durMS sql.NullInt64
	row := s.db.QueryRow(`SELECT position_ms, duration_ms FROM item_positions WHERE item_id = ?`, itemID)
	err := row.Scan(&posMS, &durMS)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	pos := time.Duration(posMS) * time.Millisecond
	if pos <= 0 {
		return 0, false, nil
	}
	if durMS.Valid {
		dur := time.Duration(durMS.Int64) * time.Millisecond
		if pos >= dur-endGrace {
			return 0, false, nil
		}
	}
	return pos, true, nil
}

func getDBPath() (string, error) {
	return xdg.DataFile(filepath.Join(appName, dbFileName))
}
