package resume

import (
	"testing"
	"time"

	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/output"
	"github.com/vibrato-audio/vibrato/internal/playback"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

type trackerFixture struct {
	eng     *playback.Engine
	dev     *output.Mock
	store   *Store
	tracker *Tracker
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		dev:   output.NewMock(),
		store: &Store{db: setupTestDB(t)},
	}
	f.dev.SetAutoReady(true)
	f.eng = playback.New(playback.Options{Device: f.dev})
	f.tracker = Watch(f.eng, f.store, nil)
	t.Cleanup(func() {
		f.tracker.Stop()
		f.eng.Close()
		f.store.db.Close()
	})
	return f
}

func extItem(id string) media.Item {
	return media.Item{
		ID:     id,
		Title:  "Title " + id,
		Source: media.ExternalSource{URL: "https://cdn.example.com/" + id + ".mp3"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// forcePositionThrottle makes the interval long enough that only the
// first tick of a test can be saved.
func forcePositionThrottle(t *testing.T) {
	t.Helper()
	old := positionSaveInterval
	positionSaveInterval = time.Hour
	t.Cleanup(func() { positionSaveInterval = old })
}

func (f *trackerFixture) snapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := f.store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func TestTracker_SnapshotOnQueueChange(t *testing.T) {
	f := newTrackerFixture(t)

	f.eng.SetQueue([]media.Item{extItem("a"), extItem("b")})

	waitFor(t, "queue snapshot", func() bool {
		snap := f.snapshot(t)
		return snap != nil && len(snap.Items) == 2
	})

	snap := f.snapshot(t)
	if snap.Items[0].ID != "a" || snap.Items[1].ID != "b" {
		t.Errorf("snapshot items = %v, %v, want a, b", snap.Items[0].ID, snap.Items[1].ID)
	}
	if snap.CurrentIndex != -1 {
		t.Errorf("CurrentIndex = %d, want -1", snap.CurrentIndex)
	}
}

func TestTracker_SnapshotOnTrackChange(t *testing.T) {
	f := newTrackerFixture(t)
	f.eng.SetQueue([]media.Item{extItem("a"), extItem("b")})

	if err := f.eng.PlayAt(1); err != nil {
		t.Fatalf("PlayAt() error = %v", err)
	}

	waitFor(t, "track snapshot", func() bool {
		snap := f.snapshot(t)
		return snap != nil && snap.CurrentIndex == 1
	})
}

func TestTracker_SnapshotOnModeAndVolumeChange(t *testing.T) {
	f := newTrackerFixture(t)

	f.eng.SetRepeat(transport.RepeatAll)
	f.eng.SetShuffle(true)
	f.eng.SetVolume(0.4)

	waitFor(t, "mode snapshot", func() bool {
		snap := f.snapshot(t)
		return snap != nil && snap.Repeat == transport.RepeatAll && snap.Shuffle && snap.Volume == 0.4
	})
}

func TestTracker_PauseFlushBypassesThrottle(t *testing.T) {
	forcePositionThrottle(t)
	f := newTrackerFixture(t)
	a := extItem("a")

	if err := f.eng.Play(a); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitFor(t, "playing state", func() bool { return f.eng.Status() == playback.StatePlaying })

	// First tick persists, later ones are throttled.
	f.dev.EmitProgress(10 * time.Second)
	waitFor(t, "first position save", func() bool {
		pos, ok, err := f.store.Position("a")
		return err == nil && ok && pos == 10*time.Second
	})

	f.dev.EmitProgress(30 * time.Second)
	waitFor(t, "engine position", func() bool { return f.eng.Position() == 30*time.Second })

	if err := f.eng.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	waitFor(t, "paused position save", func() bool {
		pos, ok, err := f.store.Position("a")
		return err == nil && ok && pos == 30*time.Second
	})
}

func TestTracker_ProgressTicksThrottled(t *testing.T) {
	forcePositionThrottle(t)
	f := newTrackerFixture(t)
	a := extItem("a")

	if err := f.eng.Play(a); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitFor(t, "playing state", func() bool { return f.eng.Status() == playback.StatePlaying })

	// First tick persists, second falls inside the throttle window.
	f.dev.EmitProgress(5 * time.Second)
	waitFor(t, "first position save", func() bool {
		_, ok, err := f.store.Position("a")
		return err == nil && ok
	})

	f.dev.EmitProgress(6 * time.Second)
	time.Sleep(50 * time.Millisecond)

	pos, ok, err := f.store.Position("a")
	if err != nil || !ok {
		t.Fatalf("Position() = %v, %v, %v", pos, ok, err)
	}
	if pos != 5*time.Second {
		t.Errorf("Position = %v, want 5s (second tick throttled)", pos)
	}
}

func TestTracker_StopFlushesPosition(t *testing.T) {
	forcePositionThrottle(t)
	f := newTrackerFixture(t)
	a := extItem("a")

	if err := f.eng.Play(a); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	waitFor(t, "playing state", func() bool { return f.eng.Status() == playback.StatePlaying })

	f.dev.EmitProgress(10 * time.Second)
	waitFor(t, "first position save", func() bool {
		pos, ok, err := f.store.Position("a")
		return err == nil && ok && pos == 10*time.Second
	})

	f.dev.EmitProgress(42 * time.Second)
	waitFor(t, "engine position", func() bool { return f.eng.Position() == 42*time.Second })

	f.tracker.Stop()

	pos, ok, err := f.store.Position("a")
	if err != nil || !ok {
		t.Fatalf("Position() = %v, %v, %v", pos, ok, err)
	}
	if pos != 42*time.Second {
		t.Errorf("Position = %v, want 42s", pos)
	}
}

func TestRestore_EmptyStore(t *testing.T) {
	dev := output.NewMock()
	eng := playback.New(playback.Options{Device: dev})
	defer eng.Close()
	store := &Store{db: setupTestDB(t)}
	defer store.db.Close()

	snap, err := Restore(eng, store)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Restore returned %+v, want nil", snap)
	}
}

func TestRestore_PushesSessionIntoEngine(t *testing.T) {
	dev := output.NewMock()
	eng := playback.New(playback.Options{Device: dev})
	defer eng.Close()
	store := &Store{db: setupTestDB(t)}
	defer store.db.Close()

	saved := Snapshot{
		Items:        []media.Item{extItem("a"), extItem("b"), extItem("c")},
		CurrentIndex: 1,
		Repeat:       transport.RepeatAll,
		Shuffle:      true,
		Volume:       0.6,
	}
	if err := saveSnapshot(store.db, saved); err != nil {
		t.Fatalf("saveSnapshot failed: %v", err)
	}

	snap, err := Restore(eng, store)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Restore returned nil snapshot")
	}

	if got := eng.QueueLen(); got != 3 {
		t.Errorf("QueueLen() = %d, want 3", got)
	}
	if got := eng.Repeat(); got != transport.RepeatAll {
		t.Errorf("Repeat() = %v, want %v", got, transport.RepeatAll)
	}
	if !eng.Shuffle() {
		t.Error("Shuffle() = false, want true")
	}
	if got := eng.Volume(); got != 0.6 {
		t.Errorf("Volume() = %f, want 0.6", got)
	}
	if snap.CurrentIndex != 1 {
		t.Errorf("snapshot CurrentIndex = %d, want 1", snap.CurrentIndex)
	}
}
