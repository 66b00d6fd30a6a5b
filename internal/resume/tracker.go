package resume

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vibrato-audio/vibrato/internal/playback"
)

// positionSaveInterval limits how often progress ticks reach the
// database. It is a variable so tests can shorten it.
var positionSaveInterval = 5 * time.Second

// Tracker mirrors engine events into a Store: queue, mode and volume
// changes become debounced snapshots, progress ticks become throttled
// position upserts, and pause/stop flush the exact position.
type Tracker struct {
	svc   playback.Service
	store *Store
	log   *log.Logger
	sub   *playback.Subscription

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	lastPosSave time.Time
}

// Watch subscribes to the engine and keeps the store current until
// Stop is called or the engine closes.
func Watch(svc playback.Service, store *Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	t := &Tracker{
		svc:   svc,
		store: store,
		log:   logger,
		sub:   svc.Subscribe(),
		quit:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Stop halts event mirroring and flushes the current position. The
// pending snapshot, if any, is flushed by Store.Close.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.quit) })
	t.wg.Wait()
	t.flushPosition()
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		case <-t.sub.Done:
			return
		case <-t.sub.TrackChanged:
			t.saveSnapshot()
			// Let the new track's first tick persist promptly
			t.lastPosSave = time.Time{}
		case <-t.sub.QueueChanged:
			t.saveSnapshot()
		case <-t.sub.ModeChanged:
			t.saveSnapshot()
		case <-t.sub.VolumeChanged:
			t.saveSnapshot()
		case ev := <-t.sub.PositionChanged:
			t.onPosition(ev.Position)
		case ev := <-t.sub.StateChanged:
			if ev.Current != playback.StatePlaying {
				t.flushPosition()
			}
		}
	}
}

func (t *Tracker) saveSnapshot() {
	t.store.SaveSnapshot(Snapshot{
		Items:        t.svc.QueueItems(),
		CurrentIndex: t.svc.QueueIndex(),
		Repeat:       t.svc.Repeat(),
		Shuffle:      t.svc.Shuffle(),
		Volume:       t.svc.Volume(),
	})
}

func (t *Tracker) onPosition(pos time.Duration) {
	if time.Since(t.lastPosSave) < positionSaveInterval {
		return
	}
	t.savePosition(pos)
}

// flushPosition writes the engine's current position immediately,
// bypassing the tick throttle.
func (t *Tracker) flushPosition() {
	t.savePosition(t.svc.Position())
}

func (t *Tracker) savePosition(pos time.Duration) {
	item := t.svc.CurrentItem()
	if item == nil {
		return
	}
	if err := t.store.SavePosition(item.ID, pos, t.svc.Duration()); err != nil {
		t.log.Warn("save position failed", "item", item.ID, "err", err)
		return
	}
	t.lastPosSave = time.Now()
}

// Restore pushes a saved session back into the engine: queue, modes and
// volume. It does not start playback; callers decide whether to play
// the current item and seek to its saved position. Returns nil when no
// session was ever saved.
func Restore(svc playback.Service, store *Store) (*Snapshot, error) {
	snap, err := store.Snapshot()
	if err != nil || snap == nil {
		return snap, err
	}
	svc.SetVolume(snap.Volume)
	svc.SetRepeat(snap.Repeat)
	svc.SetShuffle(snap.Shuffle)
	if len(snap.Items) > 0 {
		svc.SetQueue(snap.Items)
	}
	return snap, nil
}
