package notify

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/playback"
)

// defaultTimeout is how long a now-playing notification stays up, in
// milliseconds.
const defaultTimeout = 5000

// Watcher announces track changes as desktop notifications.
type Watcher struct {
	svc      playback.Service
	notifier Notifier
	timeout  int32
	log      *log.Logger
	sub      *playback.Subscription

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// lastID chains notifications so each track replaces the previous
	// one instead of stacking.
	lastID uint32
}

// Watch subscribes to the engine and announces every track change
// until Stop is called or the engine closes. timeout <= 0 uses the
// default.
func Watch(svc playback.Service, notifier Notifier, timeout int32, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	w := &Watcher{
		svc:      svc,
		notifier: notifier,
		timeout:  timeout,
		log:      logger,
		sub:      svc.Subscribe(),
		quit:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Stop halts event processing.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case <-w.sub.Done:
			return
		case ev := <-w.sub.TrackChanged:
			w.announce(ev.Current)
		}
	}
}

func (w *Watcher) announce(item *media.Item) {
	if item == nil {
		return
	}

	n := Notification{
		Title:      item.Title,
		Body:       item.Artist,
		Timeout:    w.timeout,
		ReplacesID: w.lastID,
		Urgency:    UrgencyLow,
	}
	if src, ok := item.Source.(media.ExternalSource); ok && !strings.Contains(src.URL, "://") {
		n.Icon = FindAlbumArtPath(src.URL)
	}

	id, err := w.notifier.Notify(n)
	if err != nil {
		w.log.Debug("notification failed", "err", err)
		return
	}
	w.lastID = id
}
