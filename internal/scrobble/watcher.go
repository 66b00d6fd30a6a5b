package scrobble

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/playback"
)

const (
	// minTrackLength is the shortest track Last.fm accepts.
	minTrackLength = 30 * time.Second

	// scrobbleCap bounds the threshold for long tracks: a track
	// scrobbles at half its duration or after four minutes, whichever
	// comes first.
	scrobbleCap = 4 * time.Minute

	// maxAttempts is how often a queued scrobble is retried before it
	// is left for the age-based prune.
	maxAttempts = 10

	// pendingMaxAge drops queued scrobbles that never went through.
	pendingMaxAge = 14 * 24 * time.Hour
)

// retryInterval spaces retry passes over the pending queue. It is a
// variable so tests can shorten it.
var retryInterval = 5 * time.Minute

// Submitter is the slice of Client the watcher drives.
type Submitter interface {
	UpdateNowPlaying(Track) error
	Scrobble(Track) error
}

// Scrobbler watches playback events and reports listens: a now-playing
// update when a track starts, a scrobble once it passes the threshold.
// Podcast episodes and items without artist or title are skipped.
// Failed scrobbles go to the queue and are retried periodically.
type Scrobbler struct {
	svc   playback.Service
	subm  Submitter
	queue Queue
	log   *log.Logger
	sub   *playback.Subscription

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// cur is the listen being tracked, owned by the run goroutine.
	cur *listen
}

type listen struct {
	item      media.Item
	startedAt time.Time
	scrobbled bool
}

// Watch subscribes to the engine and reports listens until Stop is
// called or the engine closes. queue may be nil to disable retries.
func Watch(svc playback.Service, subm Submitter, queue Queue, logger *log.Logger) *Scrobbler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Scrobbler{
		svc:   svc,
		subm:  subm,
		queue: queue,
		log:   logger,
		sub:   svc.Subscribe(),
		quit:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Stop halts event processing. In-flight submissions finish on their
// own.
func (s *Scrobbler) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Scrobbler) run() {
	defer s.wg.Done()

	// Flush listens queued while offline, then retry periodically.
	s.retryPending()
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-s.sub.Done:
			return
		case ev := <-s.sub.TrackChanged:
			s.onTrack(ev.Current)
		case ev := <-s.sub.PositionChanged:
			s.onPosition(ev.Position)
		case <-ticker.C:
			s.retryPending()
		}
	}
}

// onTrack starts tracking a new listen.
func (s *Scrobbler) onTrack(item *media.Item) {
	if item == nil || !scrobblable(*item) {
		s.cur = nil
		return
	}
	s.cur = &listen{item: *item, startedAt: time.Now()}
	go s.submitNowPlaying(s.buildTrack())
}

func (s *Scrobbler) onPosition(pos time.Duration) {
	if s.cur == nil || s.cur.scrobbled {
		return
	}
	if !shouldScrobble(pos, s.svc.Duration()) {
		return
	}
	s.cur.scrobbled = true
	go s.submit(s.buildTrack())
}

func (s *Scrobbler) buildTrack() Track {
	return Track{
		Artist:    s.cur.item.Artist,
		Title:     s.cur.item.Title,
		Duration:  s.svc.Duration(),
		Timestamp: s.cur.startedAt,
	}
}

func (s *Scrobbler) submitNowPlaying(t Track) {
	if err := s.subm.UpdateNowPlaying(t); err != nil {
		s.log.Warn("now playing update failed", "track", t.Title, "err", err)
	}
}

func (s *Scrobbler) submit(t Track) {
	err := s.subm.Scrobble(t)
	if err == nil {
		s.log.Debug("scrobbled", "artist", t.Artist, "track", t.Title)
		return
	}
	s.log.Warn("scrobble failed", "track", t.Title, "err", err)
	if s.queue == nil {
		return
	}
	if qerr := s.queue.AddPendingScrobble(t); qerr != nil {
		s.log.Warn("queue scrobble failed", "track", t.Title, "err", qerr)
	}
}

// retryPending resubmits queued scrobbles, dropping delivered and
// expired ones.
func (s *Scrobbler) retryPending() {
	if s.queue == nil {
		return
	}
	if err := s.queue.PrunePendingScrobbles(pendingMaxAge); err != nil {
		s.log.Warn("prune pending scrobbles failed", "err", err)
	}
	pending, err := s.queue.PendingScrobbles()
	if err != nil {
		s.log.Warn("list pending scrobbles failed", "err", err)
		return
	}
	for _, p := range pending {
		if p.Attempts >= maxAttempts {
			continue
		}
		if err := s.subm.Scrobble(p.Track); err != nil {
			_ = s.queue.RecordScrobbleAttempt(p.ID, err.Error())
			continue
		}
		_ = s.queue.DeletePendingScrobble(p.ID)
		s.log.Debug("scrobbled from queue", "artist", p.Track.Artist, "track", p.Track.Title)
	}
}

// scrobblable reports whether an item qualifies for Last.fm at all:
// music with both artist and title, never podcast episodes.
func scrobblable(item media.Item) bool {
	return !item.Episode && item.Artist != "" && item.Title != ""
}

// shouldScrobble applies the Last.fm rules: the track must be at least
// 30 seconds long, and the listen counts once it reaches half the
// duration or four minutes, whichever comes first.
func shouldScrobble(pos, dur time.Duration) bool {
	if dur < minTrackLength {
		return false
	}
	threshold := dur / 2
	if scrobbleCap < threshold {
		threshold = scrobbleCap
	}
	return pos >= threshold
}
