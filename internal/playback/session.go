package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibrato-audio/vibrato/internal/history"
	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/output"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// resolvedSource is the outcome of source resolution for one item.
type resolvedSource struct {
	url    string
	origin output.Origin

	// upgrade marks a cross-origin URL played directly, eligible for
	// the background blob upgrade and the failure fallback.
	upgrade  bool
	original string // original external URL, the blob cache key
}

// Play selects an item and starts a new playback session for it.
// Selecting the already-current item resumes it instead of reloading.
func (e *Engine) Play(item media.Item) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	prev := e.transport.Current()
	prevIdx := e.transport.Index()
	lenBefore := e.transport.Len()
	if !e.transport.SetTrack(item) {
		dev := e.device
		req := e.requestID
		wasPlaying := e.transport.Playing()
		ev, changed := e.setPlayingLocked(true)
		e.mu.Unlock()
		if changed {
			e.emitState(ev)
		}
		if !wasPlaying {
			go e.resumeDevice(req, dev, item)
		}
		return nil
	}

	var queueEv *QueueChange
	if e.transport.Len() != lenBefore {
		queueEv = &QueueChange{Items: e.transport.Queue(), Index: e.transport.Index()}
	}
	ts := e.beginTrackLocked(prev, prevIdx, history.SourceSelect)
	e.mu.Unlock()

	if queueEv != nil {
		e.emitQueue(*queueEv)
	}
	e.emitTrackStart(ts)
	return nil
}

// PlayAt plays the queue item at the given index.
func (e *Engine) PlayAt(index int) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	queue := e.transport.Queue()
	if index < 0 || index >= len(queue) {
		e.mu.Unlock()
		return fmt.Errorf("queue index %d out of range", index)
	}
	item := queue[index]
	e.mu.Unlock()
	return e.Play(item)
}

// Next moves to the next item per the current modes and plays it.
// When the transport has nowhere to go the current item is unaffected.
func (e *Engine) Next() error {
	return e.step(true)
}

// Previous moves to the previous item per the current modes and plays
// it.
func (e *Engine) Previous() error {
	return e.step(false)
}

func (e *Engine) step(forward bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	prev := e.transport.Current()
	prevIdx := e.transport.Index()
	var moved bool
	if forward {
		moved = e.transport.Next()
	} else {
		moved = e.transport.Previous()
	}
	if !moved {
		e.mu.Unlock()
		return nil
	}
	ts := e.beginTrackLocked(prev, prevIdx, history.SourceQueue)
	e.mu.Unlock()

	e.emitTrackStart(ts)
	return nil
}

// trackStart collects what a track change needs to emit after the lock
// is released.
type trackStart struct {
	track    TrackChange
	duration time.Duration
}

// beginTrackLocked starts a playback session for the transport's
// current item. The caller holds e.mu and has already moved the
// transport.
func (e *Engine) beginTrackLocked(prev *media.Item, prevIdx int, source string) trackStart {
	cur := e.transport.Current()
	e.transport.SetDuration(cur.Duration)
	e.startTrackLocked(*cur, source)
	return trackStart{
		track: TrackChange{
			Previous:      prev,
			Current:       cur,
			PreviousIndex: prevIdx,
			Index:         e.transport.Index(),
		},
		duration: cur.Duration,
	}
}

func (e *Engine) emitTrackStart(ts trackStart) {
	e.emitTrack(ts.track)
	if ts.duration > 0 {
		e.emitDuration(DurationChange{Duration: ts.duration})
	}
}

// startTrackLocked invalidates the previous session and launches a new
// one for item. The caller holds e.mu.
func (e *Engine) startTrackLocked(item media.Item, source string) {
	e.requestID++
	req := e.requestID
	e.hasPendingSeek = false
	e.pendingSeek = 0
	e.suppressUntil = time.Time{}
	e.cancelSkipLocked()
	go e.runSession(req, item, source)
}

// runSession is one playback session: resolve, attach, play, commit.
// Every step re-checks the request id so a superseded session backs
// out without visible effects.
func (e *Engine) runSession(req uint64, item media.Item, source string) {
	res, err := e.resolveSource(context.Background(), item)
	if err != nil {
		e.failPlayback(req, item, source, res, err)
		return
	}

	dev, err := e.attachSource(req, res)
	if err != nil {
		e.log.Debug("play superseded", "item", item.ID)
		return
	}

	if err := dev.Play(); err != nil {
		e.failPlayback(req, item, source, res, err)
		return
	}
	e.completePlay(req, item, source, res)
}

// resolveSource turns an item into a playable URL and origin mode.
func (e *Engine) resolveSource(ctx context.Context, item media.Item) (resolvedSource, error) {
	switch src := item.Source.(type) {
	case media.ExternalSource:
		resolved := e.cache.ResolveSync(src.URL)
		if e.cache.IsLocal(resolved) {
			return resolvedSource{url: resolved, origin: output.OriginAnonymous}, nil
		}
		return resolvedSource{
			url:      resolved,
			origin:   output.OriginOmit,
			upgrade:  true,
			original: src.URL,
		}, nil
	case media.InternalSource:
		if e.resolver == nil {
			return resolvedSource{}, fmt.Errorf("resolve file %q: no storage resolver", src.FileID)
		}
		url, err := e.resolver.ViewURL(ctx, src.FileID)
		if err != nil {
			return resolvedSource{}, fmt.Errorf("resolve file %q: %w", src.FileID, err)
		}
		return resolvedSource{url: url, origin: output.OriginAnonymous}, nil
	default:
		return resolvedSource{}, media.ErrNoSource
	}
}

// attachSource applies the resource continuity policy and assigns the
// resolved source to the chosen device. Returns ErrAborted when the
// request is no longer current.
func (e *Engine) attachSource(req uint64, res resolvedSource) (output.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || req != e.requestID {
		return nil, output.ErrAborted
	}

	dev := e.device
	if dev.Captured() && res.upgrade && e.newDevice != nil {
		// A captured device routes audio through the analysis tap,
		// which silences credential-less cross-origin sources. Replace
		// it, carrying the volume over. The old device closes first:
		// both share the output mixer.
		old := dev
		old.Close()
		dev = e.newDevice()
		dev.SetVolume(e.transport.Volume())
		e.device = dev
		go e.pumpEvents(dev)
		e.log.Debug("replaced captured output device")
	} else {
		dev.Pause()
	}

	dev.SetSource(output.Source{URL: res.url, Origin: res.origin})
	return dev, nil
}

// completePlay commits a successful play: transition the transport,
// record history, and kick off the background upgrade when eligible.
func (e *Engine) completePlay(req uint64, item media.Item, source string, res resolvedSource) {
	e.mu.Lock()
	if e.closed || req != e.requestID {
		e.mu.Unlock()
		return
	}
	ev, changed := e.setPlayingLocked(true)
	e.mu.Unlock()

	if changed {
		e.emitState(ev)
	}
	go e.recordPlay(item, source)
	if res.upgrade {
		go e.upgradeSource(req, item, res.original)
	}
}

// failPlayback handles a failed play attempt: aborted plays are
// silent, direct external sources get a one-shot blob fallback, and
// everything else schedules an automatic skip.
func (e *Engine) failPlayback(req uint64, item media.Item, source string, res resolvedSource, err error) {
	if errors.Is(err, output.ErrAborted) {
		e.log.Debug("play superseded", "item", item.ID)
		return
	}

	if res.upgrade {
		if path, ferr := e.cache.FetchBlob(context.Background(), res.original); ferr == nil {
			retry := resolvedSource{url: path, origin: output.OriginAnonymous}
			dev, aerr := e.attachSource(req, retry)
			if aerr != nil {
				return
			}
			perr := dev.Play()
			if perr == nil {
				e.log.Info("recovered playback from blob copy", "item", item.ID)
				e.completePlay(req, item, source, retry)
				return
			}
			if errors.Is(perr, output.ErrAborted) {
				return
			}
			err = perr
		} else {
			e.log.Debug("blob fallback unavailable", "item", item.ID, "err", ferr)
		}
	}

	e.log.Warn("playback failed, skipping shortly", "item", item.ID, "err", err)
	e.emitError(ErrorEvent{Operation: "play", ItemID: item.ID, Err: err})
	e.scheduleSkip(req)
}

// scheduleSkip arms the auto-skip timer for a failed item. Any newer
// request cancels it.
func (e *Engine) scheduleSkip(req uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || req != e.requestID {
		return
	}
	e.cancelSkipLocked()
	e.skipTimer = time.AfterFunc(failureSkipDelay, func() { e.autoSkip(req) })
}

func (e *Engine) autoSkip(req uint64) {
	e.mu.Lock()
	if e.closed || req != e.requestID {
		e.mu.Unlock()
		return
	}
	e.skipTimer = nil
	prev := e.transport.Current()
	prevIdx := e.transport.Index()
	if !e.transport.Next() {
		ev, changed := e.setPlayingLocked(false)
		e.mu.Unlock()
		if changed {
			e.emitState(ev)
		}
		return
	}
	ts := e.beginTrackLocked(prev, prevIdx, history.SourceAutoplay)
	e.mu.Unlock()
	e.emitTrackStart(ts)
}

// upgradeSource fetches a local blob copy of a cross-origin source and
// hot-swaps playback onto it, preserving position and play state. A
// failed fetch leaves playback on the original source.
func (e *Engine) upgradeSource(req uint64, item media.Item, url string) {
	path, err := e.cache.FetchBlob(context.Background(), url)
	if err != nil {
		e.log.Warn("source upgrade failed", "item", item.ID, "err", err)
		return
	}

	e.mu.Lock()
	if e.closed || req != e.requestID {
		e.mu.Unlock()
		return
	}
	dev := e.device
	if dev.Source().URL == path {
		e.mu.Unlock()
		return
	}
	pos := dev.Position()
	wasPlaying := e.transport.Playing()
	dev.SetSource(output.Source{URL: path, Origin: output.OriginAnonymous})
	if dev.ReadyState() >= output.ReadyMetadata {
		if serr := dev.SetPosition(pos); serr != nil {
			e.log.Debug("upgrade seek failed", "err", serr)
		}
	} else if pos > 0 {
		e.pendingSeek = pos
		e.hasPendingSeek = true
	}
	e.mu.Unlock()

	if wasPlaying {
		if perr := dev.Play(); perr != nil {
			if errors.Is(perr, output.ErrAborted) {
				e.log.Debug("upgrade resume superseded", "item", item.ID)
			} else {
				e.log.Warn("upgrade resume failed", "item", item.ID, "err", perr)
			}
			return
		}
	}
	e.log.Debug("upgraded source", "item", item.ID, "path", path)
	e.emitUpgrade(SourceUpgrade{ItemID: item.ID, URL: path})
}

// resumeDevice issues play for a resume. A failure rolls the playing
// flag back if the request is still current.
func (e *Engine) resumeDevice(req uint64, dev output.Device, item media.Item) {
	err := dev.Play()
	if err == nil {
		return
	}
	if errors.Is(err, output.ErrAborted) {
		e.log.Debug("resume superseded", "item", item.ID)
		return
	}
	e.log.Warn("resume failed", "item", item.ID, "err", err)
	e.emitError(ErrorEvent{Operation: "resume", ItemID: item.ID, Err: err})

	e.mu.Lock()
	if e.closed || req != e.requestID {
		e.mu.Unlock()
		return
	}
	ev, changed := e.setPlayingLocked(false)
	e.mu.Unlock()
	if changed {
		e.emitState(ev)
	}
}

// pumpEvents forwards one device's events into the engine. It exits
// when the device closes its event channel; events from a device that
// is no longer current are dropped.
func (e *Engine) pumpEvents(dev output.Device) {
	for ev := range dev.Events() {
		e.handleDeviceEvent(dev, ev)
	}
}

func (e *Engine) handleDeviceEvent(dev output.Device, ev output.Event) {
	e.mu.Lock()
	if e.closed || dev != e.device {
		e.mu.Unlock()
		return
	}

	switch ev.Type {
	case output.EventMetadata:
		e.transport.SetDuration(ev.Duration)
		var seek time.Duration
		hasSeek := e.hasPendingSeek
		if hasSeek {
			seek = e.pendingSeek
			e.hasPendingSeek = false
			e.pendingSeek = 0
		}
		e.mu.Unlock()

		e.emitDuration(DurationChange{Duration: ev.Duration})
		if hasSeek {
			if err := dev.SetPosition(seek); err != nil {
				e.log.Debug("deferred seek failed", "err", err)
			}
		}
	case output.EventProgress:
		if time.Now().Before(e.suppressUntil) {
			e.mu.Unlock()
			return
		}
		e.transport.SetProgress(ev.Position)
		e.mu.Unlock()
		e.emitPosition(PositionChange{Position: ev.Position})
	case output.EventEnded:
		e.mu.Unlock()
		e.handleEnded(dev)
	case output.EventError:
		e.mu.Unlock()
		e.log.Debug("device error", "err", ev.Err)
	default:
		e.mu.Unlock()
	}
}

// handleEnded reacts to natural end of media. Repeat-one loops the
// item in place without a new request id; otherwise the transport
// advances and a new session starts for the next item.
func (e *Engine) handleEnded(dev output.Device) {
	e.mu.Lock()
	if e.closed || dev != e.device {
		e.mu.Unlock()
		return
	}
	cur := e.transport.Current()
	if cur == nil {
		e.mu.Unlock()
		return
	}

	repeat := e.transport.Repeat()
	if repeat == transport.RepeatOne {
		e.transport.SetProgress(0)
		e.mu.Unlock()
		e.replay(dev, *cur)
		return
	}

	prevIdx := e.transport.Index()
	if e.transport.Next() {
		ts := e.beginTrackLocked(cur, prevIdx, history.SourceAutoplay)
		e.mu.Unlock()
		e.emitTrackStart(ts)
		return
	}

	if repeat == transport.RepeatAll {
		// Next has nowhere to go only for single-item queues here;
		// repeat-all loops the item in place.
		e.transport.SetProgress(0)
		e.mu.Unlock()
		e.replay(dev, *cur)
		return
	}

	ev, changed := e.setPlayingLocked(false)
	e.mu.Unlock()
	if changed {
		e.emitState(ev)
	}
}

// replay restarts the current source from the beginning without a new
// request id.
func (e *Engine) replay(dev output.Device, item media.Item) {
	if err := dev.SetPosition(0); err != nil {
		e.log.Debug("replay seek failed", "err", err)
	}
	if err := dev.Play(); err != nil {
		if errors.Is(err, output.ErrAborted) {
			return
		}
		e.log.Warn("replay failed", "item", item.ID, "err", err)
		e.mu.Lock()
		ev, changed := e.setPlayingLocked(false)
		e.mu.Unlock()
		if changed {
			e.emitState(ev)
		}
		return
	}
	e.emitPosition(PositionChange{Position: 0})
}

// recordPlay reports a play to the history collaborator, best-effort.
func (e *Engine) recordPlay(item media.Item, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.history.RecordPlay(ctx, item.ID, item.Episode, source); err != nil {
		e.log.Debug("record play failed", "item", item.ID, "err", err)
	}
}

// updatePosition saves the listening position, best-effort.
func (e *Engine) updatePosition(item media.Item, pos time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.history.UpdatePosition(ctx, item.ID, pos, item.Episode); err != nil {
		e.log.Debug("update position failed", "item", item.ID, "err", err)
	}
}
