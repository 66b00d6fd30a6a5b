// Package playback implements the playback engine: a session
// controller that keeps exactly one output device synchronized with
// the transport's current item across track changes, queue navigation,
// asynchronous source resolution, and background source upgrades.
//
// Every track change bumps a monotonic request id. Asynchronous
// continuations capture the id and re-check it before committing any
// effect, so a superseded request produces no visible change beyond
// swallowed errors. Blob cache writes are the one exception: they are
// keyed by URL and harmless to share, so stale fetches still populate
// the cache.
package playback

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vibrato-audio/vibrato/internal/history"
	"github.com/vibrato-audio/vibrato/internal/media"
	"github.com/vibrato-audio/vibrato/internal/output"
	"github.com/vibrato-audio/vibrato/internal/storage"
	"github.com/vibrato-audio/vibrato/internal/transport"
)

// seekSuppressWindow mutes device progress feedback briefly after an
// explicit seek, so stale progress events do not fight the new
// position.
const seekSuppressWindow = 150 * time.Millisecond

const recordTimeout = 10 * time.Second

// failureSkipDelay spaces automatic skips after playback failures so a
// run of broken items does not turn into a tight loop. It is a
// variable so tests can shorten it.
var failureSkipDelay = 1500 * time.Millisecond

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("playback engine closed")

	// ErrNoItem is returned when an operation requires a current item
	// and none is selected.
	ErrNoItem = errors.New("no current item")
)

// BlobCache is the slice of the proxy cache the engine uses to resolve
// and upgrade cross-origin sources.
type BlobCache interface {
	ResolveSync(url string) string
	FetchBlob(ctx context.Context, url string) (string, error)
	IsCached(url string) bool
	IsLocal(source string) bool
}

// DeviceFactory allocates a fresh output device. The engine calls it
// when the continuity policy forces a device replacement.
type DeviceFactory func() output.Device

// Options configures an Engine.
type Options struct {
	Device    output.Device // initial output device, required
	NewDevice DeviceFactory // optional; enables captured-device replacement
	Cache     BlobCache
	Resolver  storage.Resolver
	History   history.Recorder
	Logger    *log.Logger
}

// Verify Engine implements Service at compile time.
var _ Service = (*Engine)(nil)

// Engine is the playback service implementation.
type Engine struct {
	// mu guards the transport, the device handle, and all session
	// bookkeeping. Device methods may be called while holding it; the
	// device never calls back into the engine.
	mu sync.Mutex

	transport *transport.State
	device    output.Device
	newDevice DeviceFactory

	cache    BlobCache
	resolver storage.Resolver
	history  history.Recorder
	log      *log.Logger

	// requestID is bumped on every track change and on Close. Async
	// continuations compare their captured value against it before
	// committing effects.
	requestID uint64

	pendingSeek    time.Duration
	hasPendingSeek bool
	suppressUntil  time.Time
	skipTimer      *time.Timer

	subs   []*Subscription
	subsMu sync.RWMutex

	closed bool
}

// New creates a playback engine around the given output device.
func New(opts Options) *Engine {
	if opts.Device == nil && opts.NewDevice != nil {
		opts.Device = opts.NewDevice()
	}
	cache := opts.Cache
	if cache == nil {
		cache = passthroughCache{}
	}
	recorder := opts.History
	if recorder == nil {
		recorder = history.Noop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	e := &Engine{
		transport: transport.New(),
		device:    opts.Device,
		newDevice: opts.NewDevice,
		cache:     cache,
		resolver:  opts.Resolver,
		history:   recorder,
		log:       logger,
	}
	e.device.SetVolume(e.transport.Volume())
	go e.pumpEvents(e.device)
	return e
}

// Status returns the current playback state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// CurrentItem returns the current item, or nil if none.
func (e *Engine) CurrentItem() *media.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Current()
}

// QueueItems returns a copy of the queue.
func (e *Engine) QueueItems() []media.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Queue()
}

// QueueIndex returns the current queue index (-1 if none).
func (e *Engine) QueueIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Index()
}

// QueueLen returns the number of queued items.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Len()
}

// HasNext reports whether a next item exists under the current modes.
func (e *Engine) HasNext() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.HasNext()
}

// Position returns the current playback position.
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Progress()
}

// Duration returns the current item duration, or 0 if unknown.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.TrackDuration()
}

// Volume returns the current volume level.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Volume()
}

// Shuffle returns whether shuffle is enabled.
func (e *Engine) Shuffle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Shuffle()
}

// Repeat returns the current repeat mode.
func (e *Engine) Repeat() transport.RepeatMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport.Repeat()
}

// Device returns the current output device. Callers may read state and
// flag capture, but must not assign sources or control playback
// directly; all of that flows through the engine.
func (e *Engine) Device() output.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Pause records the listening position and pauses playback.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	item := e.transport.Current()
	if item == nil {
		e.mu.Unlock()
		return ErrNoItem
	}
	dev := e.device
	pos := dev.Position()
	if dev.ReadyState() < output.ReadyMetadata {
		pos = e.transport.Progress()
	}
	ev, changed := e.setPlayingLocked(false)
	e.mu.Unlock()

	go e.updatePosition(*item, pos)
	dev.Pause()
	if changed {
		e.emitState(ev)
	}
	return nil
}

// Resume restarts playback of the current item. It does not issue a
// new request: the source is unchanged.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	item := e.transport.Current()
	if item == nil {
		e.mu.Unlock()
		return ErrNoItem
	}
	dev := e.device
	req := e.requestID
	ev, changed := e.setPlayingLocked(true)
	e.mu.Unlock()

	if changed {
		e.emitState(ev)
	}
	go e.resumeDevice(req, dev, *item)
	return nil
}

// Toggle pauses when playing and resumes otherwise.
func (e *Engine) Toggle() error {
	if e.Status() == StatePlaying {
		return e.Pause()
	}
	return e.Resume()
}

// Seek moves playback to an absolute position, clamped to
// [0, duration]. When the device has no metadata yet the seek is
// deferred and applied as soon as metadata arrives. The transport
// progress is updated immediately either way.
func (e *Engine) Seek(pos time.Duration) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.transport.Current() == nil {
		e.mu.Unlock()
		return ErrNoItem
	}
	dur := e.transport.TrackDuration()
	if dur <= 0 {
		e.log.Debug("seek ignored, duration unknown")
		e.mu.Unlock()
		return nil
	}
	if pos < 0 {
		pos = 0
	}
	if pos > dur {
		pos = dur
	}

	e.suppressUntil = time.Now().Add(seekSuppressWindow)
	dev := e.device
	if dev.ReadyState() >= output.ReadyMetadata {
		if err := dev.SetPosition(pos); err != nil {
			if errors.Is(err, output.ErrNotReady) {
				e.pendingSeek = pos
				e.hasPendingSeek = true
			} else {
				e.log.Warn("seek failed", "err", err)
			}
		}
	} else {
		e.pendingSeek = pos
		e.hasPendingSeek = true
	}
	e.transport.SetProgress(pos)
	e.mu.Unlock()

	e.emitPosition(PositionChange{Position: pos})
	return nil
}

// SeekBy moves playback relative to the current position.
func (e *Engine) SeekBy(delta time.Duration) error {
	e.mu.Lock()
	cur := e.transport.Progress()
	e.mu.Unlock()
	return e.Seek(cur + delta)
}

// SetQueue replaces the queue wholesale. The current item keeps
// playing even when absent from the new queue; the next navigation
// re-anchors on the new contents.
func (e *Engine) SetQueue(items []media.Item) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.transport.SetQueue(items)
	ev := QueueChange{Items: e.transport.Queue(), Index: e.transport.Index()}
	e.mu.Unlock()
	e.emitQueue(ev)
}

// AddToQueue appends an item to the queue. Idempotent by item id.
func (e *Engine) AddToQueue(item media.Item) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if !e.transport.AddToQueue(item) {
		e.mu.Unlock()
		return
	}
	ev := QueueChange{Items: e.transport.Queue(), Index: e.transport.Index()}
	e.mu.Unlock()
	e.emitQueue(ev)
}

// SetRepeat sets the repeat mode.
func (e *Engine) SetRepeat(mode transport.RepeatMode) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.transport.SetRepeat(mode)
	ev := ModeChange{Repeat: e.transport.Repeat(), Shuffle: e.transport.Shuffle()}
	e.mu.Unlock()
	e.emitMode(ev)
}

// CycleRepeat advances the repeat mode off -> one -> all -> off.
func (e *Engine) CycleRepeat() transport.RepeatMode {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return transport.RepeatOff
	}
	mode := e.transport.CycleRepeat()
	ev := ModeChange{Repeat: mode, Shuffle: e.transport.Shuffle()}
	e.mu.Unlock()
	e.emitMode(ev)
	return mode
}

// SetShuffle enables or disables shuffle.
func (e *Engine) SetShuffle(enabled bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.transport.SetShuffle(enabled)
	ev := ModeChange{Repeat: e.transport.Repeat(), Shuffle: enabled}
	e.mu.Unlock()
	e.emitMode(ev)
}

// ToggleShuffle flips shuffle and returns the new value.
func (e *Engine) ToggleShuffle() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	enabled := e.transport.ToggleShuffle()
	ev := ModeChange{Repeat: e.transport.Repeat(), Shuffle: enabled}
	e.mu.Unlock()
	e.emitMode(ev)
	return enabled
}

// SetVolume sets the volume, clamped to [0, 1], and propagates it to
// the output device.
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.transport.SetVolume(v)
	e.device.SetVolume(v)
	e.mu.Unlock()
	e.emitVolume(VolumeChange{Volume: v})
}

// Subscribe creates a new event subscription.
func (e *Engine) Subscribe() *Subscription {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	sub := newSubscription()
	e.subs = append(e.subs, sub)
	return sub
}

// Close shuts down the engine, invalidating in-flight sessions and
// closing the output device and all subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.requestID++
	e.cancelSkipLocked()
	dev := e.device
	e.mu.Unlock()

	err := dev.Close()

	e.subsMu.Lock()
	for _, sub := range e.subs {
		sub.close()
	}
	e.subs = nil
	e.subsMu.Unlock()

	return err
}

func (e *Engine) stateLocked() State {
	switch {
	case e.transport.Current() == nil:
		return StateStopped
	case e.transport.Playing():
		return StatePlaying
	default:
		return StatePaused
	}
}

// setPlayingLocked transitions the transport play flag and reports the
// resulting state change, if any.
func (e *Engine) setPlayingLocked(playing bool) (StateChange, bool) {
	prev := e.stateLocked()
	if playing {
		e.transport.Play()
	} else {
		e.transport.Pause()
	}
	cur := e.stateLocked()
	return StateChange{Previous: prev, Current: cur}, prev != cur
}

func (e *Engine) cancelSkipLocked() {
	if e.skipTimer != nil {
		e.skipTimer.Stop()
		e.skipTimer = nil
	}
}

func (e *Engine) forEachSub(fn func(*Subscription)) {
	e.subsMu.RLock()
	defer e.subsMu.RUnlock()
	for _, sub := range e.subs {
		fn(sub)
	}
}

func (e *Engine) emitState(ev StateChange) {
	e.forEachSub(func(s *Subscription) { s.sendState(ev) })
}

func (e *Engine) emitTrack(ev TrackChange) {
	e.forEachSub(func(s *Subscription) { s.sendTrack(ev) })
}

func (e *Engine) emitPosition(ev PositionChange) {
	e.forEachSub(func(s *Subscription) { s.sendPosition(ev) })
}

func (e *Engine) emitDuration(ev DurationChange) {
	e.forEachSub(func(s *Subscription) { s.sendDuration(ev) })
}

func (e *Engine) emitQueue(ev QueueChange) {
	e.forEachSub(func(s *Subscription) { s.sendQueue(ev) })
}

func (e *Engine) emitMode(ev ModeChange) {
	e.forEachSub(func(s *Subscription) { s.sendMode(ev) })
}

func (e *Engine) emitVolume(ev VolumeChange) {
	e.forEachSub(func(s *Subscription) { s.sendVolume(ev) })
}

func (e *Engine) emitUpgrade(ev SourceUpgrade) {
	e.forEachSub(func(s *Subscription) { s.sendUpgrade(ev) })
}

func (e *Engine) emitError(ev ErrorEvent) {
	e.forEachSub(func(s *Subscription) { s.sendError(ev) })
}

// passthroughCache is used when no blob cache is configured: external
// URLs play directly and upgrades fail fast.
type passthroughCache struct{}

var errNoCache = errors.New("no blob cache configured")

func (passthroughCache) ResolveSync(url string) string { return url }

func (passthroughCache) FetchBlob(context.Context, string) (string, error) {
	return "", errNoCache
}

func (passthroughCache) IsCached(string) bool { return false }

func (passthroughCache) IsLocal(source string) bool {
	return !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://")
}
