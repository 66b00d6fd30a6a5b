package output

import (
	"sync"
	"time"
)

// Mock is a test double for Device. It records source assignments,
// play calls, and seeks, and lets tests script errors, block Play
// mid-flight, and inject device events.
type Mock struct {
	mu sync.Mutex

	gen       int
	src       Source
	sources   []Source
	ready     ReadyState
	autoReady bool
	duration  time.Duration
	position  time.Duration
	level     float64
	captured  bool
	playing   bool

	playErr   error
	playErrs  map[string]error // per-URL play errors, consulted before playErr
	gate      chan struct{}
	playCalls []Source
	seeks     []time.Duration

	events chan Event
	closed bool
}

// NewMock creates a mock device. Sources become ReadyFull immediately on
// assignment unless SetAutoReady(false) is called.
func NewMock() *Mock {
	return &Mock{
		autoReady: true,
		level:     1.0,
		events:    make(chan Event, eventBufferSize),
	}
}

func (m *Mock) SetSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.gen++
	m.src = src
	m.sources = append(m.sources, src)
	m.position = 0
	m.playing = false
	if m.autoReady {
		m.ready = ReadyFull
		if m.duration > 0 {
			m.emitLocked(Event{Type: EventMetadata, Duration: m.duration})
		}
	} else {
		m.ready = ReadyNone
	}
}

func (m *Mock) Source() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src
}

func (m *Mock) Play() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAborted
	}
	g := m.gen
	gate := m.gate
	url := m.src.URL
	m.playCalls = append(m.playCalls, m.src)
	m.mu.Unlock()

	if gate != nil {
		<-gate
		m.mu.Lock()
		superseded := m.closed || m.gen != g
		m.mu.Unlock()
		if superseded {
			return ErrAborted
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.playErrs[url]; ok && err != nil {
		return err
	}
	if m.playErr != nil {
		return m.playErr
	}
	m.playing = true
	return nil
}

func (m *Mock) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

func (m *Mock) SetVolume(level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = level
}

func (m *Mock) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *Mock) SetPosition(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready < ReadyMetadata {
		return ErrNotReady
	}
	m.position = pos
	m.seeks = append(m.seeks, pos)
	return nil
}

func (m *Mock) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Mock) SetCaptured(captured bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = captured
}

func (m *Mock) Captured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captured
}

func (m *Mock) Events() <-chan Event {
	return m.events
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.gen++
	m.playing = false
	close(m.events)
	return nil
}

// Test helpers

// SetAutoReady controls whether SetSource makes the device ReadyFull
// immediately. Disable it to exercise deferred seeks.
func (m *Mock) SetAutoReady(auto bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoReady = auto
}

// MakeReady sets the ready state directly.
func (m *Mock) MakeReady(ready ReadyState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// SetDuration scripts the duration reported with auto metadata events.
func (m *Mock) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

// SetPlayError makes every Play fail with err.
func (m *Mock) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// SetPlayErrorFor makes Play fail with err while the given URL is the
// current source.
func (m *Mock) SetPlayErrorFor(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErrs == nil {
		m.playErrs = make(map[string]error)
	}
	m.playErrs[url] = err
}

// BlockPlay makes subsequent Play calls block until the returned
// function is invoked. A Play superseded while blocked returns
// ErrAborted.
func (m *Mock) BlockPlay() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	return func() { close(gate) }
}

// UnblockPlay removes the play gate for future calls.
func (m *Mock) UnblockPlay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = nil
}

// Playing reports whether the device thinks it is playing.
func (m *Mock) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Sources returns every source assigned so far.
func (m *Mock) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, len(m.sources))
	copy(out, m.sources)
	return out
}

// PlayCalls returns the source current at each Play call.
func (m *Mock) PlayCalls() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, len(m.playCalls))
	copy(out, m.playCalls)
	return out
}

// Seeks returns every position passed to SetPosition.
func (m *Mock) Seeks() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.seeks))
	copy(out, m.seeks)
	return out
}

// SimulatePosition sets the reported position without recording a seek.
func (m *Mock) SimulatePosition(pos time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
}

// EmitMetadata injects a metadata event.
func (m *Mock) EmitMetadata(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
	if m.ready < ReadyMetadata {
		m.ready = ReadyMetadata
	}
	m.emitLocked(Event{Type: EventMetadata, Duration: d})
}

// EmitProgress injects a progress event.
func (m *Mock) EmitProgress(pos time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = pos
	m.emitLocked(Event{Type: EventProgress, Position: pos})
}

// EmitEnded injects an end-of-media event.
func (m *Mock) EmitEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.emitLocked(Event{Type: EventEnded})
}

// EmitError injects an asynchronous source error.
func (m *Mock) EmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(Event{Type: EventError, Err: err})
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mock) emitLocked(e Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- e:
	default:
	}
}

// Verify Mock implements Device at compile time.
var _ Device = (*Mock)(nil)
