package output

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	progressInterval = 500 * time.Millisecond
	eventBufferSize  = 16
	fetchTimeout     = 30 * time.Second

	extMP3  = ".mp3"
	extFLAC = ".flac"
)

// beep's speaker is process-wide. It is initialized once with the first
// track's sample rate; later tracks resample to it.
var (
	speakerMu          sync.Mutex
	speakerInitialized bool
	speakerSampleRate  beep.SampleRate
)

// SpeakerOptions configures a Speaker device.
type SpeakerOptions struct {
	Client    *http.Client // nil means a default client with a 30s timeout
	AuthToken string       // bearer token sent for OriginAnonymous fetches
	StageDir  string       // where remote sources are staged; "" means os.TempDir()
	Logger    *log.Logger
}

// Speaker plays a source through the system audio output. Remote sources
// are staged to a local file and decoded with beep's mp3/flac decoders;
// local paths are opened directly.
type Speaker struct {
	mu sync.Mutex

	client *http.Client
	token  string
	dir    string
	log    *log.Logger

	// gen is bumped by SetSource and Close. Pending loads and plays
	// compare their captured value against it before committing.
	gen int

	src      Source
	ready    ReadyState
	loaded   chan struct{} // closed when the current load finishes
	loadErr  error
	file     *os.File
	stagedAt string // staging file path, removed on release; "" for local sources
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	level    float64
	playing  bool
	captured bool

	events     chan Event
	finishedCh chan int
	done       chan struct{}
	closed     bool
}

// Verify Speaker implements Device at compile time.
var _ Device = (*Speaker)(nil)

// NewSpeaker creates a speaker device.
func NewSpeaker(opts SpeakerOptions) *Speaker {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	dir := opts.StageDir
	if dir == "" {
		dir = os.TempDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Speaker{
		client:     client,
		token:      opts.AuthToken,
		dir:        dir,
		log:        logger,
		level:      1.0,
		events:     make(chan Event, eventBufferSize),
		finishedCh: make(chan int, 1),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// SetSource assigns a new source and starts loading it in the
// background. The previous source is released and any in-flight Play
// for it will return ErrAborted.
func (s *Speaker) SetSource(src Source) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	g := s.gen
	rel := s.releaseLocked()
	loaded := make(chan struct{})
	s.src = src
	s.ready = ReadyNone
	s.loadErr = nil
	s.loaded = loaded
	s.mu.Unlock()

	rel.free()
	go s.load(g, src, loaded)
}

// Source returns the currently assigned source.
func (s *Speaker) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Play starts or resumes playback. It blocks until the current source
// finished loading and returns ErrAborted if a newer SetSource or Close
// superseded the attempt.
func (s *Speaker) Play() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAborted
	}
	g := s.gen
	loaded := s.loaded
	s.mu.Unlock()

	if loaded == nil {
		return ErrNotReady
	}
	<-loaded

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != g {
		return ErrAborted
	}
	if s.loadErr != nil {
		return fmt.Errorf("load source: %w", s.loadErr)
	}
	if s.playing {
		return nil
	}

	if s.ctrl == nil {
		var playStreamer beep.Streamer = s.streamer
		if sr := currentSpeakerRate(); s.format.SampleRate != sr {
			playStreamer = beep.Resample(4, s.format.SampleRate, sr, s.streamer)
		}
		s.ctrl = &beep.Ctrl{Streamer: playStreamer, Paused: false}
		s.volume = &effects.Volume{
			Streamer: s.ctrl,
			Base:     2,
			Volume:   levelToVolume(s.level),
			Silent:   s.level <= 0,
		}
		// The callback runs inside beep's streaming goroutine while the
		// speaker package holds its own lock, so it must not touch s.mu.
		// Signal finish via the channel (non-blocking); run picks it up.
		speaker.Play(beep.Seq(s.volume, beep.Callback(func() {
			select {
			case s.finishedCh <- g:
			default:
			}
		})))
	} else {
		speaker.Lock()
		s.ctrl.Paused = false
		speaker.Unlock()
	}
	s.playing = true
	return nil
}

// Pause pauses playback. No-op when not playing.
func (s *Speaker) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing || s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
	s.playing = false
}

// SetVolume sets the volume level (0.0 to 1.0).
func (s *Speaker) SetVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	if s.volume != nil {
		speaker.Lock()
		s.volume.Volume = levelToVolume(level)
		s.volume.Silent = level <= 0
		speaker.Unlock()
	}
}

// Volume returns the current volume level.
func (s *Speaker) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Position returns the current playback position.
func (s *Speaker) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	// Read without the speaker lock; may be slightly stale but avoids
	// deadlocks against the streaming goroutine.
	return s.format.SampleRate.D(s.streamer.Position())
}

// Duration returns the duration of the loaded source, or 0 before
// metadata readiness.
func (s *Speaker) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer == nil {
		return 0
	}
	return s.format.SampleRate.D(s.streamer.Len())
}

// SetPosition seeks to an absolute position. Returns ErrNotReady before
// metadata readiness.
func (s *Speaker) SetPosition(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready < ReadyMetadata || s.streamer == nil {
		return ErrNotReady
	}
	n := s.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if maxN := s.streamer.Len() - 1; n > maxN {
		n = maxN
	}
	speaker.Lock()
	err := s.streamer.Seek(n)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// ReadyState returns how much of the source is available.
func (s *Speaker) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// SetCaptured marks the device as attached to an analysis tap.
func (s *Speaker) SetCaptured(captured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = captured
}

// Captured returns whether the device is attached to an analysis tap.
func (s *Speaker) Captured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured
}

// Events returns the device event channel. It is closed by Close.
func (s *Speaker) Events() <-chan Event {
	return s.events
}

// Close releases the source, silences output, and closes the event
// channel.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	rel := s.releaseLocked()
	close(s.done)
	close(s.events)
	s.mu.Unlock()

	rel.free()
	return nil
}

// finished handles a drained stream. The mixer drops the sequence once
// it ends, so the control chain is cleared; the next Play rebuilds it,
// which makes replay-after-end work.
func (s *Speaker) finished(g int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != g {
		return
	}
	s.playing = false
	s.ctrl = nil
	s.volume = nil
	s.emitLocked(Event{Type: EventEnded})
}

// run emits progress ticks and consumes finish signals from beep's
// callback.
func (s *Speaker) run() {
	t := time.NewTicker(progressInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case g := <-s.finishedCh:
			s.finished(g)
		case <-t.C:
			s.mu.Lock()
			if !s.closed && s.playing && s.streamer != nil {
				pos := s.format.SampleRate.D(s.streamer.Position())
				s.emitLocked(Event{Type: EventProgress, Position: pos})
			}
			s.mu.Unlock()
		}
	}
}

// load stages and decodes a source, committing the result only if the
// device generation is still current. The loaded channel always closes
// when the load finishes, so a Play waiting on a superseded load wakes
// up and observes the generation mismatch.
func (s *Speaker) load(g int, src Source, loaded chan struct{}) {
	defer close(loaded)

	path, staged, err := s.stage(src)
	if err != nil {
		s.failLoad(g, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if staged != "" {
			os.Remove(staged)
		}
		s.failLoad(g, err)
		return
	}

	streamer, format, err := decode(f, path)
	if err != nil {
		f.Close()
		if staged != "" {
			os.Remove(staged)
		}
		s.failLoad(g, err)
		return
	}

	if err := ensureSpeaker(format.SampleRate); err != nil {
		streamer.Close()
		f.Close()
		if staged != "" {
			os.Remove(staged)
		}
		s.failLoad(g, err)
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != g {
		s.mu.Unlock()
		streamer.Close()
		f.Close()
		if staged != "" {
			os.Remove(staged)
		}
		return
	}
	s.file = f
	s.stagedAt = staged
	s.streamer = streamer
	s.format = format
	s.ready = ReadyFull
	dur := format.SampleRate.D(streamer.Len())
	s.emitLocked(Event{Type: EventMetadata, Duration: dur})
	s.mu.Unlock()
}

func (s *Speaker) failLoad(g int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != g {
		return
	}
	s.loadErr = err
	s.emitLocked(Event{Type: EventError, Err: err})
}

// stage makes the source available as a local file. Remote URLs are
// downloaded into the staging directory; the second return value names
// the staging file to remove on release.
func (s *Speaker) stage(src Source) (path, staged string, err error) {
	if !isHTTPURL(src.URL) {
		return src.URL, "", nil
	}

	req, err := http.NewRequest(http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	if src.Origin == OriginAnonymous && s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(s.dir, "vibrato-*"+stageExt(src.URL, resp.Header.Get("Content-Type")))
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", "", fmt.Errorf("stage source: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", "", err
	}
	s.log.Debug("staged remote source", "url", src.URL, "path", f.Name())
	return f.Name(), f.Name(), nil
}

type release struct {
	streamer beep.StreamSeekCloser
	file     *os.File
	staged   string
	hadCtrl  bool
}

// releaseLocked detaches the current source. The caller must hold s.mu
// and call free after releasing it, so speaker.Clear never runs under
// the device lock.
func (s *Speaker) releaseLocked() release {
	rel := release{
		streamer: s.streamer,
		file:     s.file,
		staged:   s.stagedAt,
		hadCtrl:  s.ctrl != nil,
	}
	s.streamer = nil
	s.file = nil
	s.stagedAt = ""
	s.ctrl = nil
	s.volume = nil
	s.ready = ReadyNone
	s.playing = false
	return rel
}

func (r release) free() {
	if r.hadCtrl {
		speaker.Clear()
	}
	if r.streamer != nil {
		r.streamer.Close()
	}
	if r.file != nil {
		r.file.Close()
	}
	if r.staged != "" {
		os.Remove(r.staged)
	}
}

func (s *Speaker) emitLocked(e Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		// Drop if buffer full
	}
}

func ensureSpeaker(rate beep.SampleRate) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()
	if speakerInitialized {
		return nil
	}
	if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speakerSampleRate = rate
	speakerInitialized = true
	return nil
}

func currentSpeakerRate() beep.SampleRate {
	speakerMu.Lock()
	defer speakerMu.Unlock()
	return speakerSampleRate
}

// decode picks a decoder from the file extension, falling back to
// content sniffing for extension-less staged downloads.
func decode(f *os.File, path string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extMP3:
		return mp3.Decode(f)
	case extFLAC:
		if err := skipID3v2(f); err != nil {
			return nil, beep.Format{}, err
		}
		return flac.Decode(f)
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, beep.Format{}, fmt.Errorf("sniff source: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, beep.Format{}, err
	}
	if string(magic) == "fLaC" {
		return flac.Decode(f)
	}
	return mp3.Decode(f)
}

// skipID3v2 skips an ID3v2 tag if present at the start of the file.
// Some taggers prepend one to FLAC files, which the FLAC decoder does
// not handle.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := r.Read(header)
	if err != nil {
		return err
	}
	if n < 10 || string(header[0:3]) != "ID3" {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}

	// ID3v2 size is a syncsafe integer in bytes 6-9: 7 bits per byte.
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}

// levelToVolume converts a 0.0-1.0 level to beep's logarithmic Volume
// value: 1.0 -> 0, 0.5 -> -1, 0.25 -> -2.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func stageExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(filepath.Ext(u.Path)); ext {
		case extMP3, extFLAC:
			return ext
		}
	}
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return extMP3
	case "audio/flac", "audio/x-flac":
		return extFLAC
	}
	return ""
}
