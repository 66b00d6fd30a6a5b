// Package transport owns the queue/transport state machine: the ordered
// playback queue, the selected item, shuffle/repeat modes, and the
// play/pause/progress/duration/volume fields.
//
// Transitions are plain synchronous mutations. All of them are invoked
// from a single dispatch owner (the playback engine under its lock), so
// the package itself carries no locking.
package transport

import (
	"math/rand"
	"time"

	"github.com/vibrato-audio/vibrato/internal/media"
)

// State holds the transport state for one player.
type State struct {
	current  *media.Item
	queue    []media.Item // unique by item ID, insertion-ordered
	playing  bool
	progress time.Duration
	duration time.Duration
	volume   float64
	shuffle  bool
	repeat   RepeatMode
}

// New creates an empty transport state with full volume.
func New() *State {
	return &State{volume: 1.0}
}

// Current returns a copy of the selected item, or nil if none.
func (s *State) Current() *media.Item {
	if s.current == nil {
		return nil
	}
	it := *s.current
	return &it
}

// Queue returns a copy of the queue.
func (s *State) Queue() []media.Item {
	out := make([]media.Item, len(s.queue))
	copy(out, s.queue)
	return out
}

// Index returns the queue index of the selected item, or -1 when the
// item is nil or was removed from the queue.
func (s *State) Index() int {
	if s.current == nil {
		return -1
	}
	return s.indexOf(s.current.ID)
}

// Len returns the number of queued items.
func (s *State) Len() int { return len(s.queue) }

// IsEmpty returns true if the queue has no items.
func (s *State) IsEmpty() bool { return len(s.queue) == 0 }

// Playing returns whether the transport is in the playing state.
func (s *State) Playing() bool { return s.playing }

// Progress returns the last reported playback position.
func (s *State) Progress() time.Duration { return s.progress }

// TrackDuration returns the last reported track duration.
func (s *State) TrackDuration() time.Duration { return s.duration }

// Volume returns the volume level in [0, 1].
func (s *State) Volume() float64 { return s.volume }

// Shuffle returns whether shuffle is enabled.
func (s *State) Shuffle() bool { return s.shuffle }

// Repeat returns the repeat mode.
func (s *State) Repeat() RepeatMode { return s.repeat }

// SetTrack selects an item and resets progress. The item is appended to
// the queue when its ID is not already present; queue order is otherwise
// unchanged. Returns true when the selected item ID actually changed.
func (s *State) SetTrack(item media.Item) bool {
	changed := s.current == nil || s.current.ID != item.ID
	it := item
	s.current = &it
	s.progress = 0
	if s.indexOf(item.ID) < 0 {
		s.queue = append(s.queue, item)
	}
	return changed
}

// Play marks the transport as playing. Side-effect free: actual media
// control lives in the engine, which issues this transition after I/O.
func (s *State) Play() { s.playing = true }

// Pause marks the transport as not playing.
func (s *State) Pause() { s.playing = false }

// SetProgress records the playback position.
func (s *State) SetProgress(d time.Duration) { s.progress = d }

// SetDuration records the track duration.
func (s *State) SetDuration(d time.Duration) { s.duration = d }

// SetVolume records the volume level. Callers clamp to [0, 1].
func (s *State) SetVolume(v float64) { s.volume = v }

// SetQueue replaces the queue wholesale, dropping duplicate IDs while
// keeping first occurrences. The selected item is left untouched even
// when absent from the new queue; Next and Previous handle that case.
func (s *State) SetQueue(items []media.Item) {
	queue := make([]media.Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		queue = append(queue, it)
	}
	s.queue = queue
}

// AddToQueue appends an item unless its ID is already queued.
// Returns true if the item was appended.
func (s *State) AddToQueue(item media.Item) bool {
	if s.indexOf(item.ID) >= 0 {
		return false
	}
	s.queue = append(s.queue, item)
	return true
}

// RemoveFromQueue removes the item with the given ID from the queue.
// The selected item is not cleared; a removed current item makes Next
// select queue[0] and Previous select the last item.
func (s *State) RemoveFromQueue(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.queue = append(s.queue[:i], s.queue[i+1:]...)
	return true
}

// SetShuffle sets the shuffle flag.
func (s *State) SetShuffle(enabled bool) { s.shuffle = enabled }

// ToggleShuffle flips the shuffle flag and returns the new value.
func (s *State) ToggleShuffle() bool {
	s.shuffle = !s.shuffle
	return s.shuffle
}

// SetRepeat sets the repeat mode.
func (s *State) SetRepeat(mode RepeatMode) { s.repeat = mode }

// CycleRepeat advances the repeat mode Off → One → All → Off and
// returns the new mode.
func (s *State) CycleRepeat() RepeatMode {
	s.repeat = s.repeat.Cycle()
	return s.repeat
}

// Next selects the next item per the current modes and returns true if
// the selected item changed. Rules:
//   - no selected item or empty queue: no-op
//   - selected item removed from the queue: select queue[0]
//   - shuffle: uniformly random different index; a one-item queue is a
//     fixed point
//   - sequential: advance by one; wrap to the start only under RepeatAll,
//     otherwise stay on the last item
//
// Progress resets only on an actual item change.
func (s *State) Next() bool {
	if s.current == nil || len(s.queue) == 0 {
		return false
	}
	idx := s.indexOf(s.current.ID)

	var target int
	switch {
	case idx < 0:
		target = 0
	case s.shuffle:
		if len(s.queue) == 1 {
			return false
		}
		target = s.randomOther(idx)
	default:
		target = idx + 1
		if target >= len(s.queue) {
			if s.repeat != RepeatAll {
				return false
			}
			target = 0
		}
	}
	return s.selectIndex(target)
}

// Previous selects the previous item, symmetric to Next: a removed
// current item selects the last queue item, and wrap-on-underflow
// happens only under RepeatAll.
func (s *State) Previous() bool {
	if s.current == nil || len(s.queue) == 0 {
		return false
	}
	idx := s.indexOf(s.current.ID)

	var target int
	switch {
	case idx < 0:
		target = len(s.queue) - 1
	case s.shuffle:
		if len(s.queue) == 1 {
			return false
		}
		target = s.randomOther(idx)
	default:
		target = idx - 1
		if target < 0 {
			if s.repeat != RepeatAll {
				return false
			}
			target = len(s.queue) - 1
		}
	}
	return s.selectIndex(target)
}

// HasNext reports whether Next would change the selected item.
func (s *State) HasNext() bool {
	if s.current == nil || len(s.queue) == 0 {
		return false
	}
	idx := s.indexOf(s.current.ID)
	if idx < 0 {
		return true
	}
	if s.shuffle {
		return len(s.queue) > 1
	}
	if idx < len(s.queue)-1 {
		return true
	}
	return s.repeat == RepeatAll && len(s.queue) > 1
}

func (s *State) selectIndex(i int) bool {
	it := s.queue[i]
	if s.current != nil && s.current.ID == it.ID {
		return false
	}
	s.current = &it
	s.progress = 0
	return true
}

func (s *State) indexOf(id string) int {
	for i := range s.queue {
		if s.queue[i].ID == id {
			return i
		}
	}
	return -1
}

// randomOther returns a uniformly random queue index different from
// current. Requires len(queue) > 1.
func (s *State) randomOther(current int) int {
	n := rand.Intn(len(s.queue) - 1) //nolint:gosec // not security-sensitive
	if n >= current {
		n++
	}
	return n
}
