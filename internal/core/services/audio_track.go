package services

import (
	"sync"
	"sync/atomic"
)

const audioSubscriberBuffer = 50

// AudioTrack fans processed quanta out to subscribers. A subscriber that
// falls behind loses quanta rather than stalling the graph.
type AudioTrack struct {
	id     string
	format AudioFormat

	mu      sync.RWMutex
	subs    map[string]chan []int16
	closed  bool
	dropped atomic.Uint64
}

func NewAudioTrack(id string, format AudioFormat) *AudioTrack {
	return &AudioTrack{id: id, format: format, subs: make(map[string]chan []int16)}
}

func (t *AudioTrack) ID() string          { return t.id }
func (t *AudioTrack) Kind() TrackKind     { return TrackAudio }
func (t *AudioTrack) Format() AudioFormat { return t.format }

// Dropped is the number of quanta a slow subscriber missed.
func (t *AudioTrack) Dropped() uint64 { return t.dropped.Load() }

// Subscribe registers id and returns its quantum channel. Subscribing an
// id twice returns the existing channel. The channel is closed on
// Unsubscribe or when the track closes.
func (t *AudioTrack) Subscribe(id string) <-chan []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		return ch
	}
	ch := make(chan []int16, audioSubscriberBuffer)
	if t.closed {
		close(ch)
		return ch
	}
	t.subs[id] = ch
	return ch
}

func (t *AudioTrack) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

// Write delivers one quantum. The slice must not be modified afterwards.
func (t *AudioTrack) Write(samples []int16) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- samples:
		default:
			t.dropped.Add(1)
		}
	}
}

func (t *AudioTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
