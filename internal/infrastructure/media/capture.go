package media

import (
	"image"
	"sync"

	"castmix/internal/core/ports"
)

// FeedCapture is a live handle fed by the capture collaborator through
// Push. End marks the track as ended; the engine then treats the source as
// not ready.
type FeedCapture struct {
	id    string
	audio ports.AudioSource

	mu     sync.RWMutex
	frame  image.Image
	done   chan struct{}
	closed bool
}

func NewFeedCapture(id string, audio ports.AudioSource) *FeedCapture {
	return &FeedCapture{id: id, audio: audio, done: make(chan struct{})}
}

// NewStillCapture is a feed that always shows img.
func NewStillCapture(id string, img image.Image, audio ports.AudioSource) *FeedCapture {
	c := NewFeedCapture(id, audio)
	c.Push(img)
	return c
}

var _ ports.AudioCapture = (*FeedCapture)(nil)

func (c *FeedCapture) ID() string { return c.id }

func (c *FeedCapture) Push(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.frame = img
	}
}

func (c *FeedCapture) LatestFrame() (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.frame == nil {
		return nil, false
	}
	return c.frame, true
}

func (c *FeedCapture) Done() <-chan struct{} { return c.done }

// Audio returns the microphone track, or nil.
func (c *FeedCapture) Audio() ports.AudioSource { return c.audio }

// End stops the feed. It is idempotent.
func (c *FeedCapture) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.frame = nil
	close(c.done)
}
