package services

import (
	"context"
	"image"
	"sync"
	"time"

	"castmix/internal/core/ports"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is a media track of the output stream.
type Track interface {
	ID() string
	Kind() TrackKind
}

// FrameSource is the committed raster the video track samples.
type FrameSource interface {
	Seq() uint64
	CopyFront() (*image.RGBA, uint64, bool)
}

// VideoFrame is one emitted frame. Timestamps advance by exactly one
// interval per frame regardless of render speed.
type VideoFrame struct {
	Seq        uint64
	Timestamp  time.Time
	Image      *image.RGBA
	SurfaceSeq uint64
	// Repeated is set when no new frame was committed since the last tick.
	Repeated bool
}

// VideoTrack samples the surface at a fixed rate and hands the newest frame
// to each subscriber. Slow subscribers skip frames.
type VideoTrack struct {
	id       string
	interval time.Duration
	source   FrameSource
	metrics  ports.MetricsRecorder

	mu     sync.Mutex
	cond   *sync.Cond
	latest *VideoFrame
	subs   map[string]uint64 // last frame seq read
	closed bool
	start  time.Time
	next   uint64
}

func NewVideoTrack(id string, frameRate int, source FrameSource, metrics ports.MetricsRecorder) *VideoTrack {
	if frameRate <= 0 {
		frameRate = 30
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	t := &VideoTrack{
		id:       id,
		interval: time.Second / time.Duration(frameRate),
		source:   source,
		metrics:  metrics,
		subs:     make(map[string]uint64),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *VideoTrack) ID() string              { return t.id }
func (t *VideoTrack) Kind() TrackKind         { return TrackVideo }
func (t *VideoTrack) Interval() time.Duration { return t.interval }

// Run emits one frame per interval until ctx is done or the track closes.
func (t *VideoTrack) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !t.tick(now) {
				return
			}
		}
	}
}

// tick emits the next frame. Nothing is emitted before the first commit.
// It returns false once the track is closed.
func (t *VideoTrack) tick(now time.Time) bool {
	surfaceSeq := t.source.Seq()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	prev := t.latest
	t.mu.Unlock()

	var (
		img      *image.RGBA
		repeated bool
	)
	if prev != nil && prev.SurfaceSeq == surfaceSeq {
		img, repeated = prev.Image, true
	} else {
		var ok bool
		img, surfaceSeq, ok = t.source.CopyFront()
		if !ok {
			return true
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.start.IsZero() {
		t.start = now
	}
	t.next++
	t.latest = &VideoFrame{
		Seq:        t.next,
		Timestamp:  t.start.Add(time.Duration(t.next-1) * t.interval),
		Image:      img,
		SurfaceSeq: surfaceSeq,
		Repeated:   repeated,
	}
	t.cond.Broadcast()
	t.metrics.RecordVideoFrame(repeated)
	return true
}

// Latest returns the most recent frame without subscribing.
func (t *VideoTrack) Latest() (*VideoFrame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.latest != nil
}

// Subscribe registers id and returns a blocking read function. Each call
// returns the newest frame the subscriber has not seen yet, or false once
// the subscriber is removed or the track is closed.
func (t *VideoTrack) Subscribe(id string) func() (*VideoFrame, bool) {
	t.mu.Lock()
	if _, ok := t.subs[id]; !ok && !t.closed {
		t.subs[id] = 0
	}
	t.mu.Unlock()

	return func() (*VideoFrame, bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		for {
			last, ok := t.subs[id]
			if !ok || t.closed {
				return nil, false
			}
			if t.latest != nil && t.latest.Seq > last {
				t.subs[id] = t.latest.Seq
				return t.latest, true
			}
			t.cond.Wait()
		}
	}
}

// Unsubscribe removes id and wakes its pending read. It is idempotent.
func (t *VideoTrack) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; ok {
		delete(t.subs, id)
		t.cond.Broadcast()
	}
}

func (t *VideoTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.subs = make(map[string]uint64)
	t.cond.Broadcast()
}
