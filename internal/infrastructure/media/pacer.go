package media

import (
	"sync"
	"time"

	"castmix/internal/core/ports"
)

// IntervalPacer fires each requested callback on the next frame boundary of
// a fixed-rate clock, so a loop that re-requests from its callback runs at
// most at the target rate and never busy-waits.
type IntervalPacer struct {
	interval time.Duration

	mu     sync.Mutex
	next   ports.FrameHandle
	timers map[ports.FrameHandle]*time.Timer
	last   time.Time
}

func NewIntervalPacer(fps int) *IntervalPacer {
	if fps <= 0 {
		fps = 30
	}
	return &IntervalPacer{
		interval: time.Second / time.Duration(fps),
		timers:   make(map[ports.FrameHandle]*time.Timer),
	}
}

var _ ports.FramePacer = (*IntervalPacer)(nil)

func (p *IntervalPacer) RequestFrame(cb func(now time.Time)) ports.FrameHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	h := p.next
	delay := p.interval - time.Since(p.last)
	if delay < 0 || p.last.IsZero() {
		delay = 0
	}
	p.timers[h] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if _, ok := p.timers[h]; !ok {
			p.mu.Unlock()
			return
		}
		delete(p.timers, h)
		now := time.Now()
		p.last = now
		p.mu.Unlock()
		cb(now)
	})
	return h
}

func (p *IntervalPacer) CancelFrame(h ports.FrameHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[h]; ok {
		t.Stop()
		delete(p.timers, h)
	}
}

// Pending returns the number of callbacks not yet fired or cancelled.
func (p *IntervalPacer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}
