package services

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// manualPacer only fires callbacks when the test steps it.
type manualPacer struct {
	mu      sync.Mutex
	next    ports.FrameHandle
	pending map[ports.FrameHandle]func(time.Time)
}

func newManualPacer() *manualPacer {
	return &manualPacer{pending: make(map[ports.FrameHandle]func(time.Time))}
}

func (p *manualPacer) RequestFrame(cb func(now time.Time)) ports.FrameHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.pending[p.next] = cb
	return p.next
}

func (p *manualPacer) CancelFrame(h ports.FrameHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, h)
}

func (p *manualPacer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Step fires every pending callback and returns how many ran.
func (p *manualPacer) Step() int {
	p.mu.Lock()
	cbs := make([]func(time.Time), 0, len(p.pending))
	for h, cb := range p.pending {
		cbs = append(cbs, cb)
		delete(p.pending, h)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, cb := range cbs {
		cb(now)
	}
	return len(cbs)
}

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(ctx context.Context, kind domain.SourceKind, origin string, loop bool) (ports.FrameDecoder, error) {
	args := m.Called(ctx, kind, origin, loop)
	dec, _ := args.Get(0).(ports.FrameDecoder)
	return dec, args.Error(1)
}

// constSource emits the same sample value forever.
type constSource struct {
	value int16

	mu     sync.Mutex
	closed bool
}

func (s *constSource) ReadQuantum(buf []int16) int {
	for i := range buf {
		buf[i] = s.value
	}
	return len(buf)
}

func (s *constSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *constSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingSink struct {
	mu     sync.Mutex
	quanta [][]int16
}

func (s *recordingSink) WriteQuantum(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quanta = append(s.quanta, samples)
	return nil
}

func (s *recordingSink) Last() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.quanta) == 0 {
		return nil
	}
	return s.quanta[len(s.quanta)-1]
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func allSamples(samples []int16, want int16) bool {
	for _, s := range samples {
		if s != want {
			return false
		}
	}
	return len(samples) > 0
}
