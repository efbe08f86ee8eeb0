package compositor

import (
	"image"
	"sync"
)

// Surface is a double-buffered raster. The renderer draws into the back
// buffer and Commit publishes it; readers only ever see committed frames.
type Surface struct {
	mu    sync.RWMutex
	back  *image.RGBA
	front *image.RGBA
	seq   uint64
}

func NewSurface(width, height int) *Surface {
	r := image.Rect(0, 0, width, height)
	return &Surface{
		back:  image.NewRGBA(r),
		front: image.NewRGBA(r),
	}
}

func (s *Surface) Bounds() image.Rectangle {
	return s.back.Rect
}

// Canvas returns the back buffer. Only the render loop may draw into it.
func (s *Surface) Canvas() *image.RGBA {
	return s.back
}

// Commit swaps the buffers and returns the new frame sequence number.
func (s *Surface) Commit() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.back, s.front = s.front, s.back
	s.seq++
	return s.seq
}

// Seq is the number of committed frames.
func (s *Surface) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// CopyFront copies the last committed frame into a new image. ok is false
// before the first commit.
func (s *Surface) CopyFront() (*image.RGBA, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seq == 0 {
		return nil, 0, false
	}
	dst := image.NewRGBA(s.front.Rect)
	copy(dst.Pix, s.front.Pix)
	return dst, s.seq, true
}
