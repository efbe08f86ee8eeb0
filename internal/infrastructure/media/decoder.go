package media

import (
	"image"
	"image/draw"
	"image/gif"
	"sync"
	"time"
)

// StillDecoder serves a single decoded image.
type StillDecoder struct {
	tainted bool

	mu     sync.RWMutex
	img    image.Image
	closed bool
}

func NewStillDecoder(img image.Image, tainted bool) *StillDecoder {
	return &StillDecoder{img: img, tainted: tainted}
}

func (d *StillDecoder) Frame(time.Time) (image.Image, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.img == nil {
		return nil, false
	}
	return d.img, true
}

func (d *StillDecoder) Size() (int, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.img == nil {
		return 0, 0
	}
	b := d.img.Bounds()
	return b.Dx(), b.Dy()
}

func (d *StillDecoder) Tainted() bool { return d.tainted }

func (d *StillDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.img = nil
	return nil
}

// minFrameDelay is used for GIF frames that declare a zero delay, as
// browsers do.
const minFrameDelay = 100 * time.Millisecond

// ClipDecoder plays an animated GIF against the wall clock, starting at
// the first Frame call. Frames stay paletted; the logical screen is
// composited on demand into one canvas that Frame returns, so the image is
// only valid until the next Frame call.
type ClipDecoder struct {
	frames   []*image.Paletted
	disposal []byte
	offsets  []time.Duration // start offset of each frame
	total    time.Duration
	loop     bool
	tainted  bool
	width    int
	height   int

	mu      sync.Mutex
	started time.Time
	closed  bool
	canvas  *image.RGBA
	saved   *image.RGBA // canvas before a DisposalPrevious frame
	drawn   int         // frame currently on the canvas, -1 for none
}

func NewClipDecoder(g *gif.GIF, loop, tainted bool) *ClipDecoder {
	w, h := g.Config.Width, g.Config.Height
	if (w == 0 || h == 0) && len(g.Image) > 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	d := &ClipDecoder{
		frames:   g.Image,
		disposal: make([]byte, len(g.Image)),
		loop:     loop,
		tainted:  tainted,
		width:    w,
		height:   h,
		drawn:    -1,
	}
	copy(d.disposal, g.Disposal)
	for i := range g.Image {
		delay := minFrameDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		d.offsets = append(d.offsets, d.total)
		d.total += delay
	}
	return d
}

func (d *ClipDecoder) Frame(now time.Time) (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.frames) == 0 {
		return nil, false
	}
	if d.started.IsZero() {
		d.started = now
	}
	d.composeTo(d.indexAt(now.Sub(d.started)))
	return d.canvas, true
}

// composeTo brings the canvas to frame idx, replaying from the first frame
// when the clip has wrapped.
func (d *ClipDecoder) composeTo(idx int) {
	if d.canvas == nil {
		d.canvas = image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	}
	if idx == d.drawn {
		return
	}
	if idx < d.drawn {
		clear(d.canvas.Pix)
		d.drawn = -1
	}
	for i := d.drawn + 1; i <= idx; i++ {
		if i > 0 {
			d.dispose(i - 1)
		}
		frame := d.frames[i]
		if d.disposal[i] == gif.DisposalPrevious {
			if d.saved == nil {
				d.saved = image.NewRGBA(d.canvas.Rect)
			}
			copy(d.saved.Pix, d.canvas.Pix)
		}
		draw.Draw(d.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	}
	d.drawn = idx
}

func (d *ClipDecoder) dispose(i int) {
	switch d.disposal[i] {
	case gif.DisposalBackground:
		draw.Draw(d.canvas, d.frames[i].Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		copy(d.canvas.Pix, d.saved.Pix)
	}
}

func (d *ClipDecoder) indexAt(elapsed time.Duration) int {
	if elapsed < 0 || d.total <= 0 {
		return 0
	}
	if elapsed >= d.total {
		if !d.loop {
			return len(d.frames) - 1
		}
		elapsed %= d.total
	}
	idx := 0
	for i, off := range d.offsets {
		if off > elapsed {
			break
		}
		idx = i
	}
	return idx
}

func (d *ClipDecoder) Size() (int, int) { return d.width, d.height }
func (d *ClipDecoder) Tainted() bool    { return d.tainted }

// Duration is the length of one pass through the clip.
func (d *ClipDecoder) Duration() time.Duration { return d.total }

func (d *ClipDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.frames = nil
	d.canvas = nil
	d.saved = nil
	return nil
}
