package services

import (
	"math"
	"sync"

	"castmix/internal/core/domain"
)

// InsetFraction is the inset size relative to the raster.
const InsetFraction = 0.25

// InsetController owns the picture-in-picture rectangle and the drag
// gesture that moves it. Only the position is mutable.
type InsetController struct {
	width  int
	height int
	margin int

	mu       sync.Mutex
	rect     domain.Rect
	placed   bool
	active   bool
	dragging bool
	grabX    float64
	grabY    float64
}

func NewInsetController(width, height, margin int) *InsetController {
	c := &InsetController{width: width, height: height, margin: margin}
	c.rect = c.defaultRect()
	return c
}

func (c *InsetController) defaultRect() domain.Rect {
	w := int(math.Round(float64(c.width) * InsetFraction))
	h := int(math.Round(float64(c.height) * InsetFraction))
	r := domain.Rect{X: c.width - w - c.margin, Y: c.height - h - c.margin, W: w, H: h}
	r.X, r.Y = c.clamp(float64(r.X), float64(r.Y), r.W, r.H)
	return r
}

// Activate enables dragging. The first activation places the inset at the
// bottom-right corner; later ones keep the last position.
func (c *InsetController) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.placed {
		c.rect = c.defaultRect()
		c.placed = true
	}
	c.active = true
}

// Deactivate ends any drag in progress and ignores pointer input until the
// next Activate.
func (c *InsetController) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.dragging = false
}

func (c *InsetController) Rect() domain.Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rect
}

func (c *InsetController) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// MoveTo places the inset's top-left corner at (x, y) in raster space,
// clamped to the raster.
func (c *InsetController) MoveTo(x, y int) domain.Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rect.X, c.rect.Y = c.clamp(float64(x), float64(y), c.rect.W, c.rect.H)
	c.placed = true
	return c.rect
}

// HandlePointer applies one pointer event and reports whether it was
// consumed by the inset drag.
func (c *InsetController) HandlePointer(ev domain.PointerEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	x, y := c.toRaster(ev)

	switch ev.Phase {
	case domain.PointerDown:
		if !c.rect.Contains(x, y) {
			return false
		}
		c.dragging = true
		c.grabX = x - float64(c.rect.X)
		c.grabY = y - float64(c.rect.Y)
		return true

	case domain.PointerMove:
		if !c.dragging {
			return false
		}
		c.rect.X, c.rect.Y = c.clamp(x-c.grabX, y-c.grabY, c.rect.W, c.rect.H)
		return true

	case domain.PointerUp, domain.PointerLeave:
		was := c.dragging
		c.dragging = false
		return was
	}
	return false
}

// toRaster converts display coordinates into raster coordinates. An
// unknown display size is taken to be the raster size.
func (c *InsetController) toRaster(ev domain.PointerEvent) (float64, float64) {
	x, y := ev.X, ev.Y
	if ev.DisplayW > 0 {
		x *= float64(c.width) / ev.DisplayW
	}
	if ev.DisplayH > 0 {
		y *= float64(c.height) / ev.DisplayH
	}
	return x, y
}

func (c *InsetController) clamp(x, y float64, w, h int) (int, int) {
	maxX := float64(c.width - w)
	maxY := float64(c.height - h)
	x = math.Max(0, math.Min(math.Round(x), maxX))
	y = math.Max(0, math.Min(math.Round(y), maxY))
	return int(x), int(y)
}
