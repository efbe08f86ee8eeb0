package services

import (
	"math/rand"
	"testing"

	"castmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsetController_DefaultPlacement(t *testing.T) {
	c := NewInsetController(1280, 720, 24)
	c.Activate()

	assert.Equal(t, domain.Rect{X: 936, Y: 516, W: 320, H: 180}, c.Rect())
}

func TestInsetController_DragWithDisplayScaling(t *testing.T) {
	c := NewInsetController(1280, 720, 24)
	c.Activate()

	// shown at half size, so display (500,300) is raster (1000,600)
	down := domain.PointerEvent{X: 500, Y: 300, Phase: domain.PointerDown, DisplayW: 640, DisplayH: 360}
	require.True(t, c.HandlePointer(down))
	assert.True(t, c.Dragging())

	move := domain.PointerEvent{X: 100, Y: 100, Phase: domain.PointerMove, DisplayW: 640, DisplayH: 360}
	require.True(t, c.HandlePointer(move))
	// grab offset was (64,84)
	assert.Equal(t, domain.Rect{X: 136, Y: 116, W: 320, H: 180}, c.Rect())

	assert.True(t, c.HandlePointer(domain.PointerEvent{Phase: domain.PointerUp}))
	assert.False(t, c.Dragging())
	assert.False(t, c.HandlePointer(move))
}

func TestInsetController_DownOutsideIsIgnored(t *testing.T) {
	c := NewInsetController(1280, 720, 24)
	c.Activate()

	assert.False(t, c.HandlePointer(domain.PointerEvent{X: 10, Y: 10, Phase: domain.PointerDown}))
	assert.False(t, c.Dragging())
	assert.False(t, c.HandlePointer(domain.PointerEvent{X: 20, Y: 20, Phase: domain.PointerMove}))
}

func TestInsetController_Clamp(t *testing.T) {
	c := NewInsetController(1280, 720, 24)
	c.Activate()
	require.True(t, c.HandlePointer(domain.PointerEvent{X: 1000, Y: 600, Phase: domain.PointerDown}))

	c.HandlePointer(domain.PointerEvent{X: 5000, Y: 5000, Phase: domain.PointerMove})
	assert.Equal(t, 960, c.Rect().X)
	assert.Equal(t, 540, c.Rect().Y)

	c.HandlePointer(domain.PointerEvent{X: -5000, Y: -5000, Phase: domain.PointerMove})
	assert.Equal(t, 0, c.Rect().X)
	assert.Equal(t, 0, c.Rect().Y)

	assert.True(t, c.HandlePointer(domain.PointerEvent{Phase: domain.PointerLeave}))
	assert.False(t, c.Dragging())
}

func TestInsetController_AlwaysInBounds(t *testing.T) {
	const w, h = 1280, 720
	c := NewInsetController(w, h, 24)
	c.Activate()
	rng := rand.New(rand.NewSource(42))

	phases := []domain.PointerPhase{domain.PointerDown, domain.PointerMove, domain.PointerMove, domain.PointerUp, domain.PointerLeave}
	for i := 0; i < 5000; i++ {
		r := c.Rect()
		ev := domain.PointerEvent{
			X:        rng.Float64()*3000 - 1000,
			Y:        rng.Float64()*2000 - 700,
			Phase:    phases[rng.Intn(len(phases))],
			DisplayW: float64(320 + rng.Intn(1600)),
			DisplayH: float64(180 + rng.Intn(900)),
		}
		if ev.Phase == domain.PointerDown && rng.Intn(2) == 0 {
			// aim inside the inset half of the time
			ev.X = (float64(r.X) + rng.Float64()*float64(r.W)) * ev.DisplayW / w
			ev.Y = (float64(r.Y) + rng.Float64()*float64(r.H)) * ev.DisplayH / h
		}
		c.HandlePointer(ev)

		r = c.Rect()
		require.GreaterOrEqual(t, r.X, 0)
		require.GreaterOrEqual(t, r.Y, 0)
		require.LessOrEqual(t, r.X, w-r.W)
		require.LessOrEqual(t, r.Y, h-r.H)
		require.Equal(t, 320, r.W)
		require.Equal(t, 180, r.H)
	}
}

func TestInsetController_PositionSurvivesDeactivate(t *testing.T) {
	c := NewInsetController(1280, 720, 24)
	c.Activate()
	moved := c.MoveTo(100, 50)

	c.Deactivate()
	assert.False(t, c.HandlePointer(domain.PointerEvent{X: 150, Y: 100, Phase: domain.PointerDown}))

	c.Activate()
	assert.Equal(t, moved, c.Rect())
}
