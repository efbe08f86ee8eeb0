package compositor

import (
	"image"
	"image/color"
	"testing"

	"castmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sentinel = color.RGBA{R: 0xff, G: 0x00, B: 0xff, A: 0xff}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func noFrames(domain.SourceKind) (image.Image, bool) { return nil, false }

func smallScene(layout domain.LayoutMode, sources map[domain.SourceKind]SourceState) Scene {
	if sources == nil {
		sources = map[domain.SourceKind]SourceState{}
	}
	return Scene{
		Width:   320,
		Height:  180,
		Layout:  layout,
		Inset:   domain.Rect{X: 230, Y: 123, W: 80, H: 45},
		Sources: sources,
	}
}

func TestExecute_EveryLayoutFillsFrameWithZeroSources(t *testing.T) {
	for _, mode := range domain.AllLayoutModes {
		t.Run(string(mode), func(t *testing.T) {
			dst := solid(320, 180, sentinel)
			s := smallScene(mode, map[domain.SourceKind]SourceState{
				domain.SourceCamera: {Bound: true},
				domain.SourceClip:   {Bound: true},
			})
			res := Execute(dst, BuildPlan(s, DefaultOptions()), noFrames, nil)

			assert.Positive(t, res.Placeholders)
			assert.Empty(t, res.Drawn)
			for y := 0; y < 180; y++ {
				for x := 0; x < 320; x++ {
					require.NotEqual(t, sentinel, dst.RGBAAt(x, y), "pixel (%d,%d) left stale", x, y)
				}
			}
		})
	}
}

func TestExecute_SoloCameraIsAllCamera(t *testing.T) {
	red := color.RGBA{R: 0xff, A: 0xff}
	cam := solid(640, 480, red)
	dst := solid(320, 180, sentinel)

	s := smallScene(domain.LayoutSoloCamera, map[domain.SourceKind]SourceState{
		domain.SourceCamera: {Bound: true, Ready: true, Width: 640, Height: 480},
	})
	frames := func(kind domain.SourceKind) (image.Image, bool) {
		if kind == domain.SourceCamera {
			return cam, true
		}
		return nil, false
	}
	res := Execute(dst, BuildPlan(s, DefaultOptions()), frames, nil)

	assert.Zero(t, res.Placeholders)
	assert.Equal(t, []domain.SourceKind{domain.SourceCamera}, res.Drawn)
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			require.Equal(t, red, dst.RGBAAt(x, y))
		}
	}
}

func TestExecute_MissingFrameUsesFallback(t *testing.T) {
	dst := solid(320, 180, sentinel)
	plan := Plan{{Kind: OpSource, Rect: domain.Rect{W: 320, H: 180}, Source: domain.SourceCamera, Fallback: placeholder()}}
	res := Execute(dst, plan, noFrames, nil)
	assert.Equal(t, 1, res.Placeholders)
	assert.Equal(t, PlaceholderColor, dst.RGBAAt(10, 10))
}

func TestExecute_HiddenSourceTreatedAsMissing(t *testing.T) {
	green := color.RGBA{G: 0xff, A: 0xff}
	dst := solid(32, 18, sentinel)
	plan := Plan{{Kind: OpSource, Rect: domain.Rect{W: 32, H: 18}, Source: domain.SourceClip, Fallback: placeholder()}}
	frames := func(domain.SourceKind) (image.Image, bool) { return solid(16, 9, green), true }

	res := Execute(dst, plan, frames, func(k domain.SourceKind) bool { return k == domain.SourceClip })
	assert.Equal(t, 1, res.Placeholders)
	assert.Equal(t, PlaceholderColor, dst.RGBAAt(5, 5))
}

func TestRenderer_StrictExportBlanksTaintedSources(t *testing.T) {
	green := color.RGBA{G: 0xff, A: 0xff}
	r := NewRenderer(320, 180, DefaultOptions(), true)
	require.True(t, r.StrictExport())

	s := smallScene(domain.LayoutSoloContent, map[domain.SourceKind]SourceState{
		domain.SourceClip: {Bound: true, Ready: true, Tainted: true, Width: 160, Height: 90},
	})
	frames := func(kind domain.SourceKind) (image.Image, bool) {
		if kind == domain.SourceClip {
			return solid(160, 90, green), true
		}
		return nil, false
	}
	stats := r.Render(s, frames)
	assert.Equal(t, []domain.SourceKind{domain.SourceClip}, stats.Hidden)

	preview, _, ok := r.Preview().CopyFront()
	require.True(t, ok)
	export, _, ok := r.Export().CopyFront()
	require.True(t, ok)
	assert.Equal(t, green, preview.RGBAAt(100, 50))
	assert.Equal(t, PlaceholderColor, export.RGBAAt(100, 50))
}

func TestRenderer_SharedSurfaceWhenNotStrict(t *testing.T) {
	r := NewRenderer(64, 36, DefaultOptions(), false)
	assert.False(t, r.StrictExport())
	assert.Same(t, r.Preview(), r.Export())
}

func TestRenderer_SuspendedReadsNoSources(t *testing.T) {
	r := NewRenderer(320, 180, DefaultOptions(), false)
	stats := r.RenderSuspended(smallScene(domain.LayoutSplit, nil))
	assert.Zero(t, stats.Placeholders)

	img, seq, ok := r.Preview().CopyFront()
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, GradientTop, img.RGBAAt(0, 0))
}

func TestSurface_CopyFrontBeforeCommit(t *testing.T) {
	s := NewSurface(8, 8)
	_, _, ok := s.CopyFront()
	assert.False(t, ok)

	s.Canvas().Set(1, 1, sentinel)
	assert.Equal(t, uint64(1), s.Commit())
	img, _, ok := s.CopyFront()
	require.True(t, ok)
	assert.Equal(t, sentinel, img.RGBAAt(1, 1))
}
