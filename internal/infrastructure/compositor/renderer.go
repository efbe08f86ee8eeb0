package compositor

import (
	"image"
	"time"

	"castmix/internal/core/domain"
)

// Renderer owns the preview surface and, in strict export mode, a separate
// export surface on which tainted sources are never drawn.
type Renderer struct {
	opts    Options
	preview *Surface
	export  *Surface
}

// NewRenderer creates the raster surfaces. With strictExport false the
// export surface is the preview surface.
func NewRenderer(width, height int, opts Options, strictExport bool) *Renderer {
	preview := NewSurface(width, height)
	export := preview
	if strictExport {
		export = NewSurface(width, height)
	}
	return &Renderer{opts: opts, preview: preview, export: export}
}

func (r *Renderer) Options() Options   { return r.opts }
func (r *Renderer) Preview() *Surface  { return r.preview }
func (r *Renderer) Export() *Surface   { return r.export }
func (r *Renderer) StrictExport() bool { return r.export != r.preview }

// FrameStats describes one rendered tick.
type FrameStats struct {
	Duration     time.Duration
	Placeholders int
	Drawn        []domain.SourceKind
	// Hidden lists tainted sources blanked on the export surface.
	Hidden []domain.SourceKind
}

// Render composes one frame and commits it.
func (r *Renderer) Render(scene Scene, frames FrameLookup) FrameStats {
	start := time.Now()
	plan := BuildPlan(scene, r.opts)
	res := Execute(r.preview.Canvas(), plan, frames, nil)
	stats := FrameStats{Placeholders: res.Placeholders, Drawn: res.Drawn}

	if r.StrictExport() {
		tainted := func(kind domain.SourceKind) bool {
			return scene.Sources[kind].Tainted
		}
		Execute(r.export.Canvas(), plan, frames, tainted)
		for _, kind := range res.Drawn {
			if tainted(kind) {
				stats.Hidden = append(stats.Hidden, kind)
			}
		}
		r.export.Commit()
	}
	r.preview.Commit()
	stats.Duration = time.Since(start)
	return stats
}

// RenderSuspended composes and commits the static low-data frame.
func (r *Renderer) RenderSuspended(scene Scene) FrameStats {
	start := time.Now()
	plan := BuildSuspendedPlan(scene, r.opts)
	none := func(domain.SourceKind) (image.Image, bool) { return nil, false }
	Execute(r.preview.Canvas(), plan, none, nil)
	if r.StrictExport() {
		Execute(r.export.Canvas(), plan, none, nil)
		r.export.Commit()
	}
	r.preview.Commit()
	return FrameStats{Duration: time.Since(start)}
}
