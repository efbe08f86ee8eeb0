package compositor

import (
	"image"
	"image/color"

	"castmix/internal/core/domain"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FrameLookup returns the current frame of a source.
type FrameLookup func(kind domain.SourceKind) (image.Image, bool)

// Result reports what one Execute call did.
type Result struct {
	Ops          int
	Placeholders int
	Drawn        []domain.SourceKind
}

// Execute runs plan against dst. Sources for which hide returns true are
// treated as missing. Execute never fails: a missing frame degrades to the
// op's fallback fill.
func Execute(dst *image.RGBA, plan Plan, frames FrameLookup, hide func(domain.SourceKind) bool) Result {
	var res Result
	for _, op := range plan {
		res.Ops++
		switch op.Kind {
		case OpGradient:
			fillGradient(dst, op.Rect.Image(), op.Color, op.To)
		case OpFill:
			fillRect(dst, op.Rect.Image(), op.Color)
		case OpText:
			drawText(dst, op)
		case OpSource:
			var (
				img image.Image
				ok  bool
			)
			if hide == nil || !hide(op.Source) {
				img, ok = frames(op.Source)
			}
			if ok && drawSource(dst, op, img) {
				res.Drawn = append(res.Drawn, op.Source)
				continue
			}
			if op.Fallback != nil {
				fillRect(dst, op.Rect.Image(), *op.Fallback)
				res.Placeholders++
			}
		}
	}
	return res
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	op := xdraw.Src
	if c.A != 0xff {
		op = xdraw.Over
	}
	xdraw.Draw(dst, r, &image.Uniform{C: c}, image.Point{}, op)
}

func fillGradient(dst *image.RGBA, r image.Rectangle, top, bottom color.RGBA) {
	r = r.Intersect(dst.Rect)
	h := r.Dy()
	if h <= 0 {
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y-r.Min.Y) / float64(h-1)
		}
		c := color.RGBA{
			R: lerp(top.R, bottom.R, t),
			G: lerp(top.G, bottom.G, t),
			B: lerp(top.B, bottom.B, t),
			A: lerp(top.A, bottom.A, t),
		}
		xdraw.Draw(dst, image.Rect(r.Min.X, y, r.Max.X, y+1), &image.Uniform{C: c}, image.Point{}, xdraw.Src)
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

func drawSource(dst *image.RGBA, op DrawOp, img image.Image) bool {
	b := img.Bounds()
	target := op.Rect.Image()
	if b.Empty() || target.Empty() {
		return false
	}
	switch op.Fit {
	case FitContain:
		dr := ContainRect(b.Dx(), b.Dy(), target)
		if dr.Empty() {
			return false
		}
		xdraw.ApproxBiLinear.Scale(dst, dr, img, b, xdraw.Over, nil)
	default:
		crop := CoverCrop(b.Dx(), b.Dy(), target.Dx(), target.Dy())
		if crop.Empty() {
			return false
		}
		xdraw.ApproxBiLinear.Scale(dst, target, img, crop.Add(b.Min), xdraw.Over, nil)
	}
	return true
}

func drawText(dst *image.RGBA, op DrawOp) {
	if op.Text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{C: op.Color},
		Face: basicfont.Face7x13,
	}
	x := fixed.I(op.Rect.X)
	w := d.MeasureString(op.Text)
	switch op.Align {
	case AlignCenter:
		x -= w / 2
	case AlignRight:
		x -= w
	}
	d.Dot = fixed.Point26_6{X: x, Y: fixed.I(op.Rect.Y)}
	d.DrawString(op.Text)
}
