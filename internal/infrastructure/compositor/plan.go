package compositor

import (
	"image/color"
	"math"

	"castmix/internal/core/domain"
)

type OpKind int

const (
	OpGradient OpKind = iota // vertical gradient From→To
	OpFill                   // solid fill
	OpSource                 // source frame, Fallback fill if the frame is missing
	OpText                   // single line of text anchored at Rect
)

type Fit int

const (
	FitCover Fit = iota
	FitContain
)

type Align int

const (
	AlignCenter Align = iota
	AlignRight
)

// DrawOp is one step of a draw plan. Later ops occlude earlier ones.
type DrawOp struct {
	Kind   OpKind
	Rect   domain.Rect
	Color  color.RGBA // fill colour, gradient top, text colour
	To     color.RGBA // gradient bottom
	Source domain.SourceKind
	Fit    Fit
	// Fallback is painted over Rect when the source has no frame. A nil
	// Fallback skips the op instead (overlays).
	Fallback *color.RGBA
	Text     string
	Align    Align
}

type Plan []DrawOp

// SourceState is what the planner needs to know about one source.
type SourceState struct {
	Bound   bool
	Ready   bool
	Tainted bool
	Width   int
	Height  int
}

// Scene is a per-frame snapshot of everything that decides the plan.
type Scene struct {
	Width     int
	Height    int
	Layout    domain.LayoutMode
	Inset     domain.Rect
	Sources   map[domain.SourceKind]SourceState
	Watermark string
}

type Options struct {
	// OverlayFullFrameMinWidth is the natural width above which an overlay
	// image is treated as a full-frame graphic rather than a logo.
	OverlayFullFrameMinWidth int
	LogoWidth                int
	LogoHeight               int
	LogoMargin               int
	Caption                  string
	SuspendedCaption         string
}

func DefaultOptions() Options {
	return Options{
		OverlayFullFrameMinWidth: 800,
		LogoWidth:                160,
		LogoHeight:               90,
		LogoMargin:               24,
		Caption:                  "Share your screen or add a clip to show content here",
		SuspendedCaption:         "Low-data mode: preview paused",
	}
}

var (
	GradientTop      = color.RGBA{R: 0x0f, G: 0x17, B: 0x2a, A: 0xff}
	GradientBottom   = color.RGBA{R: 0x1e, G: 0x29, B: 0x3b, A: 0xff}
	PlaceholderColor = color.RGBA{R: 0x33, G: 0x41, B: 0x55, A: 0xff}
	ContentFillColor = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
	DividerColor     = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff}
	BorderColor      = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	ShadowColor      = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0x73}
	MatteColor       = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff}
	CaptionColor     = color.RGBA{R: 0xe2, G: 0xe8, B: 0xf0, A: 0xff}
	// premultiplied white at ~55% opacity
	WatermarkColor = color.RGBA{R: 0x8c, G: 0x8c, B: 0x8c, A: 0x8c}
)

const (
	DividerWidth  = 4
	InsetBorder   = 2
	ShadowOffset  = 6
	MatteWidth    = 6
	ShoulderMainF = 0.55
	ShoulderCamF  = 0.35
	// Shoulder rectangles sit this fraction of the frame away from the
	// corner they are anchored to.
	ShoulderMarginF = 0.04
	watermarkMargin = 16
)

func placeholder() *color.RGBA {
	c := PlaceholderColor
	return &c
}

// ContentSource picks the "content" source: a clip wins over a screen
// share. ok is false when neither is bound.
func ContentSource(s Scene) (domain.SourceKind, bool) {
	if s.Sources[domain.SourceClip].Bound {
		return domain.SourceClip, true
	}
	if s.Sources[domain.SourceScreenShare].Bound {
		return domain.SourceScreenShare, true
	}
	return "", false
}

// BuildPlan computes the draw plan for one frame. It is a pure function of
// the scene.
func BuildPlan(s Scene, opts Options) Plan {
	full := domain.Rect{W: s.Width, H: s.Height}
	plan := make(Plan, 0, 12)

	plan = append(plan, backgroundOps(s, full)...)

	switch s.Layout {
	case domain.LayoutSoloCamera:
		plan = append(plan, sourceOp(domain.SourceCamera, full, FitCover))

	case domain.LayoutSoloContent:
		if kind, ok := ContentSource(s); ok {
			plan = append(plan, sourceOp(kind, full, FitCover))
		} else {
			plan = append(plan, sourceOp(domain.SourceCamera, full, FitCover))
			plan = append(plan, captionOp(full, opts.Caption))
		}

	case domain.LayoutSplit:
		half := s.Width / 2
		left := domain.Rect{X: 0, Y: 0, W: half - DividerWidth/2, H: s.Height}
		divider := domain.Rect{X: left.W, Y: 0, W: DividerWidth, H: s.Height}
		right := domain.Rect{X: divider.X + DividerWidth, Y: 0, W: s.Width - divider.X - DividerWidth, H: s.Height}
		plan = append(plan, contentOp(s, left, FitCover, PlaceholderColor))
		plan = append(plan, sourceOp(domain.SourceCamera, right, FitCover))
		plan = append(plan, DrawOp{Kind: OpFill, Rect: divider, Color: DividerColor})

	case domain.LayoutInset:
		plan = append(plan, contentOp(s, full, FitCover, ContentFillColor))
		in := s.Inset
		plan = append(plan,
			DrawOp{Kind: OpFill, Rect: domain.Rect{X: in.X + ShadowOffset, Y: in.Y + ShadowOffset, W: in.W, H: in.H}, Color: ShadowColor},
			DrawOp{Kind: OpFill, Rect: grow(in, InsetBorder), Color: BorderColor},
			sourceOp(domain.SourceCamera, in, FitCover),
		)

	case domain.LayoutShoulder:
		main, cam := ShoulderRects(s.Width, s.Height)
		plan = append(plan,
			DrawOp{Kind: OpFill, Rect: grow(main, MatteWidth), Color: MatteColor},
			contentOp(s, main, FitContain, PlaceholderColor),
			DrawOp{Kind: OpFill, Rect: grow(cam, MatteWidth), Color: MatteColor},
			sourceOp(domain.SourceCamera, cam, FitContain),
		)
	}

	if ov := s.Sources[domain.SourceOverlayImage]; ov.Ready {
		if ov.Width > opts.OverlayFullFrameMinWidth {
			plan = append(plan, DrawOp{Kind: OpSource, Rect: full, Source: domain.SourceOverlayImage, Fit: FitCover})
		} else {
			badge := domain.Rect{
				X: s.Width - opts.LogoMargin - opts.LogoWidth,
				Y: opts.LogoMargin,
				W: opts.LogoWidth,
				H: opts.LogoHeight,
			}
			plan = append(plan, DrawOp{Kind: OpSource, Rect: badge, Source: domain.SourceOverlayImage, Fit: FitContain})
		}
	}

	if s.Watermark != "" {
		plan = append(plan, DrawOp{
			Kind:  OpText,
			Rect:  domain.Rect{X: s.Width - watermarkMargin, Y: s.Height - watermarkMargin},
			Color: WatermarkColor,
			Text:  s.Watermark,
			Align: AlignRight,
		})
	}
	return plan
}

// BuildSuspendedPlan is the static frame shown in low-data mode. It reads
// no sources at all.
func BuildSuspendedPlan(s Scene, opts Options) Plan {
	full := domain.Rect{W: s.Width, H: s.Height}
	return Plan{
		{Kind: OpGradient, Rect: full, Color: GradientTop, To: GradientBottom},
		captionOp(full, opts.SuspendedCaption),
	}
}

// ShoulderRects returns the content and camera rectangles of the shoulder
// layout.
func ShoulderRects(w, h int) (main, cam domain.Rect) {
	mx := int(math.Round(float64(w) * ShoulderMarginF))
	my := int(math.Round(float64(h) * ShoulderMarginF))
	main = domain.Rect{
		X: mx,
		Y: my,
		W: int(math.Round(float64(w) * ShoulderMainF)),
		H: int(math.Round(float64(h) * ShoulderMainF)),
	}
	cw := int(math.Round(float64(w) * ShoulderCamF))
	ch := int(math.Round(float64(h) * ShoulderCamF))
	cam = domain.Rect{X: w - mx - cw, Y: h - my - ch, W: cw, H: ch}
	return main, cam
}

func backgroundOps(s Scene, full domain.Rect) Plan {
	if s.Sources[domain.SourceBackgroundImage].Ready {
		// The gradient doubles as fallback if the frame vanishes mid-tick.
		return Plan{
			{Kind: OpGradient, Rect: full, Color: GradientTop, To: GradientBottom},
			{Kind: OpSource, Rect: full, Source: domain.SourceBackgroundImage, Fit: FitCover},
		}
	}
	return Plan{{Kind: OpGradient, Rect: full, Color: GradientTop, To: GradientBottom}}
}

func sourceOp(kind domain.SourceKind, r domain.Rect, fit Fit) DrawOp {
	return DrawOp{Kind: OpSource, Rect: r, Source: kind, Fit: fit, Fallback: placeholder()}
}

func contentOp(s Scene, r domain.Rect, fit Fit, absent color.RGBA) DrawOp {
	if kind, ok := ContentSource(s); ok {
		return sourceOp(kind, r, fit)
	}
	return DrawOp{Kind: OpFill, Rect: r, Color: absent}
}

func captionOp(r domain.Rect, text string) DrawOp {
	return DrawOp{
		Kind:  OpText,
		Rect:  domain.Rect{X: r.X + r.W/2, Y: r.Y + r.H - r.H/8},
		Color: CaptionColor,
		Text:  text,
		Align: AlignCenter,
	}
}

func grow(r domain.Rect, n int) domain.Rect {
	return domain.Rect{X: r.X - n, Y: r.Y - n, W: r.W + 2*n, H: r.H + 2*n}
}
