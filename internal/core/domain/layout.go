package domain

import (
	"fmt"
	"image"
)

type LayoutMode string

const (
	LayoutSoloCamera  LayoutMode = "solo_camera"
	LayoutSoloContent LayoutMode = "solo_content"
	LayoutSplit       LayoutMode = "split"
	LayoutInset       LayoutMode = "inset"
	LayoutShoulder    LayoutMode = "shoulder"
)

var AllLayoutModes = []LayoutMode{
	LayoutSoloCamera,
	LayoutSoloContent,
	LayoutSplit,
	LayoutInset,
	LayoutShoulder,
}

func ParseLayoutMode(s string) (LayoutMode, error) {
	for _, m := range AllLayoutModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown layout mode %q", ErrInvalidArgument, s)
}

// Rect is an axis-aligned rectangle in raster coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"width"`
	H int `json:"height"`
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

func (r Rect) Contains(x, y float64) bool {
	return x >= float64(r.X) && x < float64(r.X+r.W) &&
		y >= float64(r.Y) && y < float64(r.Y+r.H)
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// PointerPhase is the phase of a pointer gesture after host event
// translation.
type PointerPhase string

const (
	PointerDown  PointerPhase = "down"
	PointerMove  PointerPhase = "move"
	PointerUp    PointerPhase = "up"
	PointerLeave PointerPhase = "leave"
)

// PointerEvent is a host-independent pointer sample in display space.
// DisplayW/DisplayH is the size the raster is currently shown at.
type PointerEvent struct {
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Phase    PointerPhase `json:"phase"`
	DisplayW float64      `json:"display_width"`
	DisplayH float64      `json:"display_height"`
}
