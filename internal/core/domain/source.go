package domain

import "fmt"

type SourceKind string

const (
	SourceCamera          SourceKind = "camera"
	SourceScreenShare     SourceKind = "screen"
	SourceClip            SourceKind = "clip"
	SourceOverlayImage    SourceKind = "overlay"
	SourceBackgroundImage SourceKind = "background"
)

// AllSourceKinds lists every kind in draw-independent, stable order.
var AllSourceKinds = []SourceKind{
	SourceCamera,
	SourceScreenShare,
	SourceClip,
	SourceOverlayImage,
	SourceBackgroundImage,
}

// IsLive reports whether the kind is fed by a borrowed capture handle
// rather than a URL.
func (k SourceKind) IsLive() bool {
	return k == SourceCamera || k == SourceScreenShare
}

func ParseSourceKind(s string) (SourceKind, error) {
	for _, k := range AllSourceKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source kind %q", ErrInvalidArgument, s)
}

// SourceInfo is a read-only view of a bound source.
type SourceInfo struct {
	Kind    SourceKind `json:"kind"`
	Origin  string     `json:"origin"`
	Live    bool       `json:"live"`
	Ready   bool       `json:"ready"`
	Width   int        `json:"width,omitempty"`
	Height  int        `json:"height,omitempty"`
	Loop    bool       `json:"loop,omitempty"`
	Tainted bool       `json:"tainted,omitempty"`
}
