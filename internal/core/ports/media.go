package ports

import (
	"context"
	"image"
	"time"

	"castmix/internal/core/domain"
)

// CaptureHandle is a live camera or screen-share feed owned by the device
// capture collaborator. The engine only borrows it: it never stops it.
type CaptureHandle interface {
	ID() string
	// LatestFrame returns the most recent captured frame, ok=false until the
	// first frame arrives.
	LatestFrame() (image.Image, bool)
	// Done is closed when the underlying track ends or permission is revoked.
	Done() <-chan struct{}
}

// AudioCapture is implemented by capture handles that also carry a
// microphone track.
type AudioCapture interface {
	CaptureHandle
	Audio() AudioSource
}

// FrameDecoder is a decoder instance owned by the source registry.
type FrameDecoder interface {
	// Frame returns the frame to show at now, ok=false if nothing decoded yet.
	Frame(now time.Time) (image.Image, bool)
	// Size is the natural size of the media once known.
	Size() (width, height int)
	// Tainted reports a cross-origin asset served without permissive
	// sharing headers.
	Tainted() bool
	Close() error
}

// MediaLoader turns a clip or image URL into a decoder. Decode failures are
// returned as errors and surface as a source that never becomes ready.
type MediaLoader interface {
	Load(ctx context.Context, kind domain.SourceKind, origin string, loop bool) (FrameDecoder, error)
}
