package ports

import (
	"context"
	"image"

	"castmix/internal/core/domain"
)

// StudioEngine is the control surface used by the HTTP and pointer
// handlers.
type StudioEngine interface {
	Start(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Shutdown(ctx context.Context) error
	State() domain.EngineState

	AttachLive(kind domain.SourceKind, handle CaptureHandle) error
	AttachURL(kind domain.SourceKind, origin string, loop bool) error
	Detach(kind domain.SourceKind)
	Sources() []domain.SourceInfo

	SetLayout(ctx context.Context, mode domain.LayoutMode) error
	Layout() domain.LayoutMode
	InsetRect() domain.Rect
	MoveInset(x, y int) domain.Rect
	HandlePointer(ev domain.PointerEvent) bool
	SetWatermark(text string)

	SetGain(channel domain.ChannelID, gain float64) error
	SetMuted(channel domain.ChannelID, muted bool) error
	Channels() []domain.AudioChannel

	Capabilities() domain.Capabilities
	Warnings() []domain.Warning
	Metrics() domain.EngineMetrics
	Snapshot() (image.Image, bool)
}
