package ports

import "time"

type FrameHandle uint64

// FramePacer schedules one callback per frame, in the style of a host
// "run after next paint" primitive.
type FramePacer interface {
	RequestFrame(cb func(now time.Time)) FrameHandle
	// CancelFrame cancels a pending callback. Cancelling an unknown or
	// already fired handle is a no-op.
	CancelFrame(h FrameHandle)
}
