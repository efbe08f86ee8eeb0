package services

import (
	"context"
	"sync"

	"castmix/internal/core/ports"
	"castmix/pkg/utils"

	"go.uber.org/zap"
)

// OutputStream is the session's single output. It always carries one video
// track and gains an audio track once the audio graph is up.
type OutputStream struct {
	id    string
	video *VideoTrack

	mu    sync.RWMutex
	audio *AudioTrack
}

func (s *OutputStream) ID() string              { return s.id }
func (s *OutputStream) VideoTrack() *VideoTrack { return s.video }

func (s *OutputStream) AudioTrack() (*AudioTrack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio, s.audio != nil
}

// Tracks returns the current track set. Consumers should call it again
// rather than cache it, since the audio track can appear later.
func (s *OutputStream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks := []Track{s.video}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *OutputStream) setAudio(t *AudioTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == t {
		return false
	}
	s.audio = t
	return true
}

// OutputAssembler lazily builds the output stream from the export surface
// and notifies listeners when the surface has its first committed frame.
type OutputAssembler struct {
	surface   FrameSource
	frameRate int
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stream  *OutputStream
	audio   *AudioTrack
	ready   bool
	onReady []func()
	closed  bool
}

func NewOutputAssembler(surface FrameSource, frameRate int, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *OutputAssembler {
	ctx, cancel := context.WithCancel(context.Background())
	return &OutputAssembler{
		surface:   surface,
		frameRate: frameRate,
		metrics:   metrics,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// GetOutputStream returns the session's stream, creating it on first use.
// Every call returns the same instance.
func (a *OutputAssembler) GetOutputStream() *OutputStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		return a.stream
	}
	video := NewVideoTrack(utils.GenerateTrackID("video"), a.frameRate, a.surface, a.metrics)
	a.stream = &OutputStream{id: utils.GenerateStreamID(), video: video, audio: a.audio}
	if a.closed {
		video.Close()
	} else {
		go video.Run(a.ctx)
	}
	a.logger.Infow("output stream created",
		"stream_id", a.stream.id,
		"frame_rate", a.frameRate,
		"audio", a.audio != nil,
	)
	return a.stream
}

// Stream returns the stream if it has been created.
func (a *OutputAssembler) Stream() (*OutputStream, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream, a.stream != nil
}

// AttachAudio adds the audio track to the stream, now or when it is
// created.
func (a *OutputAssembler) AttachAudio(t *AudioTrack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = t
	if a.stream != nil && a.stream.setAudio(t) {
		a.logger.Infow("audio track attached", "stream_id", a.stream.id, "track_id", t.ID())
	}
}

// OnSurfaceReady registers fn to run once the surface has a committed
// frame. If it already has, fn runs immediately.
func (a *OutputAssembler) OnSurfaceReady(fn func()) {
	a.mu.Lock()
	if !a.ready {
		a.onReady = append(a.onReady, fn)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	fn()
}

// MarkSurfaceReady fires the readiness callbacks once. Callbacks run on the
// caller's goroutine without the assembler lock held.
func (a *OutputAssembler) MarkSurfaceReady() {
	a.mu.Lock()
	if a.ready {
		a.mu.Unlock()
		return
	}
	a.ready = true
	fns := a.onReady
	a.onReady = nil
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (a *OutputAssembler) SurfaceReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Close stops the video clock and closes the tracks.
func (a *OutputAssembler) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	stream := a.stream
	a.mu.Unlock()

	a.cancel()
	if stream != nil {
		stream.video.Close()
		if t, ok := stream.AudioTrack(); ok {
			t.Close()
		}
	}
}
