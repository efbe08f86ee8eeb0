package services

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	"castmix/pkg/utils"

	"go.uber.org/zap"
)

type WarningFunc func(domain.Warning)

type boundSource struct {
	kind   domain.SourceKind
	origin string
	loop   bool
	gen    uint64

	live    ports.CaptureHandle
	decoder ports.FrameDecoder
	failed  bool

	cancel context.CancelFunc
}

// SourceRegistry binds at most one source per kind. URL sources are loaded
// asynchronously and their decoders are owned here; live capture handles are
// borrowed and never stopped.
type SourceRegistry struct {
	loader ports.MediaLoader
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	sources   map[domain.SourceKind]*boundSource
	gen       uint64
	closed    bool
	onWarning WarningFunc
}

func NewSourceRegistry(loader ports.MediaLoader, logger *zap.SugaredLogger) *SourceRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &SourceRegistry{
		loader:  loader,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		sources: make(map[domain.SourceKind]*boundSource),
	}
}

// OnWarning sets the callback for non-fatal source problems.
func (r *SourceRegistry) OnWarning(fn WarningFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onWarning = fn
}

func (r *SourceRegistry) warn(w domain.Warning) {
	r.mu.RLock()
	fn := r.onWarning
	r.mu.RUnlock()
	r.logger.Warnw("source warning",
		"kind", w.Kind,
		"source", w.Source,
		"message", w.Message,
	)
	if fn != nil {
		fn(w)
	}
}

// AttachLive binds a borrowed capture handle. Binding the handle that is
// already bound is a no-op.
func (r *SourceRegistry) AttachLive(kind domain.SourceKind, handle ports.CaptureHandle) error {
	if !kind.IsLive() {
		return fmt.Errorf("%w: %s is not a live source", domain.ErrInvalidOrigin, kind)
	}
	if handle == nil {
		return fmt.Errorf("%w: nil capture handle for %s", domain.ErrSourceUnavailable, kind)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrEngineTornDown
	}
	if cur, ok := r.sources[kind]; ok && cur.live != nil && cur.live.ID() == handle.ID() {
		r.mu.Unlock()
		return nil
	}
	old := r.sources[kind]
	r.gen++
	ctx, cancel := context.WithCancel(r.ctx)
	src := &boundSource{kind: kind, origin: handle.ID(), gen: r.gen, live: handle, cancel: cancel}
	r.sources[kind] = src
	r.wg.Add(1)
	r.mu.Unlock()

	r.release(old)
	go r.watchLive(ctx, src)

	r.logger.Infow("live source attached", "kind", kind, "handle", handle.ID())
	return nil
}

func (r *SourceRegistry) watchLive(ctx context.Context, src *boundSource) {
	defer r.wg.Done()
	select {
	case <-src.live.Done():
		r.warn(domain.Warning{
			Kind:    domain.WarningSourceUnavailable,
			Source:  src.kind,
			Message: fmt.Sprintf("capture %s ended", src.live.ID()),
		})
	case <-ctx.Done():
	}
}

// AttachURL binds a clip or image and starts loading it. The source stays
// not-ready until the decoder is up; a failed load never becomes ready.
func (r *SourceRegistry) AttachURL(kind domain.SourceKind, origin string, loop bool) error {
	if kind.IsLive() {
		return fmt.Errorf("%w: %s needs a capture handle", domain.ErrInvalidOrigin, kind)
	}
	if origin == "" {
		return domain.ErrInvalidOrigin
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrEngineTornDown
	}
	old := r.sources[kind]
	r.gen++
	ctx, cancel := context.WithCancel(r.ctx)
	src := &boundSource{kind: kind, origin: origin, loop: loop, gen: r.gen, cancel: cancel}
	r.sources[kind] = src
	r.wg.Add(1)
	r.mu.Unlock()

	r.release(old)
	go r.load(ctx, src)
	return nil
}

func (r *SourceRegistry) load(ctx context.Context, src *boundSource) {
	defer r.wg.Done()

	start := time.Now()
	dec, err := r.loader.Load(ctx, src.kind, src.origin, src.loop)

	r.mu.Lock()
	cur, ok := r.sources[src.kind]
	if !ok || cur.gen != src.gen || r.closed {
		r.mu.Unlock()
		if dec != nil {
			_ = dec.Close()
		}
		return
	}
	if err != nil {
		cur.failed = true
		r.mu.Unlock()
		r.warn(domain.Warning{
			Kind:    domain.WarningSourceUnavailable,
			Source:  src.kind,
			Message: err.Error(),
		})
		return
	}
	// Once published, a concurrent Detach may close dec.
	w, h := dec.Size()
	tainted := dec.Tainted()
	cur.decoder = dec
	r.mu.Unlock()

	r.logger.Infow("source loaded",
		"kind", src.kind,
		"origin", utils.ShortOrigin(src.origin),
		"width", w,
		"height", h,
		"duration", time.Since(start),
	)
	if tainted {
		r.warn(domain.Warning{
			Kind:    domain.WarningCrossOriginRestricted,
			Source:  src.kind,
			Message: fmt.Sprintf("%s served without sharing headers", utils.ShortOrigin(src.origin)),
		})
	}
}

// Detach unbinds kind. Detaching an unbound kind is a no-op.
func (r *SourceRegistry) Detach(kind domain.SourceKind) {
	r.mu.Lock()
	src, ok := r.sources[kind]
	if ok {
		delete(r.sources, kind)
	}
	r.mu.Unlock()

	if ok {
		r.release(src)
		r.logger.Infow("source detached", "kind", kind)
	}
}

// release stops a replaced source. Decoders are closed, live handles are
// only forgotten.
func (r *SourceRegistry) release(src *boundSource) {
	if src == nil {
		return
	}
	src.cancel()
	if src.decoder != nil {
		if err := src.decoder.Close(); err != nil {
			r.logger.Warnw("failed to close decoder", "kind", src.kind, "error", err)
		}
	}
}

func (r *SourceRegistry) IsReady(kind domain.SourceKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	return ok && src.ready()
}

func (src *boundSource) ready() bool {
	if src.live != nil {
		select {
		case <-src.live.Done():
			return false
		default:
		}
		_, ok := src.live.LatestFrame()
		return ok
	}
	return src.decoder != nil
}

// Frame returns the frame to draw for kind at now.
func (r *SourceRegistry) Frame(kind domain.SourceKind, now time.Time) (image.Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	if !ok || !src.ready() {
		return nil, false
	}
	if src.live != nil {
		return src.live.LatestFrame()
	}
	return src.decoder.Frame(now)
}

// LiveHandle returns the capture handle bound to kind.
func (r *SourceRegistry) LiveHandle(kind domain.SourceKind) (ports.CaptureHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	if !ok || src.live == nil {
		return nil, false
	}
	return src.live, true
}

func (r *SourceRegistry) Info(kind domain.SourceKind) (domain.SourceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	if !ok {
		return domain.SourceInfo{}, false
	}
	return src.info(), true
}

func (src *boundSource) info() domain.SourceInfo {
	info := domain.SourceInfo{
		Kind:   src.kind,
		Origin: src.origin,
		Live:   src.live != nil,
		Ready:  src.ready(),
		Loop:   src.loop,
	}
	switch {
	case src.decoder != nil:
		info.Width, info.Height = src.decoder.Size()
		info.Tainted = src.decoder.Tainted()
	case src.live != nil:
		if img, ok := src.live.LatestFrame(); ok {
			b := img.Bounds()
			info.Width, info.Height = b.Dx(), b.Dy()
		}
	}
	return info
}

// List returns every bound source in stable kind order.
func (r *SourceRegistry) List() []domain.SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SourceInfo, 0, len(r.sources))
	for _, kind := range domain.AllSourceKinds {
		if src, ok := r.sources[kind]; ok {
			out = append(out, src.info())
		}
	}
	return out
}

// Tainted lists sources decoded from a cross-origin asset without
// permissive sharing headers.
func (r *SourceRegistry) Tainted() []domain.SourceKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SourceKind
	for _, kind := range domain.AllSourceKinds {
		if src, ok := r.sources[kind]; ok && src.decoder != nil && src.decoder.Tainted() {
			out = append(out, kind)
		}
	}
	return out
}

// Close releases every decoder and waits for pending loads.
func (r *SourceRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sources := r.sources
	r.sources = make(map[domain.SourceKind]*boundSource)
	r.mu.Unlock()

	r.cancel()
	for _, src := range sources {
		r.release(src)
	}
	r.wg.Wait()
}
