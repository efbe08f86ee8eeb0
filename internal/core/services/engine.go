package services

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	"castmix/internal/infrastructure/compositor"
	"castmix/pkg/tracing"
	"castmix/pkg/utils"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	maxWarnings     = 100
	maxWatermarkLen = 64
)

type EngineConfig struct {
	Width        int
	Height       int
	FrameRate    int
	InsetMargin  int
	Layout       domain.LayoutMode
	Watermark    string
	StrictExport bool
	Compositor   compositor.Options

	AudioEnabled bool
	AudioFormat  AudioFormat
	Gains        map[domain.ChannelID]float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Width:        1280,
		Height:       720,
		FrameRate:    30,
		InsetMargin:  24,
		Layout:       domain.LayoutSoloCamera,
		Compositor:   compositor.DefaultOptions(),
		AudioEnabled: true,
		AudioFormat:  DefaultAudioFormat(),
	}
}

// Engine owns the registry, compositor, inset controller, audio graph and
// output assembler. All render state is guarded by mu, and the frame
// callback runs under it, so attach, layout and pointer changes always land
// between frames.
type Engine struct {
	cfg     EngineConfig
	pacer   ports.FramePacer
	monitor ports.AudioSink
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	sessionID string
	registry  *SourceRegistry
	inset     *InsetController
	renderer  *compositor.Renderer
	output    *OutputAssembler

	mu           sync.Mutex
	state        domain.EngineState
	layout       domain.LayoutMode
	watermark    string
	pending      ports.FrameHandle
	scheduled    bool
	frameGen     uint64
	channels     map[domain.ChannelID]domain.AudioChannel
	audio        *AudioGraph
	audioCancel  context.CancelFunc
	audioFailed  bool
	pendingAudio map[domain.ChannelID]ports.AudioSource
	micHandle    string

	framesRendered   uint64
	placeholderDraws uint64
	lastRender       time.Duration

	warnMu   sync.Mutex
	warnings []domain.Warning
}

var _ ports.StudioEngine = (*Engine)(nil)

// NewEngine wires an engine in the Idle state. monitor and metrics may be
// nil.
func NewEngine(
	cfg EngineConfig,
	loader ports.MediaLoader,
	pacer ports.FramePacer,
	monitor ports.AudioSink,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *Engine {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.Layout == "" {
		cfg.Layout = domain.LayoutSoloCamera
	}
	renderer := compositor.NewRenderer(cfg.Width, cfg.Height, cfg.Compositor, cfg.StrictExport)

	e := &Engine{
		cfg:          cfg,
		pacer:        pacer,
		monitor:      monitor,
		metrics:      metrics,
		logger:       logger,
		sessionID:    utils.GenerateSessionID(),
		registry:     NewSourceRegistry(loader, logger),
		inset:        NewInsetController(cfg.Width, cfg.Height, cfg.InsetMargin),
		renderer:     renderer,
		output:       NewOutputAssembler(renderer.Export(), cfg.FrameRate, metrics, logger),
		state:        domain.StateIdle,
		layout:       cfg.Layout,
		watermark:    cleanWatermark(cfg.Watermark),
		channels:     make(map[domain.ChannelID]domain.AudioChannel, len(domain.AllChannels)),
		pendingAudio: make(map[domain.ChannelID]ports.AudioSource),
	}
	for _, id := range domain.AllChannels {
		gain := domain.DefaultGain(id)
		if g, ok := cfg.Gains[id]; ok {
			gain = domain.ClampGain(g)
		}
		e.channels[id] = domain.AudioChannel{ID: id, Gain: gain}
	}
	if e.layout == domain.LayoutInset {
		e.inset.Activate()
	}

	e.registry.OnWarning(e.addWarning)
	e.output.OnSurfaceReady(e.startAudio)

	metrics.SetEngineState(e.state)
	metrics.SetLayout(e.layout)
	return e
}

func (e *Engine) SessionID() string { return e.sessionID }

func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// transitionLocked moves to next or returns the matching error.
func (e *Engine) transitionLocked(next domain.EngineState) error {
	if e.state == domain.StateTornDown {
		return domain.ErrEngineTornDown
	}
	if !e.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.state, next)
	}
	e.logger.Infow("engine state changed",
		"session_id", e.sessionID,
		"from", e.state,
		"to", next,
	)
	e.state = next
	e.metrics.SetEngineState(next)
	return nil
}

// Start begins the frame loop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, span := tracing.TraceEngineOperation(ctx, "start", string(e.State()))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(domain.StateRendering); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	e.scheduleLocked()
	return nil
}

// Suspend enters low-data mode: the pending frame is cancelled, one static
// placeholder frame is drawn and the loop stops until Resume.
func (e *Engine) Suspend(ctx context.Context) error {
	ctx, span := tracing.TraceEngineOperation(ctx, "suspend", string(e.State()))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(domain.StateSuspended); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	e.cancelPendingLocked()
	stats := e.renderer.RenderSuspended(e.sceneLocked())
	e.recordFrameLocked(stats)
	return nil
}

func (e *Engine) Resume(ctx context.Context) error {
	ctx, span := tracing.TraceEngineOperation(ctx, "resume", string(e.State()))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.StateSuspended && e.state != domain.StateTornDown {
		err := fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, e.state, domain.StateRendering)
		tracing.RecordError(ctx, err)
		return err
	}
	if err := e.transitionLocked(domain.StateRendering); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	e.scheduleLocked()
	return nil
}

// Shutdown cancels the frame loop, closes every owned decoder and
// disconnects the audio graph. Live capture handles are left running.
// Calling it again is a no-op.
func (e *Engine) Shutdown(ctx context.Context) error {
	ctx, span := tracing.TraceEngineOperation(ctx, "shutdown", string(e.State()))
	defer span.End()

	e.mu.Lock()
	if e.state == domain.StateTornDown {
		e.mu.Unlock()
		return nil
	}
	if err := e.transitionLocked(domain.StateTornDown); err != nil {
		e.mu.Unlock()
		tracing.RecordError(ctx, err)
		return err
	}
	e.cancelPendingLocked()
	audio, cancel := e.audio, e.audioCancel
	e.audio, e.audioCancel = nil, nil
	pending := e.pendingAudio
	e.pendingAudio = make(map[domain.ChannelID]ports.AudioSource)
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if audio != nil {
		audio.Close()
	}
	for _, src := range pending {
		_ = src.Close()
	}
	e.registry.Close()
	e.output.Close()

	span.SetStatus(codes.Ok, "torn down")
	e.logger.Infow("engine shut down", "session_id", e.sessionID, "frames_rendered", e.Metrics().FramesRendered)
	return nil
}

func (e *Engine) scheduleLocked() {
	if e.scheduled {
		return
	}
	e.frameGen++
	gen := e.frameGen
	e.pending = e.pacer.RequestFrame(func(now time.Time) { e.onFrame(gen, now) })
	e.scheduled = true
}

func (e *Engine) cancelPendingLocked() {
	if !e.scheduled {
		return
	}
	e.pacer.CancelFrame(e.pending)
	e.scheduled = false
}

// onFrame is one tick of the render loop. It reschedules itself only while
// rendering. A callback that lost a race with CancelFrame is dropped by gen.
func (e *Engine) onFrame(gen uint64, now time.Time) {
	e.mu.Lock()
	if !e.scheduled || gen != e.frameGen {
		e.mu.Unlock()
		return
	}
	e.scheduled = false
	if e.state != domain.StateRendering {
		e.mu.Unlock()
		return
	}
	stats := e.renderer.Render(e.sceneLocked(), func(kind domain.SourceKind) (image.Image, bool) {
		return e.registry.Frame(kind, now)
	})
	e.recordFrameLocked(stats)
	e.scheduleLocked()
	e.mu.Unlock()

	e.output.MarkSurfaceReady()
}

func (e *Engine) sceneLocked() compositor.Scene {
	sources := make(map[domain.SourceKind]compositor.SourceState)
	for _, info := range e.registry.List() {
		sources[info.Kind] = compositor.SourceState{
			Bound:   true,
			Ready:   info.Ready,
			Tainted: info.Tainted,
			Width:   info.Width,
			Height:  info.Height,
		}
	}
	return compositor.Scene{
		Width:     e.cfg.Width,
		Height:    e.cfg.Height,
		Layout:    e.layout,
		Inset:     e.inset.Rect(),
		Sources:   sources,
		Watermark: e.watermark,
	}
}

func (e *Engine) recordFrameLocked(stats compositor.FrameStats) {
	e.framesRendered++
	e.placeholderDraws += uint64(stats.Placeholders)
	e.lastRender = stats.Duration
	e.metrics.RecordFrame(stats.Duration, stats.Placeholders)
}

func (e *Engine) AttachLive(kind domain.SourceKind, handle ports.CaptureHandle) error {
	if e.State() == domain.StateTornDown {
		return domain.ErrEngineTornDown
	}
	if err := e.registry.AttachLive(kind, handle); err != nil {
		return err
	}
	if kind == domain.SourceCamera {
		e.wireMic(handle)
	}
	return nil
}

// wireMic connects the camera's microphone, keeping the current mic gain.
// Re-attaching the same handle leaves the graph untouched.
func (e *Engine) wireMic(handle ports.CaptureHandle) {
	e.mu.Lock()
	g := e.audio
	if g == nil || e.micHandle == handle.ID() {
		e.mu.Unlock()
		return
	}
	e.micHandle = handle.ID()
	e.mu.Unlock()

	if ac, ok := handle.(ports.AudioCapture); ok && ac.Audio() != nil {
		if err := g.Connect(domain.ChannelMic, ac.Audio(), false); err != nil {
			e.logger.Warnw("failed to connect microphone", "handle", handle.ID(), "error", err)
		}
		return
	}
	g.Disconnect(domain.ChannelMic)
}

func (e *Engine) AttachURL(kind domain.SourceKind, origin string, loop bool) error {
	if e.State() == domain.StateTornDown {
		return domain.ErrEngineTornDown
	}
	return e.registry.AttachURL(kind, origin, loop)
}

func (e *Engine) Detach(kind domain.SourceKind) {
	e.registry.Detach(kind)
	if kind != domain.SourceCamera {
		return
	}
	e.mu.Lock()
	g := e.audio
	e.micHandle = ""
	e.mu.Unlock()
	if g != nil {
		g.Disconnect(domain.ChannelMic)
	}
}

func (e *Engine) Sources() []domain.SourceInfo {
	return e.registry.List()
}

// SetLayout switches the layout from the next frame on.
func (e *Engine) SetLayout(ctx context.Context, mode domain.LayoutMode) error {
	ctx, span := tracing.TraceEngineOperation(ctx, "set_layout", string(e.State()))
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.LayoutKey.String(string(mode)))

	if _, err := domain.ParseLayoutMode(string(mode)); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == domain.StateTornDown {
		return domain.ErrEngineTornDown
	}
	if mode == domain.LayoutInset {
		e.inset.Activate()
	} else {
		e.inset.Deactivate()
	}
	if mode != e.layout {
		e.logger.Infow("layout changed", "from", e.layout, "to", mode)
	}
	e.layout = mode
	e.metrics.SetLayout(mode)
	return nil
}

func (e *Engine) Layout() domain.LayoutMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.layout
}

func (e *Engine) InsetRect() domain.Rect {
	return e.inset.Rect()
}

// MoveInset places the inset directly, clamped to the raster.
func (e *Engine) MoveInset(x, y int) domain.Rect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inset.MoveTo(x, y)
}

// HandlePointer feeds one pointer event to the inset drag. It is ignored
// outside the Inset layout.
func (e *Engine) HandlePointer(ev domain.PointerEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.layout != domain.LayoutInset || e.state == domain.StateTornDown {
		return false
	}
	return e.inset.HandlePointer(ev)
}

func (e *Engine) SetWatermark(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watermark = cleanWatermark(text)
}

func cleanWatermark(text string) string {
	return utils.TruncateString(utils.SanitizeString(text), maxWatermarkLen)
}

// SetGain applies immediately when the audio graph is up; otherwise the
// value is kept and applied when it comes up.
func (e *Engine) SetGain(id domain.ChannelID, gain float64) error {
	if _, err := domain.ParseChannelID(string(id)); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state == domain.StateTornDown {
		e.mu.Unlock()
		return domain.ErrEngineTornDown
	}
	ch := e.channels[id]
	ch.Gain = domain.ClampGain(gain)
	e.channels[id] = ch
	g := e.audio
	e.mu.Unlock()

	if g != nil {
		return g.SetGain(id, ch.Gain)
	}
	return nil
}

func (e *Engine) SetMuted(id domain.ChannelID, muted bool) error {
	if _, err := domain.ParseChannelID(string(id)); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state == domain.StateTornDown {
		e.mu.Unlock()
		return domain.ErrEngineTornDown
	}
	ch := e.channels[id]
	ch.Muted = muted
	e.channels[id] = ch
	g := e.audio
	e.mu.Unlock()

	if g != nil {
		return g.SetMuted(id, muted)
	}
	return nil
}

func (e *Engine) Channels() []domain.AudioChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AudioChannel, 0, len(domain.AllChannels))
	for _, id := range domain.AllChannels {
		out = append(out, e.channels[id])
	}
	return out
}

// ConnectAudio feeds music or clip audio into the graph. The engine takes
// ownership of src. Before the graph is up the source is held and
// connected once it is.
func (e *Engine) ConnectAudio(id domain.ChannelID, src ports.AudioSource) error {
	if id == domain.ChannelMic {
		return fmt.Errorf("%w: mic audio comes from the camera capture handle", domain.ErrInvalidArgument)
	}
	if _, err := domain.ParseChannelID(string(id)); err != nil {
		return err
	}

	e.mu.Lock()
	switch {
	case e.state == domain.StateTornDown:
		e.mu.Unlock()
		_ = src.Close()
		return domain.ErrEngineTornDown
	case e.audioFailed || !e.cfg.AudioEnabled:
		e.mu.Unlock()
		_ = src.Close()
		return domain.ErrAudioGraphUnavailable
	case e.audio == nil:
		old := e.pendingAudio[id]
		e.pendingAudio[id] = src
		e.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		return nil
	}
	g := e.audio
	e.mu.Unlock()
	return g.Connect(id, src, true)
}

// startAudio runs once the output surface has its first frame.
func (e *Engine) startAudio() {
	if !e.cfg.AudioEnabled {
		return
	}
	g, err := NewAudioGraph(e.cfg.AudioFormat, e.monitor, e.metrics, e.logger)
	if err != nil {
		e.mu.Lock()
		e.audioFailed = true
		pending := e.pendingAudio
		e.pendingAudio = make(map[domain.ChannelID]ports.AudioSource)
		e.mu.Unlock()
		for _, src := range pending {
			_ = src.Close()
		}
		e.logger.Errorw("audio graph unavailable, continuing video-only", "error", err)
		e.addWarning(domain.Warning{
			Kind:    domain.WarningAudioGraphUnavailable,
			Message: err.Error(),
		})
		return
	}

	e.mu.Lock()
	if e.state == domain.StateTornDown {
		e.mu.Unlock()
		g.Close()
		return
	}
	for _, id := range domain.AllChannels {
		ch := e.channels[id]
		_ = g.SetGain(id, ch.Gain)
		_ = g.SetMuted(id, ch.Muted)
	}
	pending := e.pendingAudio
	e.pendingAudio = make(map[domain.ChannelID]ports.AudioSource)
	ctx, cancel := context.WithCancel(context.Background())
	e.audio, e.audioCancel = g, cancel
	e.mu.Unlock()

	for id, src := range pending {
		if err := g.Connect(id, src, true); err != nil {
			e.logger.Warnw("failed to connect audio source", "channel", id, "error", err)
		}
	}
	if handle, ok := e.registry.LiveHandle(domain.SourceCamera); ok {
		e.wireMic(handle)
	}
	e.output.AttachAudio(g.Track())
	go g.Run(ctx)
}

// AudioGraph returns the running graph, if any.
func (e *Engine) AudioGraph() (*AudioGraph, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio, e.audio != nil
}

// OutputStream returns the session's output stream.
func (e *Engine) OutputStream() *OutputStream {
	return e.output.GetOutputStream()
}

func (e *Engine) Capabilities() domain.Capabilities {
	tainted := e.registry.Tainted()
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Capabilities{
		AudioAvailable:   e.audio != nil,
		ExportRestricted: len(tainted) > 0,
		TaintedSources:   tainted,
	}
}

func (e *Engine) addWarning(w domain.Warning) {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	e.warnings = append(e.warnings, w)
	if len(e.warnings) > maxWarnings {
		e.warnings = e.warnings[len(e.warnings)-maxWarnings:]
	}
}

// Warnings returns the non-fatal problems seen so far, oldest first.
func (e *Engine) Warnings() []domain.Warning {
	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	out := make([]domain.Warning, len(e.warnings))
	copy(out, e.warnings)
	return out
}

func (e *Engine) Metrics() domain.EngineMetrics {
	e.mu.Lock()
	m := domain.EngineMetrics{
		State:            e.state,
		Layout:           e.layout,
		FramesRendered:   e.framesRendered,
		PlaceholderDraws: e.placeholderDraws,
		LastRenderTime:   e.lastRender,
		Timestamp:        time.Now(),
	}
	audio := e.audio
	e.mu.Unlock()

	if audio != nil {
		m.AudioQuanta = audio.Quanta()
	}
	if stream, ok := e.output.Stream(); ok {
		if f, ok := stream.VideoTrack().Latest(); ok {
			m.VideoFramesOut = f.Seq
		}
	}
	return m
}

// Snapshot returns the last exported frame.
func (e *Engine) Snapshot() (image.Image, bool) {
	img, _, ok := e.renderer.Export().CopyFront()
	if !ok {
		return nil, false
	}
	return img, true
}

// PreviewSurface is the local preview raster. It differs from the export
// surface only in strict export mode.
func (e *Engine) PreviewSurface() *compositor.Surface {
	return e.renderer.Preview()
}
