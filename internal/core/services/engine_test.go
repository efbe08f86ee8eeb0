package services

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/infrastructure/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var camRed = color.RGBA{R: 0xff, A: 0xff}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Width = 160
	cfg.Height = 90
	cfg.InsetMargin = 8
	return cfg
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *manualPacer, *mockLoader) {
	pacer := newManualPacer()
	loader := &mockLoader{}
	// the audio goroutine may still log after the test returns
	e := NewEngine(cfg, loader, pacer, nil, nil, zap.NewNop().Sugar())
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e, pacer, loader
}

func TestEngine_StateMachine(t *testing.T) {
	ctx := context.Background()
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	assert.Equal(t, domain.StateIdle, e.State())

	assert.ErrorIs(t, e.Suspend(ctx), domain.ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(ctx), domain.ErrInvalidTransition)
	assert.Equal(t, domain.StateIdle, e.State())

	require.NoError(t, e.Start(ctx))
	assert.Equal(t, domain.StateRendering, e.State())
	assert.Equal(t, 1, pacer.Pending())
	assert.ErrorIs(t, e.Start(ctx), domain.ErrInvalidTransition)
	assert.ErrorIs(t, e.Resume(ctx), domain.ErrInvalidTransition)

	require.NoError(t, e.Suspend(ctx))
	assert.Equal(t, domain.StateSuspended, e.State())
	assert.ErrorIs(t, e.Suspend(ctx), domain.ErrInvalidTransition)

	require.NoError(t, e.Resume(ctx))
	assert.Equal(t, domain.StateRendering, e.State())

	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, domain.StateTornDown, e.State())
	assert.Equal(t, 0, pacer.Pending())

	assert.ErrorIs(t, e.Start(ctx), domain.ErrEngineTornDown)
	assert.ErrorIs(t, e.Resume(ctx), domain.ErrEngineTornDown)
	assert.ErrorIs(t, e.AttachURL(domain.SourceClip, "a.gif", false), domain.ErrEngineTornDown)
	assert.ErrorIs(t, e.SetLayout(ctx, domain.LayoutSplit), domain.ErrEngineTornDown)
}

func TestEngine_ShutdownFromIdle(t *testing.T) {
	e, _, _ := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, domain.StateTornDown, e.State())
}

func TestEngine_FrameLoopReschedules(t *testing.T) {
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start(context.Background()))

	for i := 0; i < 3; i++ {
		require.Equal(t, 1, pacer.Step())
	}
	assert.Equal(t, 1, pacer.Pending())
	assert.Equal(t, uint64(3), e.Metrics().FramesRendered)
	assert.Equal(t, uint64(3), e.PreviewSurface().Seq())
}

func TestEngine_SuspendDrawsExactlyOneFrame(t *testing.T) {
	ctx := context.Background()
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.Start(ctx))
	pacer.Step()
	pacer.Step()
	before := e.PreviewSurface().Seq()

	require.NoError(t, e.Suspend(ctx))
	assert.Equal(t, before+1, e.PreviewSurface().Seq())
	assert.Equal(t, 0, pacer.Pending())

	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, pacer.Step())
	}
	assert.Equal(t, before+1, e.PreviewSurface().Seq())

	require.NoError(t, e.Resume(ctx))
	require.Equal(t, 1, pacer.Step())
	assert.Equal(t, before+2, e.PreviewSurface().Seq())
}

func TestEngine_SoloCameraIsAllCamera(t *testing.T) {
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	cam := media.NewStillCapture("cam-1", solidImage(64, 48, camRed), nil)
	require.NoError(t, e.AttachLive(domain.SourceCamera, cam))
	require.NoError(t, e.Start(context.Background()))
	pacer.Step()

	snap, ok := e.Snapshot()
	require.True(t, ok)
	rgba := snap.(*image.RGBA)
	b := rgba.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			require.Equal(t, camRed, rgba.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Equal(t, uint64(0), e.Metrics().PlaceholderDraws)
}

func TestEngine_InsetPositionSurvivesLayoutSwitch(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, testEngineConfig())

	require.NoError(t, e.SetLayout(ctx, domain.LayoutInset))
	start := e.InsetRect()
	assert.Equal(t, domain.Rect{X: 112, Y: 59, W: 40, H: 23}, start)

	grab := domain.PointerEvent{X: float64(start.X + 5), Y: float64(start.Y + 5), Phase: domain.PointerDown}
	require.True(t, e.HandlePointer(grab))
	require.True(t, e.HandlePointer(domain.PointerEvent{X: 30, Y: 20, Phase: domain.PointerMove}))
	require.True(t, e.HandlePointer(domain.PointerEvent{Phase: domain.PointerUp}))
	dragged := e.InsetRect()
	assert.Equal(t, domain.Rect{X: 25, Y: 15, W: 40, H: 23}, dragged)

	require.NoError(t, e.SetLayout(ctx, domain.LayoutShoulder))
	assert.False(t, e.HandlePointer(domain.PointerEvent{X: 30, Y: 20, Phase: domain.PointerDown}))

	require.NoError(t, e.SetLayout(ctx, domain.LayoutInset))
	assert.Equal(t, dragged, e.InsetRect())
}

func TestEngine_InvalidLayout(t *testing.T) {
	e, _, _ := newTestEngine(t, testEngineConfig())
	assert.Error(t, e.SetLayout(context.Background(), "grid"))
	assert.Equal(t, domain.LayoutSoloCamera, e.Layout())
}

func TestEngine_OutputStreamUpgradesWithAudio(t *testing.T) {
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	stream := e.OutputStream()
	require.Len(t, stream.Tracks(), 1)
	assert.False(t, e.Capabilities().AudioAvailable)

	require.NoError(t, e.Start(context.Background()))
	pacer.Step()

	assert.Same(t, stream, e.OutputStream())
	assert.Len(t, stream.Tracks(), 2)
	assert.True(t, e.Capabilities().AudioAvailable)
}

func TestEngine_AudioUnavailableDegradesToVideoOnly(t *testing.T) {
	cfg := testEngineConfig()
	cfg.AudioFormat.Channels = 7
	e, pacer, _ := newTestEngine(t, cfg)
	require.NoError(t, e.Start(context.Background()))
	pacer.Step()
	pacer.Step()

	assert.Equal(t, uint64(2), e.Metrics().FramesRendered)
	assert.False(t, e.Capabilities().AudioAvailable)
	assert.Len(t, e.OutputStream().Tracks(), 1)

	warnings := e.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.WarningAudioGraphUnavailable, warnings[0].Kind)

	music := &constSource{value: 1}
	assert.ErrorIs(t, e.ConnectAudio(domain.ChannelMusic, music), domain.ErrAudioGraphUnavailable)
	assert.True(t, music.Closed())

	// gain control still answers without a graph
	require.NoError(t, e.SetGain(domain.ChannelMusic, 0.5))
}

func TestEngine_GainsCarryIntoGraph(t *testing.T) {
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	require.NoError(t, e.SetGain(domain.ChannelMic, 0.4))
	require.NoError(t, e.SetMuted(domain.ChannelClip, true))
	music := &constSource{value: 1000}
	require.NoError(t, e.ConnectAudio(domain.ChannelMusic, music))

	require.NoError(t, e.Start(context.Background()))
	pacer.Step()

	g, ok := e.AudioGraph()
	require.True(t, ok)
	mic, _ := g.Channel(domain.ChannelMic)
	clip, _ := g.Channel(domain.ChannelClip)
	assert.Equal(t, 0.4, mic.Gain)
	assert.True(t, clip.Muted)
	assert.True(t, g.Connected(domain.ChannelMusic))

	require.NoError(t, e.SetMuted(domain.ChannelClip, false))
	clip, _ = g.Channel(domain.ChannelClip)
	assert.False(t, clip.Muted)
	assert.Equal(t, 0.8, clip.Gain)

	assert.Error(t, e.SetGain("drums", 1))
	assert.Error(t, e.ConnectAudio(domain.ChannelMic, &constSource{}))
}

func TestEngine_CameraMicrophoneWiring(t *testing.T) {
	e, pacer, _ := newTestEngine(t, testEngineConfig())
	first := &constSource{value: 1000}
	cam := media.NewStillCapture("cam-1", solidImage(8, 8, camRed), first)
	require.NoError(t, e.AttachLive(domain.SourceCamera, cam))

	require.NoError(t, e.Start(context.Background()))
	pacer.Step()
	g, ok := e.AudioGraph()
	require.True(t, ok)
	assert.True(t, g.Connected(domain.ChannelMic))

	require.NoError(t, e.SetGain(domain.ChannelMic, 0.5))
	second := &constSource{value: 2000}
	require.NoError(t, e.AttachLive(domain.SourceCamera, media.NewStillCapture("cam-2", solidImage(8, 8, camRed), second)))
	assert.False(t, first.Closed())

	e.Detach(domain.SourceCamera)
	assert.False(t, g.Connected(domain.ChannelMic))
}

func TestEngine_TaintedSourceIsACapabilityWarning(t *testing.T) {
	e, pacer, loader := newTestEngine(t, testEngineConfig())
	dec := media.NewStillDecoder(solidImage(100, 50, camRed), true)
	loader.On("Load", mock.Anything, domain.SourceOverlayImage, "https://cdn.example/logo.png", false).Return(dec, nil)

	require.NoError(t, e.AttachURL(domain.SourceOverlayImage, "https://cdn.example/logo.png", false))
	require.NoError(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return e.Capabilities().ExportRestricted }, time.Second, 5*time.Millisecond)

	caps := e.Capabilities()
	assert.Equal(t, []domain.SourceKind{domain.SourceOverlayImage}, caps.TaintedSources)
	pacer.Step()
	assert.Equal(t, domain.StateRendering, e.State())

	found := false
	for _, w := range e.Warnings() {
		if w.Kind == domain.WarningCrossOriginRestricted {
			found = true
		}
	}
	assert.True(t, found)
}

func TestEngine_StrictExportBlanksTaintedRegion(t *testing.T) {
	cfg := testEngineConfig()
	cfg.StrictExport = true
	cfg.Layout = domain.LayoutSoloContent
	e, pacer, loader := newTestEngine(t, cfg)
	dec := media.NewStillDecoder(solidImage(160, 90, camRed), true)
	loader.On("Load", mock.Anything, domain.SourceClip, "https://cdn.example/clip.gif", true).Return(dec, nil)

	require.NoError(t, e.AttachURL(domain.SourceClip, "https://cdn.example/clip.gif", true))
	assert.Eventually(t, func() bool { return len(e.Capabilities().TaintedSources) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))
	pacer.Step()

	preview, _, ok := e.PreviewSurface().CopyFront()
	require.True(t, ok)
	assert.Equal(t, camRed, preview.RGBAAt(80, 45))

	snap, ok := e.Snapshot()
	require.True(t, ok)
	assert.NotEqual(t, camRed, snap.(*image.RGBA).RGBAAt(80, 45))
}

func TestEngine_Watermark(t *testing.T) {
	e, _, _ := newTestEngine(t, testEngineConfig())
	e.SetWatermark("  live\x00 ")
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, "live", e.watermark)
}
