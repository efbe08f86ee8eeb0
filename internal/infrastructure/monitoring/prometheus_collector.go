package monitoring

import (
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	framesRenderedTotal   prometheus.Counter
	placeholderDrawsTotal prometheus.Counter
	videoFramesTotal      *prometheus.CounterVec
	audioQuantaTotal      prometheus.Counter

	// Histograms
	renderDuration prometheus.Histogram

	// State
	channelGain *prometheus.GaugeVec
	engineState *prometheus.GaugeVec
	layoutMode  *prometheus.GaugeVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		framesRenderedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "castmix_frames_rendered_total",
			Help: "Total number of composed frames",
		}),

		placeholderDrawsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "castmix_placeholder_draws_total",
			Help: "Total number of regions filled with a placeholder because their source was not ready",
		}),

		videoFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "castmix_video_frames_emitted_total",
			Help: "Frames emitted on the output video track",
		}, []string{"kind"}),

		audioQuantaTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "castmix_audio_quanta_total",
			Help: "Audio quanta processed by the audio graph",
		}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "castmix_render_duration_seconds",
			Help:    "Time spent composing one frame",
			Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1},
		}),

		channelGain: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "castmix_audio_channel_gain",
			Help: "Effective gain of each audio channel (0 when muted)",
		}, []string{"channel"}),

		engineState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "castmix_engine_state",
			Help: "1 for the current engine state, 0 otherwise",
		}, []string{"state"}),

		layoutMode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "castmix_layout_mode",
			Help: "1 for the active layout, 0 otherwise",
		}, []string{"layout"}),
	}
}

func (p *PrometheusCollector) RecordFrame(duration time.Duration, placeholders int) {
	p.framesRenderedTotal.Inc()
	p.placeholderDrawsTotal.Add(float64(placeholders))
	p.renderDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordVideoFrame(repeated bool) {
	kind := "fresh"
	if repeated {
		kind = "repeated"
	}
	p.videoFramesTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordAudioQuantum() {
	p.audioQuantaTotal.Inc()
}

func (p *PrometheusCollector) SetChannelGain(channel domain.ChannelID, gain float64) {
	p.channelGain.WithLabelValues(string(channel)).Set(gain)
}

func (p *PrometheusCollector) SetEngineState(state domain.EngineState) {
	for _, s := range []domain.EngineState{
		domain.StateIdle,
		domain.StateRendering,
		domain.StateSuspended,
		domain.StateTornDown,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		p.engineState.WithLabelValues(string(s)).Set(v)
	}
}

func (p *PrometheusCollector) SetLayout(mode domain.LayoutMode) {
	for _, m := range domain.AllLayoutModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		p.layoutMode.WithLabelValues(string(m)).Set(v)
	}
}
