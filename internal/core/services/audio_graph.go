package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"castmix/internal/core/domain"
	"castmix/internal/core/ports"
	"castmix/pkg/utils"

	"go.uber.org/zap"
)

// AudioFormat describes interleaved int16 PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
	Quantum    time.Duration
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 48000, Channels: 2, Quantum: 20 * time.Millisecond}
}

func (f AudioFormat) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("unsupported sample rate %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if f.Quantum <= 0 {
		return fmt.Errorf("invalid quantum %s", f.Quantum)
	}
	if f.FramesPerQuantum() == 0 {
		return fmt.Errorf("quantum %s is shorter than one frame", f.Quantum)
	}
	return nil
}

// FramesPerQuantum is the number of sample frames per channel in one
// quantum: 960 for 20ms at 48kHz.
func (f AudioFormat) FramesPerQuantum() int {
	return int(int64(f.SampleRate) * int64(f.Quantum) / int64(time.Second))
}

// SamplesPerQuantum counts interleaved samples across all channels.
func (f AudioFormat) SamplesPerQuantum() int {
	return f.FramesPerQuantum() * f.Channels
}

type gainNode struct {
	id    domain.ChannelID
	gain  atomic.Uint64 // math.Float64bits
	muted atomic.Bool

	// guarded by AudioGraph.mu
	source ports.AudioSource
	owned  bool
}

func (n *gainNode) effectiveGain() float64 {
	if n.muted.Load() {
		return 0
	}
	return math.Float64frombits(n.gain.Load())
}

// AudioGraph mixes the mic, music and clip channels into the destination
// track. Music and clip are also routed to the local monitor; the mic never
// is.
type AudioGraph struct {
	format  AudioFormat
	monitor ports.AudioSink
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	track   *AudioTrack

	nodes map[domain.ChannelID]*gainNode

	mu      sync.Mutex
	scratch []int16
	mix     []int32
	mon     []int32
	closed  bool

	quanta atomic.Uint64
}

// NewAudioGraph builds the graph. An invalid format yields
// domain.ErrAudioGraphUnavailable. monitor may be nil.
func NewAudioGraph(format AudioFormat, monitor ports.AudioSink, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) (*AudioGraph, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAudioGraphUnavailable, err)
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	n := format.SamplesPerQuantum()
	g := &AudioGraph{
		format:  format,
		monitor: monitor,
		metrics: metrics,
		logger:  logger,
		track:   NewAudioTrack(utils.GenerateTrackID("audio"), format),
		nodes:   make(map[domain.ChannelID]*gainNode, len(domain.AllChannels)),
		scratch: make([]int16, n),
		mix:     make([]int32, n),
		mon:     make([]int32, n),
	}
	for _, id := range domain.AllChannels {
		node := &gainNode{id: id}
		node.gain.Store(math.Float64bits(domain.DefaultGain(id)))
		g.nodes[id] = node
		metrics.SetChannelGain(id, domain.DefaultGain(id))
	}
	return g, nil
}

func (g *AudioGraph) Format() AudioFormat { return g.format }

// Track is the destination track.
func (g *AudioGraph) Track() *AudioTrack { return g.track }

func (g *AudioGraph) node(id domain.ChannelID) (*gainNode, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown audio channel %q", domain.ErrInvalidArgument, id)
	}
	return n, nil
}

// SetGain takes effect on the next quantum. Gain is clamped to [0,1].
func (g *AudioGraph) SetGain(id domain.ChannelID, gain float64) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	gain = domain.ClampGain(gain)
	n.gain.Store(math.Float64bits(gain))
	g.metrics.SetChannelGain(id, n.effectiveGain())
	return nil
}

// SetMuted silences a channel without losing its gain.
func (g *AudioGraph) SetMuted(id domain.ChannelID, muted bool) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	n.muted.Store(muted)
	g.metrics.SetChannelGain(id, n.effectiveGain())
	return nil
}

func (g *AudioGraph) Channel(id domain.ChannelID) (domain.AudioChannel, error) {
	n, err := g.node(id)
	if err != nil {
		return domain.AudioChannel{}, err
	}
	return domain.AudioChannel{
		ID:    id,
		Gain:  math.Float64frombits(n.gain.Load()),
		Muted: n.muted.Load(),
	}, nil
}

func (g *AudioGraph) Channels() []domain.AudioChannel {
	out := make([]domain.AudioChannel, 0, len(domain.AllChannels))
	for _, id := range domain.AllChannels {
		ch, _ := g.Channel(id)
		out = append(out, ch)
	}
	return out
}

// Connect wires src into a channel with the channel's current gain. The
// swap happens between quanta, so no quantum ever sees neither source. A
// replaced source is closed only if it was connected as owned; borrowed
// sources (the mic) belong to the capture collaborator.
func (g *AudioGraph) Connect(id domain.ChannelID, src ports.AudioSource, owned bool) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		if owned && src != nil {
			_ = src.Close()
		}
		return domain.ErrAudioGraphUnavailable
	}
	old, oldOwned := n.source, n.owned
	n.source, n.owned = src, owned
	g.mu.Unlock()

	g.releaseSource(id, old, oldOwned)
	g.logger.Infow("audio source connected", "channel", id, "owned", owned)
	return nil
}

// Disconnect removes the channel's source, if any.
func (g *AudioGraph) Disconnect(id domain.ChannelID) {
	n, err := g.node(id)
	if err != nil {
		return
	}
	g.mu.Lock()
	old, oldOwned := n.source, n.owned
	n.source, n.owned = nil, false
	g.mu.Unlock()

	if old != nil {
		g.releaseSource(id, old, oldOwned)
		g.logger.Infow("audio source disconnected", "channel", id)
	}
}

func (g *AudioGraph) Connected(id domain.ChannelID) bool {
	n, err := g.node(id)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return n.source != nil
}

func (g *AudioGraph) releaseSource(id domain.ChannelID, src ports.AudioSource, owned bool) {
	if src == nil || !owned {
		return
	}
	if err := src.Close(); err != nil {
		g.logger.Warnw("failed to close audio source", "channel", id, "error", err)
	}
}

// Process mixes one quantum, writes it to the destination track and the
// monitor, and returns the destination samples.
func (g *AudioGraph) Process() []int16 {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	for i := range g.mix {
		g.mix[i] = 0
		g.mon[i] = 0
	}
	for _, id := range domain.AllChannels {
		n := g.nodes[id]
		if n.source == nil {
			continue
		}
		// sources advance even when muted so playback position is kept
		k := n.source.ReadQuantum(g.scratch)
		gain := n.effectiveGain()
		monitored := id.Monitored()
		for i := 0; i < k && i < len(g.scratch); i++ {
			v := int32(math.Round(float64(g.scratch[i]) * gain))
			g.mix[i] += v
			if monitored {
				g.mon[i] += v
			}
		}
	}
	out := clipInt16(g.mix)
	var mon []int16
	if g.monitor != nil {
		mon = clipInt16(g.mon)
	}
	g.mu.Unlock()

	g.track.Write(out)
	if mon != nil {
		if err := g.monitor.WriteQuantum(mon); err != nil {
			g.logger.Debugw("monitor write failed", "error", err)
		}
	}
	g.quanta.Add(1)
	g.metrics.RecordAudioQuantum()
	return out
}

func clipInt16(in []int32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		switch {
		case v > math.MaxInt16:
			out[i] = math.MaxInt16
		case v < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// Quanta is the number of processed quanta.
func (g *AudioGraph) Quanta() uint64 { return g.quanta.Load() }

// Run processes one quantum per tick until ctx is done or the graph closes.
func (g *AudioGraph) Run(ctx context.Context) {
	ticker := time.NewTicker(g.format.Quantum)
	defer ticker.Stop()

	g.logger.Infow("audio graph running",
		"sample_rate", g.format.SampleRate,
		"channels", g.format.Channels,
		"quantum", g.format.Quantum,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if g.Process() == nil {
				return
			}
		}
	}
}

// Close disconnects every channel and closes the destination track.
func (g *AudioGraph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	type wired struct {
		id    domain.ChannelID
		src   ports.AudioSource
		owned bool
	}
	var release []wired
	for _, id := range domain.AllChannels {
		n := g.nodes[id]
		if n.source != nil {
			release = append(release, wired{id, n.source, n.owned})
			n.source = nil
		}
	}
	g.mu.Unlock()

	for _, w := range release {
		g.releaseSource(w.id, w.src, w.owned)
	}
	g.track.Close()
}
