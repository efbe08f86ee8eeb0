package ports

import (
	"time"

	"castmix/internal/core/domain"
)

type MetricsRecorder interface {
	RecordFrame(duration time.Duration, placeholders int)
	RecordVideoFrame(repeated bool)
	RecordAudioQuantum()
	SetChannelGain(channel domain.ChannelID, gain float64)
	SetEngineState(state domain.EngineState)
	SetLayout(mode domain.LayoutMode)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordFrame(time.Duration, int)           {}
func (NopMetrics) RecordVideoFrame(bool)                    {}
func (NopMetrics) RecordAudioQuantum()                      {}
func (NopMetrics) SetChannelGain(domain.ChannelID, float64) {}
func (NopMetrics) SetEngineState(domain.EngineState)        {}
func (NopMetrics) SetLayout(domain.LayoutMode)              {}
