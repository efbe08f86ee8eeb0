package domain

import "time"

type EngineMetrics struct {
	State            EngineState   `json:"state"`
	Layout           LayoutMode    `json:"layout"`
	FramesRendered   uint64        `json:"frames_rendered"`
	PlaceholderDraws uint64        `json:"placeholder_draws"`
	LastRenderTime   time.Duration `json:"last_render_time"`
	VideoFramesOut   uint64        `json:"video_frames_out"`
	AudioQuanta      uint64        `json:"audio_quanta"`
	Timestamp        time.Time     `json:"timestamp"`
}
