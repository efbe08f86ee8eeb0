package domain

import "fmt"

type ChannelID string

const (
	ChannelMic   ChannelID = "mic"
	ChannelMusic ChannelID = "music"
	ChannelClip  ChannelID = "clip"
)

var AllChannels = []ChannelID{ChannelMic, ChannelMusic, ChannelClip}

func ParseChannelID(s string) (ChannelID, error) {
	for _, c := range AllChannels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown audio channel %q", ErrInvalidArgument, s)
}

// Monitored reports whether the channel is routed to the local monitor.
// The microphone never is, to avoid acoustic feedback.
func (c ChannelID) Monitored() bool {
	return c != ChannelMic
}

type AudioChannel struct {
	ID    ChannelID `json:"id"`
	Gain  float64   `json:"gain"`
	Muted bool      `json:"muted"`
}

// EffectiveGain is the gain applied on the signal path.
func (c AudioChannel) EffectiveGain() float64 {
	if c.Muted {
		return 0
	}
	return c.Gain
}

const (
	DefaultMicGain   = 1.0
	DefaultMusicGain = 0.3
	DefaultClipGain  = 0.8
)

func DefaultGain(id ChannelID) float64 {
	switch id {
	case ChannelMic:
		return DefaultMicGain
	case ChannelMusic:
		return DefaultMusicGain
	case ChannelClip:
		return DefaultClipGain
	default:
		return 0
	}
}

// ClampGain restricts g to [0,1].
func ClampGain(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}
