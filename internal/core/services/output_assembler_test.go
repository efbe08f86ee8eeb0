package services

import (
	"testing"

	"castmix/internal/infrastructure/compositor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAssembler(t *testing.T) *OutputAssembler {
	a := NewOutputAssembler(compositor.NewSurface(16, 9), 30, nil, zaptest.NewLogger(t).Sugar())
	t.Cleanup(a.Close)
	return a
}

func TestOutputAssembler_StreamIsIdempotent(t *testing.T) {
	a := newTestAssembler(t)
	_, ok := a.Stream()
	assert.False(t, ok)

	first := a.GetOutputStream()
	second := a.GetOutputStream()
	assert.Same(t, first, second)
	assert.Equal(t, first.ID(), second.ID())
	assert.NotEmpty(t, first.ID())

	tracks := first.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, TrackVideo, tracks[0].Kind())
	assert.Same(t, first.VideoTrack(), second.VideoTrack())
}

func TestOutputAssembler_AudioUpgradeIsLive(t *testing.T) {
	a := newTestAssembler(t)
	stream := a.GetOutputStream()
	_, ok := stream.AudioTrack()
	assert.False(t, ok)

	audio := NewAudioTrack("audio_1", DefaultAudioFormat())
	a.AttachAudio(audio)

	tracks := stream.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, TrackAudio, tracks[1].Kind())
	assert.Same(t, stream, a.GetOutputStream())
}

func TestOutputAssembler_AudioBeforeStream(t *testing.T) {
	a := newTestAssembler(t)
	a.AttachAudio(NewAudioTrack("audio_1", DefaultAudioFormat()))

	assert.Len(t, a.GetOutputStream().Tracks(), 2)
}

func TestOutputAssembler_SurfaceReadyFiresOnce(t *testing.T) {
	a := newTestAssembler(t)
	calls := 0
	a.OnSurfaceReady(func() { calls++ })
	assert.False(t, a.SurfaceReady())

	a.MarkSurfaceReady()
	a.MarkSurfaceReady()
	assert.Equal(t, 1, calls)
	assert.True(t, a.SurfaceReady())

	late := 0
	a.OnSurfaceReady(func() { late++ })
	assert.Equal(t, 1, late)
}

func TestOutputAssembler_CloseClosesTracks(t *testing.T) {
	a := newTestAssembler(t)
	audio := NewAudioTrack("audio_1", DefaultAudioFormat())
	a.AttachAudio(audio)
	sub := audio.Subscribe("recorder")
	read := a.GetOutputStream().VideoTrack().Subscribe("recorder")

	a.Close()
	_, ok := read()
	assert.False(t, ok)
	_, open := <-sub
	assert.False(t, open)
}
