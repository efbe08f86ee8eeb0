package media

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMSource_Looping(t *testing.T) {
	src := NewPCMSource([]int16{1, 2, 3}, true)
	buf := make([]int16, 7)

	n := src.ReadQuantum(buf)
	assert.Equal(t, 7, n)
	assert.Equal(t, []int16{1, 2, 3, 1, 2, 3, 1}, buf)

	n = src.ReadQuantum(buf[:2])
	assert.Equal(t, 2, n)
	assert.Equal(t, []int16{2, 3}, buf[:2])
}

func TestPCMSource_OneShot(t *testing.T) {
	src := NewPCMSource([]int16{5, 6, 7}, false)
	buf := make([]int16, 4)

	assert.Equal(t, 3, src.ReadQuantum(buf))
	assert.Equal(t, 0, src.ReadQuantum(buf))
}

func TestPCMSource_Closed(t *testing.T) {
	src := NewPCMSource([]int16{5, 6, 7}, true)
	require.NoError(t, src.Close())
	assert.Equal(t, 0, src.ReadQuantum(make([]int16, 4)))
}

func TestPCMFileSource(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	path := filepath.Join(t.TempDir(), "music.pcm")
	require.NoError(t, os.WriteFile(path, SamplesToBytes(samples), 0o644))

	src, err := NewPCMFileSource(path, false)
	require.NoError(t, err)

	buf := make([]int16, len(samples))
	assert.Equal(t, len(samples), src.ReadQuantum(buf))
	assert.Equal(t, samples, buf)

	_, err = NewPCMFileSource(filepath.Join(t.TempDir(), "missing.pcm"), false)
	assert.Error(t, err)
}

func TestBytesToSamples_OddLength(t *testing.T) {
	assert.Equal(t, []int16{0x0201}, BytesToSamples([]byte{0x01, 0x02, 0x03}))
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.WriteQuantum([]int16{1, -2}))
	require.NoError(t, sink.WriteQuantum([]int16{300}))
	assert.Equal(t, []int16{1, -2, 300}, BytesToSamples(buf.Bytes()))
}
