package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"castmix/internal/core/ports"
)

// PCMSource plays a fixed buffer of interleaved int16 samples, optionally
// looping. It is used for background music and clip audio.
type PCMSource struct {
	mu      sync.Mutex
	samples []int16
	pos     int
	loop    bool
	closed  bool
}

func NewPCMSource(samples []int16, loop bool) *PCMSource {
	return &PCMSource{samples: samples, loop: loop}
}

func (s *PCMSource) ReadQuantum(buf []int16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.samples) == 0 {
		return 0
	}
	n := 0
	for n < len(buf) {
		if s.pos >= len(s.samples) {
			if !s.loop {
				break
			}
			s.pos = 0
		}
		c := copy(buf[n:], s.samples[s.pos:])
		n += c
		s.pos += c
	}
	return n
}

func (s *PCMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// BytesToSamples converts little-endian s16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian s16 bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// LoadPCMFile reads a raw s16le file already in the graph's format.
func LoadPCMFile(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pcm %s: %w", path, err)
	}
	return BytesToSamples(data), nil
}

// DecodeAudioFile runs ffmpeg to decode any audio file to interleaved s16le
// at the given rate and channel count.
func DecodeAudioFile(ctx context.Context, path string, sampleRate, channels int) ([]int16, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-loglevel", "error",
		"pipe:1",
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	return BytesToSamples(out), nil
}

// NewPCMFileSource loads a raw s16le file into a source.
func NewPCMFileSource(path string, loop bool) (*PCMSource, error) {
	samples, err := LoadPCMFile(path)
	if err != nil {
		return nil, err
	}
	return NewPCMSource(samples, loop), nil
}

// WriterSink writes processed PCM as raw s16le, e.g. to a file or a pipe
// into a player.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

var _ ports.AudioSink = (*WriterSink)(nil)

func (s *WriterSink) WriteQuantum(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(SamplesToBytes(samples))
	return err
}
