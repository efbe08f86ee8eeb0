package ports

// AudioSource produces interleaved int16 PCM in the graph's format.
type AudioSource interface {
	// ReadQuantum fills buf and returns the number of samples written. The
	// remainder of buf is treated as silence.
	ReadQuantum(buf []int16) int
	Close() error
}

// AudioSink receives processed PCM, e.g. local speakers.
type AudioSink interface {
	WriteQuantum(samples []int16) error
}
