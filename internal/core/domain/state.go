package domain

type EngineState string

const (
	StateIdle      EngineState = "idle"
	StateRendering EngineState = "rendering"
	StateSuspended EngineState = "suspended"
	StateTornDown  EngineState = "torn_down"
)

// CanTransition reports whether the engine may move from s to next.
func (s EngineState) CanTransition(next EngineState) bool {
	switch s {
	case StateIdle:
		return next == StateRendering || next == StateTornDown
	case StateRendering:
		return next == StateSuspended || next == StateTornDown
	case StateSuspended:
		return next == StateRendering || next == StateTornDown
	default:
		return false
	}
}

// Capabilities summarises degraded-but-running conditions.
type Capabilities struct {
	AudioAvailable   bool         `json:"audio_available"`
	ExportRestricted bool         `json:"export_restricted"`
	TaintedSources   []SourceKind `json:"tainted_sources,omitempty"`
}

type WarningKind string

const (
	WarningSourceUnavailable     WarningKind = "source_unavailable"
	WarningCrossOriginRestricted WarningKind = "cross_origin_restricted"
	WarningAudioGraphUnavailable WarningKind = "audio_graph_unavailable"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Source  SourceKind  `json:"source,omitempty"`
	Message string      `json:"message"`
}
