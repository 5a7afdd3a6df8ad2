package engine

// Phase is the lifecycle state of a projection.
//
//	Bootstrapping -> Replaying -> Live
//
// Any phase may move to Stopped (closed by the caller) or Failed (fatal error).
type Phase int32

const (
	PhaseBootstrapping Phase = iota
	PhaseReplaying
	PhaseLive
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReplaying:
		return "replaying"
	case PhaseLive:
		return "live"
	case PhaseStopped:
		return "stopped"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseFailed
}
