package harness

import "encoding/json"

// Trace event types.
const (
	EventFetch      = "fetch"
	EventSnapshot   = "snapshot"
	EventCheckpoint = "checkpoint"
	EventFailure    = "failure"
)

// TraceEvent is one observable outcome of a scenario run.
type TraceEvent struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq,omitempty"`
	Block uint64          `json:"block,omitempty"`
	Range []uint64        `json:"range,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddFetch records a past-events request.
func (r *Result) AddFetch(from, to uint64) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventFetch, Range: []uint64{from, to}})
}

// AddSnapshot records an emitted snapshot.
func (r *Result) AddSnapshot(seq int64, block uint64, state json.RawMessage) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventSnapshot, Seq: seq, Block: block, State: state})
}

// AddCheckpoint records a checkpoint written to the cache.
func (r *Result) AddCheckpoint(block uint64, state json.RawMessage) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventCheckpoint, Block: block, State: state})
}

// AddFailure records the fatal error of the projection.
func (r *Result) AddFailure(code string, block uint64) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventFailure, Code: code, Block: block})
}

// last returns the last trace event of the given type.
func (r *Result) last(typ string) (TraceEvent, bool) {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i].Type == typ {
			return r.Trace[i], true
		}
	}
	return TraceEvent{}, false
}
