package reducers

import "github.com/roach88/statefold/internal/ir"

// Tally counts events by name.
type Tally struct {
	Counts    map[string]uint64 `json:"counts"`
	Total     uint64            `json:"total"`
	LastBlock uint64            `json:"lastBlock"`
}

// TallyReducer accepts any event.
func TallyReducer(state *Tally, ev ir.Event) (*Tally, error) {
	if state == nil {
		state = &Tally{}
	}
	if state.Counts == nil {
		state.Counts = make(map[string]uint64)
	}
	state.Counts[ev.Name]++
	state.Total++
	state.LastBlock = max(state.LastBlock, ev.BlockNumber)
	return state, nil
}
