package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/statefold/internal/ir"
)

// Fold applies events to state the same way a projection replays them:
// sorted by (blockNumber, logIndex), with repeated identities folded once.
// It is the offline counterpart of Open, used for verification and tests.
func Fold[S any](state *S, events []ir.Event, reducer Reducer[S]) (*S, error) {
	sorted := slices.Clone(events)
	ir.SortEvents(sorted)

	cur := newCursor(0, 1)
	for _, ev := range sorted {
		if cur.replay(ev) != verdictApply {
			continue
		}
		next, err := applyReducer(reducer, state, ev)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// applyReducer calls the reducer, turning a panic into a reducer error and
// a nil result into an invalid-state error.
func applyReducer[S any](reducer Reducer[S], state *S, ev ir.Event) (next *S, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = NewReducerError(ev, fmt.Errorf("panic: %v", r))
		}
	}()

	next, err = reducer(state, ev)
	if err != nil {
		return nil, NewReducerError(ev, err)
	}
	if next == nil {
		return nil, NewInvalidStateError(ev, ErrInvalidState)
	}
	return next, nil
}
