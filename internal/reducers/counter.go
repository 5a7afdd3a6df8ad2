package reducers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

// Action is an applied event as kept in the counter's history.
type Action struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Counter is the state of the counter reducer.
type Counter struct {
	Counter       int64    `json:"counter"`
	ActionHistory []Action `json:"actionHistory"`
}

// CountReducer adds or subtracts the numeric payload of Add and Subtract
// events. Other events leave the state unchanged.
func CountReducer(state *Counter, ev ir.Event) (*Counter, error) {
	if state == nil {
		state = &Counter{ActionHistory: []Action{}}
	}

	switch ev.Name {
	case "Add", "Subtract":
	default:
		return state, nil
	}

	n, err := amount(ev)
	if err != nil {
		return nil, err
	}
	if ev.Name == "Subtract" {
		n = -n
	}

	state.Counter += n
	state.ActionHistory = append(state.ActionHistory, Action{
		Event:   ev.Name,
		Payload: bytes.Clone(ev.Payload),
	})
	return state, nil
}

// amount reads an integer payload, given either as a JSON number or as a
// numeric string.
func amount(ev ir.Event) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(ev.Payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("%s at block %d: decode payload: %w", ev.Name, ev.BlockNumber, err)
	}

	var num json.Number
	switch x := v.(type) {
	case json.Number:
		num = x
	case string:
		num = json.Number(x)
	default:
		return 0, fmt.Errorf("%s at block %d: payload %s is not a number", ev.Name, ev.BlockNumber, ev.Payload)
	}

	n, err := num.Int64()
	if err != nil {
		return 0, fmt.Errorf("%s at block %d: payload %s is not an integer", ev.Name, ev.BlockNumber, ev.Payload)
	}
	return n, nil
}
