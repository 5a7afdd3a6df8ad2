package reducers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
)

// ErrUnknownReducer is returned by Lookup for a name that is not registered.
var ErrUnknownReducer = errors.New("unknown reducer")

// Snapshot is an engine snapshot with the state rendered as JSON.
type Snapshot struct {
	Seq         int64           `json:"seq"`
	BlockNumber uint64          `json:"blockNumber"`
	State       json.RawMessage `json:"state"`
}

// View is a running projection whose state type has been erased.
type View interface {
	Subscribe(ctx context.Context) <-chan Snapshot
	Latest() (Snapshot, bool)
	Phase() engine.Phase
	WaitLive(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Definition is a named reducer.
type Definition struct {
	Name        string
	Description string

	open func(ctx context.Context, deps engine.Deps, opts ...engine.Option) (View, error)
	fold func(state json.RawMessage, events []ir.Event) (json.RawMessage, error)
}

// Define wraps a typed reducer as a Definition.
func Define[S any](name, description string, reducer engine.Reducer[S]) Definition {
	codec := engine.JSONCodec[S]{}
	return Definition{
		Name:        name,
		Description: description,
		open: func(ctx context.Context, deps engine.Deps, opts ...engine.Option) (View, error) {
			p, err := engine.Open(ctx, deps, reducer, opts...)
			if err != nil {
				return nil, err
			}
			return &view[S]{p: p}, nil
		},
		fold: func(state json.RawMessage, events []ir.Event) (json.RawMessage, error) {
			initial, err := codec.Decode(state)
			if err != nil {
				return nil, err
			}
			result, err := engine.Fold(initial, events, reducer)
			if err != nil {
				return nil, err
			}
			return codec.Encode(result)
		},
	}
}

// Open starts a projection of the reducer.
func (d Definition) Open(ctx context.Context, deps engine.Deps, opts ...engine.Option) (View, error) {
	if d.open == nil {
		return nil, fmt.Errorf("reducer %q: not defined", d.Name)
	}
	return d.open(ctx, deps, opts...)
}

// Fold applies events to a JSON state offline. A nil or null state starts
// from the reducer's base state.
func (d Definition) Fold(state json.RawMessage, events []ir.Event) (json.RawMessage, error) {
	if d.fold == nil {
		return nil, fmt.Errorf("reducer %q: not defined", d.Name)
	}
	return d.fold(state, events)
}

type view[S any] struct {
	p *engine.Projection[S]
}

func (v *view[S]) Subscribe(ctx context.Context) <-chan Snapshot {
	in := v.p.Subscribe(ctx)
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		for snap := range in {
			rendered, err := render(snap)
			if err != nil {
				continue
			}
			select {
			case out <- rendered:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (v *view[S]) Latest() (Snapshot, bool) {
	snap, ok := v.p.Latest()
	if !ok {
		return Snapshot{}, false
	}
	rendered, err := render(snap)
	if err != nil {
		return Snapshot{}, false
	}
	return rendered, true
}

func (v *view[S]) Phase() engine.Phase                { return v.p.Phase() }
func (v *view[S]) WaitLive(ctx context.Context) error { return v.p.WaitLive(ctx) }
func (v *view[S]) Done() <-chan struct{}              { return v.p.Done() }
func (v *view[S]) Err() error                         { return v.p.Err() }
func (v *view[S]) Close() error                       { return v.p.Close() }

func render[S any](snap engine.Snapshot[S]) (Snapshot, error) {
	state, err := json.Marshal(snap.State)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Seq: snap.Seq, BlockNumber: snap.BlockNumber, State: state}, nil
}

var registry = map[string]Definition{}

func register(d Definition) {
	registry[d.Name] = d
}

func init() {
	register(Define("counter", "Adds and subtracts numeric Add/Subtract payloads", CountReducer))
	register(Define("tally", "Counts events by name", TallyReducer))
}

// Lookup returns the reducer registered under name.
func Lookup(name string) (Definition, error) {
	d, ok := registry[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownReducer, name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered reducers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
