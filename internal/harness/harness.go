package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/reducers"
	"github.com/roach88/statefold/internal/testutil"
)

const (
	// stepTimeout bounds the wait for the outcome of one flow step.
	stepTimeout = 5 * time.Second

	// holdCheckpoints is a debounce no scenario outlives, so the only
	// checkpoint write happens on close.
	holdCheckpoints = time.Hour
)

// Harness runs one scenario against in-memory sources and cache.
type Harness struct {
	scenario  *Scenario
	main      *testutil.Source
	externals []*testutil.Source
	cache     *testutil.Cache
	logger    *slog.Logger
	result    *Result
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Seed the cache with the scenario checkpoint
//  2. Open the projection over scripted sources
//  3. Record the snapshot produced by replay
//  4. Deliver the flow one step at a time, checking each outcome
//  5. Close the projection and record the flushed checkpoint
//  6. Evaluate assertions against the trace
func Run(scenario *Scenario) (*Result, error) {
	def, err := reducers.Lookup(scenario.Reducer)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		main:     testutil.NewSource(scenario.Head, toEvents(scenario.Past)...),
		cache:    testutil.NewCache(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	if scenario.IgnoreRange {
		h.main.IgnoreRange()
	}
	externals := make([]engine.EventSource, len(scenario.Externals))
	for i, ext := range scenario.Externals {
		src := testutil.NewSource(scenario.Head, toEvents(ext.Past)...)
		h.externals = append(h.externals, src)
		externals[i] = src
	}

	if err := h.seed(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	view, err := def.Open(ctx,
		engine.Deps{Cache: h.cache, Events: h.main, Height: h.main},
		engine.WithName(scenario.Name),
		engine.WithLogger(h.logger),
		engine.WithDebounce(holdCheckpoints),
		engine.WithExternals(externals...),
		engine.WithSubscriberBuffer(len(scenario.Flow)+1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open projection: %w", err)
	}

	failed := h.start(ctx, view)
	h.recordFetches()

	if !failed {
		sub := view.Subscribe(ctx)
		if _, ok := view.Latest(); ok {
			h.nextSnapshot(sub, -1)
		}
		failed = h.executeFlow(view, sub)
	}

	if err := view.Close(); err != nil {
		return nil, fmt.Errorf("failed to close projection: %w", err)
	}
	if err := h.recordCheckpoints(); err != nil {
		return nil, err
	}
	if failed {
		h.recordFailure(view.Err())
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// seed writes the scenario checkpoint to the cache.
func (h *Harness) seed() error {
	cp := h.scenario.Checkpoint
	if cp == nil {
		return nil
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}
	data, err := ir.EncodeCheckpoint(ir.Checkpoint{State: state, BlockNumber: cp.BlockNumber})
	if err != nil {
		return err
	}
	h.cache.Seed(engine.DefaultCacheKey, data)
	return nil
}

// start waits for the projection to go live. It reports whether the
// projection failed during bootstrap.
func (h *Harness) start(ctx context.Context, view reducers.View) bool {
	waitCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	err := view.WaitLive(waitCtx)
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		h.result.AddError("projection did not go live")
	}
	return true
}

func (h *Harness) recordFetches() {
	for _, r := range h.main.PastCalls() {
		h.result.AddFetch(r.From, r.To)
	}
}

// executeFlow delivers each step and waits for its outcome. It reports
// whether the projection failed.
func (h *Harness) executeFlow(view reducers.View, sub <-chan reducers.Snapshot) bool {
	for i, step := range h.scenario.Flow {
		src := h.source(step.Source)

		switch {
		case step.Push != nil:
			src.Push(step.Push.toEvent())
		case step.Fail != "":
			src.Fail(errors.New(step.Fail))
		case step.Close:
			src.CloseFeeds()
		}

		switch step.outcome() {
		case ExpectApply:
			if !h.nextSnapshot(sub, i) {
				return h.stopped(view)
			}
		case ExpectFail:
			select {
			case <-view.Done():
				return true
			case <-time.After(stepTimeout):
				h.result.AddError(fmt.Sprintf("flow[%d]: expected the projection to fail", i))
				return false
			}
		}
	}
	return false
}

// nextSnapshot records the next snapshot. step is the flow index waiting
// for it, or -1 for the replay snapshot.
func (h *Harness) nextSnapshot(sub <-chan reducers.Snapshot, step int) bool {
	select {
	case snap, ok := <-sub:
		if !ok {
			h.result.AddError(fmt.Sprintf("flow[%d]: projection stopped before applying the event", step))
			return false
		}
		h.result.AddSnapshot(snap.Seq, snap.BlockNumber, snap.State)
		return true
	case <-time.After(stepTimeout):
		h.result.AddError(fmt.Sprintf("flow[%d]: no snapshot within %s", step, stepTimeout))
		return false
	}
}

// stopped reports whether the projection failed while a step was waiting.
func (h *Harness) stopped(view reducers.View) bool {
	select {
	case <-view.Done():
		return view.Err() != nil
	case <-time.After(stepTimeout):
		return false
	}
}

func (h *Harness) source(i int) *testutil.Source {
	if i == 0 {
		return h.main
	}
	return h.externals[i-1]
}

// recordCheckpoints adds every successful cache write to the trace.
func (h *Harness) recordCheckpoints() error {
	for _, w := range h.cache.Writes() {
		if w.Err != nil {
			continue
		}
		cp, err := ir.DecodeCheckpoint(w.Value)
		if err != nil {
			return fmt.Errorf("undecodable checkpoint written: %w", err)
		}
		h.result.AddCheckpoint(cp.BlockNumber, cp.State)
	}
	return nil
}

func (h *Harness) recordFailure(err error) {
	if err == nil {
		return
	}
	var fe *engine.FoldError
	if errors.As(err, &fe) {
		h.result.AddFailure(string(fe.Code), fe.BlockNumber)
		return
	}
	h.result.AddFailure("UNKNOWN", 0)
}
