package engine

import (
	"context"

	"github.com/roach88/statefold/internal/cache"
	"github.com/roach88/statefold/internal/ir"
)

// EventOptions configures a live event subscription.
type EventOptions struct {
	// FromBlock asks the source to start delivering at this block instead of
	// at the current head. Zero means "new events only".
	FromBlock uint64

	// Filter restricts delivery to events whose payload fields equal the
	// given values. Remote sources pass it through to the host.
	Filter map[string]any
}

// EventSource produces historical and live blockchain events.
//
// PastEvents returns every event in [fromBlock, toBlock] in one batch.
//
// Events returns a live feed. The event channel is closed when ctx is done or
// the feed ends; at most one error is sent on the error channel before both
// channels close. Blocks on a single feed never move backwards.
type EventSource interface {
	PastEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ir.Event, error)
	Events(ctx context.Context, opts EventOptions) (<-chan ir.Event, <-chan error)
}

// HeightSource reports the current chain height.
type HeightSource interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)
}

// Deps bundles the collaborators a projection folds over.
type Deps struct {
	Cache  cache.Cache
	Events EventSource
	Height HeightSource
}
