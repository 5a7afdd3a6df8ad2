package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

// readCheckpoint loads the cached checkpoint. Any failure is treated as
// "no checkpoint" so a broken cache never blocks startup.
func (p *Projection[S]) readCheckpoint(ctx context.Context) (ir.Checkpoint, *S, bool) {
	key := p.opts.cacheKey

	data, found, err := p.deps.Cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("checkpoint read failed, replaying from genesis", "key", key, "error", err)
		return ir.Checkpoint{}, nil, false
	}
	if !found || len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.logger.Info("no checkpoint, replaying from genesis", "key", key)
		return ir.Checkpoint{}, nil, false
	}

	cp, err := ir.DecodeCheckpoint(data)
	if err != nil {
		p.logger.Warn("checkpoint unreadable, replaying from genesis", "key", key, "error", err)
		return ir.Checkpoint{}, nil, false
	}

	state, err := p.codec.Decode(cp.State)
	if err != nil {
		p.logger.Warn("checkpoint state unreadable, replaying from genesis", "key", key, "error", err)
		return ir.Checkpoint{}, nil, false
	}

	p.logger.Info("checkpoint loaded", "key", key, "block", cp.BlockNumber)
	return cp, state, true
}

// pastEvents fetches the window from every source and merges the batches
// in (blockNumber, logIndex) order.
func (p *Projection[S]) pastEvents(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	var all []ir.Event
	for i, src := range p.sources() {
		evs, err := src.PastEvents(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sourceName(i), err)
		}
		all = append(all, evs...)
	}
	ir.SortEvents(all)
	return all, nil
}
