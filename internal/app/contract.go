package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
)

// ErrUnknownFunction is returned by Invoke for a name the ABI does not declare.
var ErrUnknownFunction = errors.New("unknown contract function")

// Contract is a handle on an external contract.
type Contract struct {
	proxy     *Proxy
	address   string
	functions map[string]ABIEntry
	events    []ABIEntry
}

var _ engine.EventSource = (*Contract)(nil)

// Address returns the contract address.
func (c *Contract) Address() string {
	return c.address
}

// Invoke calls a function of the contract. Read-only functions are answered
// by an external_call; the rest are sent as transaction intents.
func (c *Contract) Invoke(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	entry, ok := c.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownFunction, name, c.address)
	}

	method := "external_intent"
	if entry.ReadOnly() {
		method = "external_call"
	}
	params := append([]any{c.address, entry}, args...)
	return c.proxy.rpc.SendAndObserveResponse(ctx, method, params...)
}

// Events implements engine.EventSource. Events without an address are
// stamped with the contract address.
func (c *Contract) Events(ctx context.Context, opts engine.EventOptions) (<-chan ir.Event, <-chan error) {
	results, errs := c.proxy.rpc.SendAndObserveResponses(ctx, "external_events",
		c.address, c.events, allEvents, eventOptions(opts))
	return decodeEvents(ctx, c.address, results, errs)
}

// PastEvents implements engine.EventSource.
func (c *Contract) PastEvents(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	raw, err := c.proxy.rpc.SendAndObserveResponse(ctx, "external_past_events",
		c.address, c.events, allEvents, blockRange(from, to))
	if err != nil {
		return nil, err
	}
	return parseEvents(raw, c.address)
}
