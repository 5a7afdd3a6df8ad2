package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/statefold/internal/engine"
	"github.com/roach88/statefold/internal/ir"
	"github.com/roach88/statefold/internal/rpc"
)

const allEvents = "allEvents"

// Proxy is the application's handle on its host.
type Proxy struct {
	rpc    rpc.Messenger
	logger *slog.Logger
}

var (
	_ engine.EventSource  = (*Proxy)(nil)
	_ engine.HeightSource = (*Proxy)(nil)
)

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the proxy logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProxy creates a proxy over m.
func NewProxy(m rpc.Messenger, opts ...Option) *Proxy {
	p := &Proxy{rpc: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Intent asks the host to perform a transaction calling method on the
// application's contract.
func (p *Proxy) Intent(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return p.rpc.SendAndObserveResponse(ctx, "intent", prepend(method, params)...)
}

// Call performs a read-only call of method on the application's contract.
func (p *Proxy) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return p.rpc.SendAndObserveResponse(ctx, "call", prepend(method, params)...)
}

// DescribeScript asks the host for a human readable description of an EVM
// script.
func (p *Proxy) DescribeScript(ctx context.Context, script any) (json.RawMessage, error) {
	return p.rpc.SendAndObserveResponse(ctx, "describe_script", script)
}

// Web3Eth invokes a web3.eth method on the host.
func (p *Proxy) Web3Eth(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return p.rpc.SendAndObserveResponse(ctx, "web3_eth", prepend(method, params)...)
}

// Network streams the connected network.
func (p *Proxy) Network(ctx context.Context) (<-chan Network, <-chan error) {
	return observe[Network](ctx, p.rpc, "network")
}

// Accounts streams the user's accounts.
func (p *Proxy) Accounts(ctx context.Context) (<-chan []string, <-chan error) {
	return observe[[]string](ctx, p.rpc, "accounts")
}

// CurrentApp returns the application the proxy belongs to.
func (p *Proxy) CurrentApp(ctx context.Context) (App, error) {
	raw, err := p.rpc.SendAndObserveResponse(ctx, "get_apps", "observe", "current")
	if err != nil {
		return App{}, err
	}
	var a App
	if err := json.Unmarshal(raw, &a); err != nil {
		return App{}, fmt.Errorf("decode current app: %w", err)
	}
	return a, nil
}

// InstalledApps streams the installed applications.
func (p *Proxy) InstalledApps(ctx context.Context) (<-chan []App, <-chan error) {
	return observe[[]App](ctx, p.rpc, "get_apps", "observe", "all")
}

// Identify sets the label the host shows for this application instance.
func (p *Proxy) Identify(ctx context.Context, identifier string) error {
	return p.rpc.Send(ctx, "identify", identifier)
}

// Path streams the application's current path.
func (p *Proxy) Path(ctx context.Context) (<-chan string, <-chan error) {
	return observe[string](ctx, p.rpc, "path", "observe")
}

// RequestPath asks the host to change the application's path.
func (p *Proxy) RequestPath(ctx context.Context, path string) error {
	_, err := p.rpc.SendAndObserveResponse(ctx, "path", "modify", path)
	return err
}

// EmitTrigger emits an off-chain event.
func (p *Proxy) EmitTrigger(ctx context.Context, name string, data any) error {
	return p.rpc.Send(ctx, "trigger", "emit", name, data)
}

// Triggers streams off-chain events emitted by the application.
func (p *Proxy) Triggers(ctx context.Context) (<-chan Trigger, <-chan error) {
	return observe[Trigger](ctx, p.rpc, "trigger", "observe")
}

// Events implements engine.EventSource for the application's contract.
func (p *Proxy) Events(ctx context.Context, opts engine.EventOptions) (<-chan ir.Event, <-chan error) {
	results, errs := p.rpc.SendAndObserveResponses(ctx, "events", allEvents, eventOptions(opts))
	return decodeEvents(ctx, "", results, errs)
}

// PastEvents implements engine.EventSource for the application's contract.
func (p *Proxy) PastEvents(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	raw, err := p.rpc.SendAndObserveResponse(ctx, "past_events", allEvents, blockRange(from, to))
	if err != nil {
		return nil, err
	}
	return parseEvents(raw, "")
}

// CurrentBlockNumber implements engine.HeightSource through web3.eth.
func (p *Proxy) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	raw, err := p.Web3Eth(ctx, "getBlockNumber")
	if err != nil {
		return 0, err
	}
	return parseBlockNumber(raw)
}

// Cache returns the host cache of this application.
func (p *Proxy) Cache() *Cache {
	return &Cache{rpc: p.rpc}
}

// State streams the persisted checkpoint of the application's projection.
func (p *Proxy) State(ctx context.Context) (<-chan json.RawMessage, <-chan error) {
	return p.rpc.SendAndObserveResponses(ctx, "cache", "observe", engine.DefaultCacheKey)
}

// External returns a handle on the contract at address described by abi.
func (p *Proxy) External(address string, abi []ABIEntry) *Contract {
	c := &Contract{
		proxy:     p,
		address:   address,
		functions: make(map[string]ABIEntry),
		events:    []ABIEntry{},
	}
	for _, entry := range abi {
		switch entry.Type {
		case "function":
			c.functions[entry.Name] = entry
		case "event":
			c.events = append(c.events, entry)
		}
	}
	return c
}

// Store opens a projection whose checkpoint, past events, live events and
// height all come from the host.
func Store[S any](ctx context.Context, p *Proxy, reducer engine.Reducer[S], opts ...engine.Option) (*engine.Projection[S], error) {
	deps := engine.Deps{Cache: p.Cache(), Events: p, Height: p}
	return engine.Open(ctx, deps, reducer, append([]engine.Option{engine.WithLogger(p.logger)}, opts...)...)
}

// observe streams the decoded results of a multi-response request.
func observe[T any](ctx context.Context, m rpc.Messenger, method string, params ...any) (<-chan T, <-chan error) {
	results, errs := m.SendAndObserveResponses(ctx, method, params...)
	return rpc.Decode[T](ctx, results, errs)
}

func prepend(first any, rest []any) []any {
	return append([]any{first}, rest...)
}

// eventOptions renders options in the host's web3 subscription shape. Zero
// fields are omitted so the host applies its own defaults.
func eventOptions(opts engine.EventOptions) map[string]any {
	out := map[string]any{}
	if opts.FromBlock > 0 {
		out["fromBlock"] = opts.FromBlock
	}
	if len(opts.Filter) > 0 {
		out["filter"] = opts.Filter
	}
	return out
}

func blockRange(from, to uint64) map[string]any {
	return map[string]any{"fromBlock": from, "toBlock": to}
}

// decodeEvents turns a response stream into events. An undecodable event
// ends the feed with its error.
func decodeEvents(ctx context.Context, address string, results <-chan json.RawMessage, errs <-chan error) (<-chan ir.Event, <-chan error) {
	events, evErrs := rpc.Decode[ir.Event](ctx, results, errs)
	if address == "" {
		return events, evErrs
	}

	out := make(chan ir.Event)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.Address == "" {
				ev.Address = address
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, evErrs
}

func parseEvents(raw json.RawMessage, address string) ([]ir.Event, error) {
	events, err := ir.ParseEvents(raw)
	if err != nil {
		return nil, fmt.Errorf("decode past events: %w", err)
	}
	if address != "" {
		for i := range events {
			if events[i].Address == "" {
				events[i].Address = address
			}
		}
	}
	return events, nil
}

// parseBlockNumber accepts a JSON number, a decimal string or a hex string.
func parseBlockNumber(raw json.RawMessage) (uint64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := ir.ParseBlockNumber(s)
	if err != nil {
		return 0, fmt.Errorf("current block number: %w", err)
	}
	return n, nil
}
