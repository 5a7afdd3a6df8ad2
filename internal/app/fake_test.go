package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/roach88/statefold/internal/rpc"
)

type sent struct {
	kind   string
	method string
	params []any
}

// fakeMessenger records requests and answers them from a reply function.
// Methods with a registered stream stay open and forward pushed results,
// the rest complete after their scripted results.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	reply   func(method string, params []any) ([]string, error)
	streams map[string]chan json.RawMessage
}

var _ rpc.Messenger = (*fakeMessenger)(nil)

func newFake(reply func(method string, params []any) ([]string, error)) *fakeMessenger {
	if reply == nil {
		reply = func(string, []any) ([]string, error) { return nil, nil }
	}
	return &fakeMessenger{reply: reply, streams: make(map[string]chan json.RawMessage)}
}

// replies answers every request with the given results.
func replies(results ...string) *fakeMessenger {
	return newFake(func(string, []any) ([]string, error) { return results, nil })
}

func (f *fakeMessenger) stream(method string) chan json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan json.RawMessage, 16)
	f.streams[method] = ch
	return ch
}

func (f *fakeMessenger) record(kind, method string, params []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind: kind, method: method, params: params})
}

func (f *fakeMessenger) calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeMessenger) Send(_ context.Context, method string, params ...any) error {
	f.record("send", method, params)
	return nil
}

func (f *fakeMessenger) SendAndObserveResponse(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	f.record("response", method, params)
	results, err := f.reply(method, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, rpc.ErrNoResponse
	}
	return json.RawMessage(results[0]), nil
}

func (f *fakeMessenger) SendAndObserveResponses(ctx context.Context, method string, params ...any) (<-chan json.RawMessage, <-chan error) {
	f.record("responses", method, params)

	f.mu.Lock()
	live := f.streams[method]
	f.mu.Unlock()

	out := make(chan json.RawMessage)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)

		if live != nil {
			for {
				select {
				case raw := <-live:
					select {
					case out <- raw:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}

		results, err := f.reply(method, params)
		if err != nil {
			errs <- err
			return
		}
		for _, r := range results {
			select {
			case out <- json.RawMessage(r):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}
