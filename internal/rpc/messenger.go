package rpc

import (
	"context"
	"encoding/json"
)

// Messenger sends requests to the host and observes its responses.
type Messenger interface {
	// Send delivers a request without waiting for a response.
	Send(ctx context.Context, method string, params ...any) error

	// SendAndObserveResponse returns the result of the first response.
	SendAndObserveResponse(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// SendAndObserveResponses streams the result of every response until ctx
	// is done, the connection closes or the host replies with an error. At
	// most one error is sent before both channels close.
	SendAndObserveResponses(ctx context.Context, method string, params ...any) (<-chan json.RawMessage, <-chan error)
}

// Decode streams results decoded into T. A result that does not decode ends
// the stream with that error.
func Decode[T any](ctx context.Context, results <-chan json.RawMessage, errs <-chan error) (<-chan T, <-chan error) {
	out := make(chan T)
	outErr := make(chan error, 1)

	go func() {
		defer close(outErr)
		defer close(out)

		for {
			select {
			case raw, ok := <-results:
				if !ok {
					if err, ok := <-errs; ok && err != nil {
						outErr <- err
					}
					return
				}
				var v T
				if err := json.Unmarshal(raw, &v); err != nil {
					outErr <- err
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, outErr
}
