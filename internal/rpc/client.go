package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

type clientOptions struct {
	logger           *slog.Logger
	header           http.Header
	handshakeTimeout time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHeader adds HTTP headers to the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(o *clientOptions) {
		o.header = h
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.handshakeTimeout = d
	}
}

// Client is a Messenger over a websocket connection.
//
// Thread-safety: all methods are safe for concurrent use. A single read
// goroutine dispatches responses to the inbox of their request id.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	calls map[string]*inbox

	closeOnce sync.Once
	closed    chan struct{}
	err       error
}

var _ Messenger = (*Client)(nil)

// Dial connects to a host websocket endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := &clientOptions{logger: slog.Default(), handshakeTimeout: defaultHandshakeTimeout}
	for _, opt := range opts {
		opt(o)
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return newClient(conn, o), nil
}

// NewClient wraps an established connection.
func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	o := &clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return newClient(conn, o)
}

func newClient(conn *websocket.Conn, o *clientOptions) *Client {
	c := &Client{
		conn:   conn,
		logger: o.logger,
		calls:  make(map[string]*inbox),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send implements Messenger.
func (c *Client) Send(ctx context.Context, method string, params ...any) error {
	id, err := newID()
	if err != nil {
		return err
	}
	return c.write(ctx, NewRequest(id, method, params...))
}

// SendAndObserveResponse implements Messenger.
func (c *Client) SendAndObserveResponse(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	box := c.register(id)
	defer c.unregister(id)

	if err := c.write(ctx, NewRequest(id, method, params...)); err != nil {
		return nil, err
	}

	for {
		if resp, ok := box.take(); ok {
			return resp.result()
		}
		select {
		case <-box.ready:
		case <-c.closed:
			if resp, ok := box.take(); ok {
				return resp.result()
			}
			return nil, c.closeErr()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SendAndObserveResponses implements Messenger.
func (c *Client) SendAndObserveResponses(ctx context.Context, method string, params ...any) (<-chan json.RawMessage, <-chan error) {
	out := make(chan json.RawMessage)
	errs := make(chan error, 1)

	id, err := newID()
	if err != nil {
		errs <- err
		close(out)
		close(errs)
		return out, errs
	}
	box := c.register(id)

	if err := c.write(ctx, NewRequest(id, method, params...)); err != nil {
		c.unregister(id)
		errs <- err
		close(out)
		close(errs)
		return out, errs
	}

	go func() {
		defer close(errs)
		defer close(out)
		defer c.unregister(id)

		for {
			resp, ok := box.take()
			if !ok {
				select {
				case <-box.ready:
					continue
				case <-c.closed:
					if box.pending() {
						continue
					}
					errs <- c.closeErr()
					return
				case <-ctx.Done():
					return
				}
			}

			result, err := resp.result()
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}

// Close sends a close frame and tears the connection down. Pending calls
// fail with ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	c.shutdown(ErrClosed)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(ErrClosed)
			} else {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Warn("rpc: undecodable message", "error", err)
			continue
		}
		c.dispatch(resp)
	}
}

func (c *Client) dispatch(resp Response) {
	c.mu.Lock()
	box, ok := c.calls[resp.ID]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("rpc: response without a pending request", "id", resp.ID)
		return
	}
	box.put(resp)
}

func (c *Client) write(ctx context.Context, req Request) error {
	select {
	case <-c.closed:
		return c.closeErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("rpc %s: %w", req.Method, err)
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("rpc %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) register(id string) *inbox {
	box := newInbox()
	c.mu.Lock()
	c.calls[id] = box
	c.mu.Unlock()
	return box
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("rpc: request id: %w", err)
	}
	return id.String(), nil
}
