package htcp

import (
	"context"
	"log"
	"time"

	htcpclient "github.com/tenzoki/htcp/internal/client"
)

// Client is the programmatic surface for
// create_client/connect/disconnect/server_info/call/subscribe from spec
// section 6.
type Client struct {
	c *htcpclient.Client
}

// ClientOptions mirrors create_client(server_host, server_port, logger).
type ClientOptions struct {
	Host            string
	Port            int
	MaxPayload      uint32
	DialTimeout     time.Duration
	DisconnectGrace time.Duration
	Debug           bool
	Logger          *log.Logger
}

// CreateClient constructs a Client. It does not dial; call Connect for
// that.
func CreateClient(opts ClientOptions) *Client {
	cfg := htcpclient.DefaultConfig()
	cfg.Host = opts.Host
	cfg.Port = opts.Port
	if opts.MaxPayload != 0 {
		cfg.MaxPayload = opts.MaxPayload
	}
	if opts.DialTimeout != 0 {
		cfg.DialTimeout = opts.DialTimeout
	}
	if opts.DisconnectGrace != 0 {
		cfg.DisconnectGrace = opts.DisconnectGrace
	}
	cfg.Debug = opts.Debug

	return &Client{c: htcpclient.CreateClient(cfg, opts.Logger)}
}

// Connect opens the socket and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	return c.c.Connect(ctx)
}

// Disconnect cancels every open subscription and closes the socket.
func (c *Client) Disconnect() error {
	return c.c.Disconnect()
}

// ServerInfoRecord is the cached handshake record, or the disconnected
// placeholder before Connect succeeds (spec section 4.6).
type ServerInfoRecord = htcpclient.ServerInfo

// ServerInfo returns the cached server-info record.
func (c *Client) ServerInfo() ServerInfoRecord {
	return c.c.ServerInfo()
}

// Call invokes a transaction by code, blocking until the reply settles.
// P is the params struct encoded as call arguments; R is the result type
// the reply is decoded into.
func Call[P any, R any](ctx context.Context, c *Client, transaction string, params P) (R, error) {
	return htcpclient.Call[P, R](ctx, c.c, transaction, params)
}

// Subscription is a handle over an open subscription: Next yields
// decoded items; Close sends CANCEL (if needed) and waits for the
// terminal frame.
type Subscription[I any] struct {
	s *htcpclient.Subscription[I]
}

// Subscribe opens a subscription by event_type. P is the params struct
// encoded as subscribe arguments; I is the type each yielded item is
// decoded into.
func Subscribe[P any, I any](ctx context.Context, c *Client, eventType string, params P) (*Subscription[I], error) {
	sub, err := htcpclient.Subscribe[P, I](ctx, c.c, eventType, params)
	if err != nil {
		return nil, err
	}
	return &Subscription[I]{s: sub}, nil
}

// Next blocks for the next item. ok is false once the subscription has
// reached its terminal frame; err is non-nil only if that terminal frame
// carried an error.
func (s *Subscription[I]) Next(ctx context.Context) (item I, ok bool, err error) {
	return s.s.Next(ctx)
}

// Close sends CANCEL (if not already terminated) and waits up to grace
// for the terminal frame. A grace of 0 uses the client's configured
// disconnect grace.
func (s *Subscription[I]) Close(grace time.Duration) error {
	return s.s.Close(grace)
}
