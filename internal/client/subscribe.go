package client

import (
	"context"
	"fmt"
	"time"

	"github.com/tenzoki/htcp/internal/wire"
)

// Subscription is the handle returned by Subscribe (spec section 4.6):
// entering it already sent SUBSCRIBE; Next yields decoded items; Close
// sends CANCEL if not already terminated and waits for the terminal
// frame, implementing the source's scoped-acquisition idiom as an
// explicit Close rather than a context manager.
type Subscription[I any] struct {
	client *Client
	corr   uint64
	sub    *openSubscription
}

// Subscribe opens a subscription by event_type (spec section 4.6).
//
// Grounded on cellorg/internal/client/broker.go's subscribe path,
// generalised from the teacher's single fan-out topic list to per-call
// open-subscription tracking keyed by correlation id.
func Subscribe[P any, I any](ctx context.Context, c *Client, eventType string, params P) (*Subscription[I], error) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return nil, c.notConnectedErr()
	}

	args, err := wire.EncodeGo(params)
	if err != nil {
		return nil, fmt.Errorf("client: encode args: %w", err)
	}
	var argsMap wire.Map
	switch args.Tag {
	case wire.TagRecord:
		argsMap = args.Record.Fields
	case wire.TagMap:
		argsMap = args.Map
	default:
		return nil, fmt.Errorf("client: subscribe params must encode to a mapping or record")
	}

	corr := c.nextCorrelationID()
	os := &openSubscription{
		items:      make(chan wire.Value, 16),
		terminated: make(chan error, 1),
	}
	c.subMu.Lock()
	c.subs[corr] = os
	c.subMu.Unlock()

	payload, err := wire.EncodeValue(wire.MapValue(wire.Map{
		{Key: "event_type", Value: wire.StringValue(eventType)},
		{Key: "args", Value: wire.MapValue(argsMap)},
	}))
	if err != nil {
		c.subMu.Lock()
		delete(c.subs, corr)
		c.subMu.Unlock()
		return nil, fmt.Errorf("client: encode subscribe payload: %w", err)
	}

	if err := c.writeFrame(conn, wire.Frame{Kind: wire.KindSubscribe, CorrelationID: corr, Payload: payload}); err != nil {
		c.subMu.Lock()
		delete(c.subs, corr)
		c.subMu.Unlock()
		return nil, fmt.Errorf("client: write SUBSCRIBE: %w", err)
	}

	return &Subscription[I]{client: c, corr: corr, sub: os}, nil
}

// Next blocks for the next item, decoding it into I. The second return
// value is false once the subscription has reached its terminal frame;
// err is non-nil only if the terminal frame carried an error.
func (s *Subscription[I]) Next(ctx context.Context) (I, bool, error) {
	var zero I
	select {
	case v, ok := <-s.sub.items:
		if !ok {
			select {
			case err := <-s.sub.terminated:
				return zero, false, err
			default:
				return zero, false, nil
			}
		}
		var item I
		if err := wire.DecodeGo(v, &item); err != nil {
			return zero, false, fmt.Errorf("client: decode item: %w", err)
		}
		return item, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// Close sends CANCEL (if the subscription hasn't already terminated) and
// waits up to grace for the terminal frame, discarding any items that
// arrive meanwhile. A grace of 0 uses the client's configured disconnect
// grace. The subscription leaves the client's table when its terminal
// frame arrives; if none arrives within grace, Close returns anyway and
// the entry stays until one does.
func (s *Subscription[I]) Close(grace time.Duration) error {
	s.client.subMu.Lock()
	_, stillOpen := s.client.subs[s.corr]
	s.client.subMu.Unlock()

	if stillOpen {
		s.client.mu.Lock()
		conn := s.client.conn
		s.client.mu.Unlock()
		if conn != nil {
			_ = s.client.writeFrame(conn, wire.Frame{Kind: wire.KindCancel, CorrelationID: s.corr})
		}
	}

	if grace <= 0 {
		grace = s.client.cfg.DisconnectGrace
	}
	// Items are drained rather than left queued, so the reader goroutine
	// is never stuck on a full items channel with the terminal frame
	// behind it. items is closed once the terminal frame has arrived.
	timeout := time.After(grace)
	for {
		select {
		case _, open := <-s.sub.items:
			if !open {
				return nil
			}
		case <-timeout:
			return nil
		}
	}
}
