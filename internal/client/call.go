package client

import (
	"context"
	"fmt"

	"github.com/tenzoki/htcp/internal/wire"
)

// Call invokes a transaction by code (spec section 4.6): allocates a
// correlation id, sends CALL, blocks until the PendingCall settles, and
// decodes the result into R.
//
// Grounded on cellorg/internal/client/broker.go's request/response call
// path: allocate an id, register a waiter, send, block on the waiter
// channel, honour ctx cancellation while waiting.
func Call[P any, R any](ctx context.Context, c *Client, transaction string, params P) (R, error) {
	var zero R

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return zero, c.notConnectedErr()
	}

	args, err := wire.EncodeGo(params)
	if err != nil {
		return zero, fmt.Errorf("client: encode args: %w", err)
	}
	var argsMap wire.Map
	switch args.Tag {
	case wire.TagRecord:
		argsMap = args.Record.Fields
	case wire.TagMap:
		argsMap = args.Map
	default:
		return zero, fmt.Errorf("client: call params must encode to a mapping or record")
	}

	corr := c.nextCorrelationID()
	pc := &pendingCall{resultCh: make(chan callResult, 1)}
	c.callMu.Lock()
	c.calls[corr] = pc
	c.callMu.Unlock()

	payload, err := wire.EncodeValue(wire.MapValue(wire.Map{
		{Key: "transaction", Value: wire.StringValue(transaction)},
		{Key: "args", Value: wire.MapValue(argsMap)},
	}))
	if err != nil {
		c.callMu.Lock()
		delete(c.calls, corr)
		c.callMu.Unlock()
		return zero, fmt.Errorf("client: encode call payload: %w", err)
	}

	if err := c.writeFrame(conn, wire.Frame{Kind: wire.KindCall, CorrelationID: corr, Payload: payload}); err != nil {
		c.callMu.Lock()
		delete(c.calls, corr)
		c.callMu.Unlock()
		return zero, fmt.Errorf("client: write CALL: %w", err)
	}

	select {
	case res := <-pc.resultCh:
		if res.err != nil {
			return zero, res.err
		}
		var result R
		if err := wire.DecodeGo(res.value, &result); err != nil {
			return zero, fmt.Errorf("client: decode result: %w", err)
		}
		return result, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
