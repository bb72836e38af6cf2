package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tenzoki/htcp/internal/registry"
	"github.com/tenzoki/htcp/internal/wire"
)

// SubscriptionRun is one open SUBSCRIBE's worth of state: the producer
// goroutine running the handler, and the cancellation plumbing spec
// section 4.5 requires (CANCEL triggers cooperative shutdown; a deadline
// forces it if the handler doesn't notice in time).
type SubscriptionRun struct {
	CorrelationID uint64
	Endpoint      *registry.Endpoint

	cancel context.CancelFunc
	done   chan struct{}

	// settled closes once the terminal frame has been sent (or its send
	// attempted) by whichever of the producer goroutine or the
	// cancel-deadline watcher wins the terminated race. Unlike done,
	// which only closes once the handler goroutine itself returns,
	// settled is the signal serveConnection waits on at shutdown: a
	// handler that ignores its cancelled context may never return, but
	// the watcher still forces the terminal frame (and closes settled)
	// once grace elapses.
	settled chan struct{}

	// terminated guards against both the handler goroutine and the
	// cancel-deadline watcher racing to send the terminal frame and
	// remove the run from the connection's subscription map.
	terminated atomic.Bool
}

// runSubscription starts the producer goroutine for a SUBSCRIBE request.
// serverCtx is cancelled on server shutdown, which in turn cancels every
// open subscription's own context.
func runSubscription(conn *Connection, corr uint64, ep *registry.Endpoint, args wire.Map, serverCtx context.Context) *SubscriptionRun {
	ctx, cancel := context.WithCancel(serverCtx)
	run := &SubscriptionRun{
		CorrelationID: corr,
		Endpoint:      ep,
		cancel:        cancel,
		done:          make(chan struct{}),
		settled:       make(chan struct{}),
	}
	conn.addSubscription(run)

	go func() {
		defer close(run.done)

		emit := func(v wire.Value) error {
			if run.terminated.Load() {
				return context.Canceled
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			payload, err := wire.EncodeValue(v)
			if err != nil {
				return err
			}
			return conn.enqueueBlocking(ctx, wire.Frame{Kind: wire.KindItem, CorrelationID: corr, Payload: payload})
		}

		handlerErr := ep.Subscription(ctx, args, emit)

		if !run.terminated.CompareAndSwap(false, true) {
			// The cancel-deadline watcher already declared this run
			// abandoned and sent its own terminal frame.
			return
		}
		terminal := terminalFrame(corr, ctx, handlerErr)
		// The subscription's own ctx may already be cancelled here, so
		// the terminal frame is sent with context.Background(): it waits
		// for queue space instead of being dropped. writeLoop keeps
		// draining after a write error, and enqueueBlocking returns at
		// once when the outbound queue is already closed.
		_ = conn.enqueueBlocking(context.Background(), terminal)
		conn.removeSubscription(corr)
		close(run.settled)
	}()

	return run
}

// terminalFrame builds the END or ERROR frame that closes out a
// subscription, per spec section 4.5: a plain exhaustion is END(null); a
// cancelled subscription is END({reason: "cancelled"}); a handler error is
// ERROR(handler_error) unless the handler's own error already carries a
// wire error kind.
func terminalFrame(corr uint64, ctx context.Context, handlerErr error) wire.Frame {
	if ctx.Err() != nil {
		payload, _ := wire.EncodeValue(wire.MapValue(wire.Map{
			{Key: "reason", Value: wire.StringValue("cancelled")},
		}))
		return wire.Frame{Kind: wire.KindEnd, CorrelationID: corr, Payload: payload}
	}
	if handlerErr != nil {
		werr, ok := wire.AsError(handlerErr)
		if !ok {
			werr = wire.NewError(wire.ErrHandlerError, handlerErr.Error())
		}
		payload, _ := wire.EncodeValue(wire.MapValue(wire.Map{
			{Key: "kind", Value: wire.StringValue(string(werr.Kind))},
			{Key: "message", Value: wire.StringValue(werr.Message)},
		}))
		return wire.Frame{Kind: wire.KindError, CorrelationID: corr, Payload: payload}
	}
	payload, _ := wire.EncodeValue(wire.Null())
	return wire.Frame{Kind: wire.KindEnd, CorrelationID: corr, Payload: payload}
}

// cancelSubscription implements the CANCEL side of spec section 4.5: it
// signals the handler's context and, if the handler hasn't wound down
// within grace, force-abandons it — sending the terminal frame itself and
// forgetting the run so a late handler emit is silently dropped.
func cancelSubscription(conn *Connection, run *SubscriptionRun, grace time.Duration) {
	run.cancel()
	go func() {
		select {
		case <-run.done:
			return
		case <-time.After(grace):
		}
		if !run.terminated.CompareAndSwap(false, true) {
			return
		}
		payload, _ := wire.EncodeValue(wire.MapValue(wire.Map{
			{Key: "reason", Value: wire.StringValue("cancelled")},
		}))
		_ = conn.enqueueBlocking(context.Background(), wire.Frame{
			Kind:          wire.KindEnd,
			CorrelationID: run.CorrelationID,
			Payload:       payload,
		})
		conn.removeSubscription(run.CorrelationID)
		close(run.settled)
	}()
}
