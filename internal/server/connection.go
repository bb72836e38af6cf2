// Package server implements the HTCP server-side connection lifecycle,
// dispatcher, and subscription engine described in spec sections 4.4 and
// 4.5.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tenzoki/htcp/internal/wire"
)

// connState is the connection lifecycle state from spec section 4.4:
// handshaking -> ready -> closing -> closed.
type connState int32

const (
	stateHandshaking connState = iota
	stateReady
	stateClosing
	stateClosed
)

// Connection is one accepted socket and everything hung off it: the
// outbound queue every writer on this connection serialises through, and
// the open-subscription map the reader and terminating producers mutate
// under a small lock (spec section 5).
//
// Grounded on cellorg/internal/broker/service.go's Connection struct
// (ID/Conn/Encoder/Decoder/AgentID/LastSeen), generalised from a
// JSON-over-socket pair to the binary frame codec and given the
// subscription bookkeeping the teacher's broker never needed.
type Connection struct {
	ID       string
	conn     net.Conn
	peerAddr string

	maxPayload  uint32
	cancelGrace time.Duration

	// outboundMu guards outboundClosed and the close(outbound) call
	// itself: enqueueNonBlocking/enqueueBlocking hold the read side
	// while they send, so a send can never race the channel closing
	// out from under it (a send on a closed channel panics even inside
	// a select/default).
	outboundMu     sync.RWMutex
	outbound       chan wire.Frame
	outboundClosed bool

	// handlerWG tracks the goroutines spawned per CALL/INFO_REQ frame,
	// so serveConnection can wait for them to finish before it closes
	// the outbound queue.
	handlerWG sync.WaitGroup

	subsMu sync.Mutex
	subs   map[uint64]*SubscriptionRun

	state atomic.Int32

	lastSeen atomic.Int64 // unix nanos, updated on every inbound frame
}

func newConnection(conn net.Conn, maxPayload uint32, outboundSize int, cancelGrace time.Duration) *Connection {
	c := &Connection{
		ID:          uuid.New().String(),
		conn:        conn,
		peerAddr:    conn.RemoteAddr().String(),
		maxPayload:  maxPayload,
		cancelGrace: cancelGrace,
		outbound:    make(chan wire.Frame, outboundSize),
		subs:        make(map[uint64]*SubscriptionRun),
	}
	c.state.Store(int32(stateHandshaking))
	c.touch()
	return c
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Connection) setState(s connState) {
	c.state.Store(int32(s))
}

// enqueueNonBlocking offers frame to the outbound queue without blocking,
// used for REPLY/ERROR/WELCOME/INFO_REP frames. A full queue is the
// backpressure condition from spec section 7: it fails the connection by
// closing the socket, which ends the reader loop and starts the closing
// sequence, and returns a backpressure error.
func (c *Connection) enqueueNonBlocking(f wire.Frame) error {
	c.outboundMu.RLock()
	defer c.outboundMu.RUnlock()
	if c.outboundClosed {
		return wire.NewError(wire.ErrBackpressure, "connection closing")
	}
	select {
	case c.outbound <- f:
		return nil
	default:
		c.conn.Close()
		return wire.NewError(wire.ErrBackpressure, "outbound queue full")
	}
}

// enqueueBlocking offers frame to the outbound queue, blocking until
// either it is accepted or ctx is done. Subscription producers use this:
// spec section 4.5's slow-consumer policy requires a full queue to block
// the producer (propagating backpressure to the handler), not fail the
// connection the way a one-shot reply does.
func (c *Connection) enqueueBlocking(ctx context.Context, f wire.Frame) error {
	c.outboundMu.RLock()
	defer c.outboundMu.RUnlock()
	if c.outboundClosed {
		return wire.NewError(wire.ErrTransport, "connection closing")
	}
	select {
	case c.outbound <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeOutbound closes the outbound queue under the write side of
// outboundMu, so any enqueue already past the outboundClosed check is
// guaranteed to finish its send before the channel closes — this is what
// makes it safe for late subscription or handler goroutines to still be
// racing to send when serveConnection decides to stop waiting for them.
func (c *Connection) closeOutbound() {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()
	if c.outboundClosed {
		return
	}
	c.outboundClosed = true
	close(c.outbound)
}

func (c *Connection) addSubscription(run *SubscriptionRun) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[run.CorrelationID] = run
}

func (c *Connection) getSubscription(corr uint64) (*SubscriptionRun, bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	run, ok := c.subs[corr]
	return run, ok
}

func (c *Connection) removeSubscription(corr uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, corr)
}

// subscriptionRuns returns a snapshot of all currently open subscriptions,
// used when closing the connection to cancel every one of them.
func (c *Connection) subscriptionRuns() []*SubscriptionRun {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	runs := make([]*SubscriptionRun, 0, len(c.subs))
	for _, run := range c.subs {
		runs = append(runs, run)
	}
	return runs
}
