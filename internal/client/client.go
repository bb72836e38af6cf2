// Package client implements the HTCP client multiplexer (spec section
// 4.6): one connection shared by concurrent calls and open subscriptions,
// a single reader goroutine routing incoming frames by correlation id.
package client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tenzoki/htcp/internal/wire"
)

// Config carries the server_host and server_port of create_client (spec
// section 6) plus the protocol tuning a rewrite needs: payload ceiling and
// the deadline disconnect() waits for outstanding subscriptions to
// terminate. The logger is not part of Config; it is passed to
// CreateClient.
type Config struct {
	Host             string
	Port             int
	MaxPayload       uint32
	DialTimeout      time.Duration
	DisconnectGrace  time.Duration
	Debug            bool
}

// DefaultConfig mirrors server.DefaultConfig's role on the client side.
func DefaultConfig() Config {
	return Config{
		MaxPayload:      16 * 1024 * 1024,
		DialTimeout:     5 * time.Second,
		DisconnectGrace: 3 * time.Second,
	}
}

// ServerInfo is the cached server-info record from HELLO/WELCOME, also
// returned by server_info() before connect (spec section 4.6).
type ServerInfo struct {
	ServerName         string
	Host               string
	Port               int
	Connected          bool
	ExposeTransactions bool
	Transactions       []string
}

// pendingCall is one in-flight CALL awaiting REPLY/ERROR.
type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	value wire.Value
	err   error
}

// openSubscription is one in-flight SUBSCRIBE awaiting ITEM/END/ERROR.
type openSubscription struct {
	items      chan wire.Value
	terminated chan error // closed-then-readable once a terminal frame arrived; carries nil or the error
	once       sync.Once
}

func (o *openSubscription) terminate(err error) {
	o.once.Do(func() {
		o.terminated <- err
		close(o.terminated)
		close(o.items)
	})
}

// Client is a single HTCP connection plus its demultiplexing state.
//
// Grounded on cellorg/internal/client/broker.go's BrokerClient: one
// persistent connection, a correlation/request-id counter, a
// mutex-guarded map of pending responses, and a dedicated reader
// goroutine that demultiplexes incoming messages onto those waiters.
type Client struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	info    ServerInfo
	closed  bool
	readErr error

	// writeMu serialises every frame write on conn: Call, Subscribe, and
	// Cancel (via Subscription.Close or Disconnect) can all run
	// concurrently on the one shared connection (spec section 4.6), and
	// wire.WriteFrame's header-then-payload writes must not interleave
	// between them.
	writeMu sync.Mutex

	corr atomic.Uint64

	callMu sync.Mutex
	calls  map[uint64]*pendingCall

	subMu sync.Mutex
	subs  map[uint64]*openSubscription

	readerDone chan struct{}
}

// CreateClient constructs a Client bound to cfg. It does not dial; call
// Connect for that.
func CreateClient(cfg Config, logger *log.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		calls:  make(map[uint64]*pendingCall),
		subs:   make(map[uint64]*openSubscription),
		info:   ServerInfo{ServerName: "unknown", Host: "", Port: 0, Connected: false},
	}
}

// Connect opens the socket, performs the HELLO/WELCOME handshake, caches
// the server-info record, and starts the reader goroutine.
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}

	reader := bufio.NewReader(conn)
	if err := c.writeFrame(conn, wire.Frame{Kind: wire.KindHello, CorrelationID: 0}); err != nil {
		conn.Close()
		return fmt.Errorf("client: write HELLO: %w", err)
	}
	welcome, err := wire.ReadFrame(reader, c.maxPayload())
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: read WELCOME: %w", err)
	}
	if welcome.Kind != wire.KindWelcome {
		conn.Close()
		return fmt.Errorf("client: expected WELCOME, got %s", welcome.Kind)
	}
	info, err := decodeServerInfo(welcome.Payload)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: decode WELCOME: %w", err)
	}
	info.Connected = true

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.info = info
	c.closed = false
	c.readErr = nil
	c.mu.Unlock()

	c.readerDone = make(chan struct{})
	go c.readLoop()
	return nil
}

func (c *Client) maxPayload() uint32 {
	if c.cfg.MaxPayload == 0 {
		return wire.DefaultMaxPayload
	}
	return c.cfg.MaxPayload
}

func decodeServerInfo(payload []byte) (ServerInfo, error) {
	v, err := wire.DecodeValue(payload)
	if err != nil {
		return ServerInfo{}, err
	}
	if v.Tag != wire.TagMap {
		return ServerInfo{}, fmt.Errorf("server-info payload is not a mapping")
	}
	info := ServerInfo{}
	if name, ok := v.Map.Get("server_name"); ok {
		info.ServerName = name.Str
	}
	if host, ok := v.Map.Get("host"); ok {
		info.Host = host.Str
	}
	if port, ok := v.Map.Get("port"); ok {
		info.Port = int(port.Int)
	}
	if expose, ok := v.Map.Get("expose_transactions"); ok {
		info.ExposeTransactions = expose.Bool
	}
	if txs, ok := v.Map.Get("transactions"); ok && txs.Tag == wire.TagSeq {
		info.Transactions = make([]string, len(txs.Seq))
		for i, t := range txs.Seq {
			info.Transactions[i] = t.Str
		}
	}
	return info, nil
}

// ServerInfo returns the cached server-info record (spec section 4.6).
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// notConnectedErr reports why Call/Subscribe can't proceed: the specific
// transport failure the reader observed, if any, rather than a generic
// "not connected".
func (c *Client) notConnectedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("client: not connected: %w", c.readErr)
	}
	return fmt.Errorf("client: not connected")
}

// nextCorrelationID allocates a monotonically increasing, connection-wide
// unique correlation id (spec section 4.6 / invariant 2).
func (c *Client) nextCorrelationID() uint64 {
	return c.corr.Add(1)
}

// writeFrame writes f to conn under writeMu, the one serialisation point
// for every outbound frame regardless of which goroutine (Call, Subscribe,
// or a CANCEL send) produced it.
func (c *Client) writeFrame(conn net.Conn, f wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(conn, f)
}

// readLoop is the client's single demultiplexing reader (spec section
// 4.6's dispatch table).
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		c.mu.Lock()
		reader := c.reader
		c.mu.Unlock()

		frame, err := wire.ReadFrame(reader, c.maxPayload())
		if err != nil {
			c.failAll(fmt.Errorf("client: connection lost: %w", err))
			return
		}

		switch frame.Kind {
		case wire.KindReply:
			c.settleCall(frame.CorrelationID, callResult{value: mustDecode(frame.Payload)})
		case wire.KindError:
			c.dispatchError(frame)
		case wire.KindItem:
			c.dispatchItem(frame)
		case wire.KindEnd:
			c.dispatchEnd(frame.CorrelationID)
		default:
			if c.logger != nil && c.cfg.Debug {
				c.logger.Printf("client: ignoring unexpected frame kind %s", frame.Kind)
			}
		}
	}
}

func mustDecode(payload []byte) wire.Value {
	v, err := wire.DecodeValue(payload)
	if err != nil {
		return wire.Null()
	}
	return v
}

func (c *Client) dispatchError(frame wire.Frame) {
	v, err := wire.DecodeValue(frame.Payload)
	var werr error
	if err != nil {
		werr = err
	} else {
		kind, _ := v.Map.Get("kind")
		msg, _ := v.Map.Get("message")
		werr = wire.NewError(wire.ErrorKind(kind.Str), msg.Str)
	}

	c.callMu.Lock()
	if pc, ok := c.calls[frame.CorrelationID]; ok {
		delete(c.calls, frame.CorrelationID)
		c.callMu.Unlock()
		pc.resultCh <- callResult{err: werr}
		return
	}
	c.callMu.Unlock()

	c.subMu.Lock()
	if os, ok := c.subs[frame.CorrelationID]; ok {
		delete(c.subs, frame.CorrelationID)
		c.subMu.Unlock()
		os.terminate(werr)
		return
	}
	c.subMu.Unlock()
}

func (c *Client) dispatchItem(frame wire.Frame) {
	v, err := wire.DecodeValue(frame.Payload)
	if err != nil {
		return
	}
	c.subMu.Lock()
	os, ok := c.subs[frame.CorrelationID]
	c.subMu.Unlock()
	if !ok {
		return
	}
	// A slow consumer stalls the single reader goroutine rather than
	// dropping items, preserving ordering (spec section 4.5).
	os.items <- v
}

func (c *Client) dispatchEnd(corr uint64) {
	c.subMu.Lock()
	os, ok := c.subs[corr]
	if ok {
		delete(c.subs, corr)
	}
	c.subMu.Unlock()
	if ok {
		os.terminate(nil)
	}
}

func (c *Client) settleCall(corr uint64, result callResult) {
	c.callMu.Lock()
	pc, ok := c.calls[corr]
	if ok {
		delete(c.calls, corr)
	}
	c.callMu.Unlock()
	if ok {
		pc.resultCh <- result
	}
}

// failAll settles every outstanding PendingCall and OpenSubscription with
// a transport error, per spec section 7's client-side propagation policy.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	c.closed = true
	c.readErr = err
	c.info.Connected = false
	c.mu.Unlock()

	werr := wire.NewError(wire.ErrTransport, err.Error())

	c.callMu.Lock()
	calls := c.calls
	c.calls = make(map[uint64]*pendingCall)
	c.callMu.Unlock()
	for _, pc := range calls {
		pc.resultCh <- callResult{err: werr}
	}

	c.subMu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*openSubscription)
	c.subMu.Unlock()
	for _, os := range subs {
		os.terminate(werr)
	}
}

// Disconnect sends CANCEL for every open subscription, waits up to
// DisconnectGrace for terminators, then closes the socket (spec section
// 4.6).
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	alreadyClosed := c.closed
	c.mu.Unlock()
	if conn == nil || alreadyClosed {
		return nil
	}

	c.subMu.Lock()
	var corrs []uint64
	for corr := range c.subs {
		corrs = append(corrs, corr)
	}
	c.subMu.Unlock()

	for _, corr := range corrs {
		_ = c.writeFrame(conn, wire.Frame{Kind: wire.KindCancel, CorrelationID: corr})
	}

	deadline := time.Now().Add(c.cfg.DisconnectGrace)
	for _, corr := range corrs {
		c.subMu.Lock()
		os, ok := c.subs[corr]
		c.subMu.Unlock()
		if !ok {
			continue
		}
		// Drain items so the reader can reach the terminal frame; items
		// is closed once it has arrived.
	wait:
		for {
			select {
			case _, open := <-os.items:
				if !open {
					break wait
				}
			case <-time.After(time.Until(deadline)):
				break wait
			}
		}
	}

	c.mu.Lock()
	c.closed = true
	c.info.Connected = false
	c.mu.Unlock()

	err := conn.Close()
	<-c.readerDone
	return err
}
