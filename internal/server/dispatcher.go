package server

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/tenzoki/htcp/internal/wire"
)

// serveConnection runs one accepted connection end to end: the HELLO
// handshake, then the CALL/SUBSCRIBE/CANCEL/INFO_REQ dispatch loop of spec
// section 4.4, until the peer disconnects or the server is shutting down.
//
// Grounded on cellorg/internal/broker/service.go's handleConnection: a
// buffered reader loop decoding one message at a time, a dedicated writer
// goroutine draining an outbound channel, and per-message dispatch
// spawned so a slow handler never stalls the reader.
func (s *Service) serveConnection(conn net.Conn) {
	c := newConnection(conn, s.cfg.MaxPayload, s.cfg.OutboundQueueSize, s.cfg.CancelGrace)
	s.addConnection(c)
	defer s.removeConnection(c)
	defer conn.Close()

	if s.logger != nil && s.cfg.Debug {
		s.logger.Printf("server: accepted connection %s from %s", c.ID, c.peerAddr)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c)
	}()

	reader := bufio.NewReader(conn)

	if !s.handshake(c, reader) {
		c.setState(stateClosing)
		c.closeOutbound()
		<-writerDone
		return
	}
	c.setState(stateReady)

	s.dispatchLoop(c, reader)

	c.setState(stateClosing)
	s.drainAndClose(c)
	<-writerDone
	c.setState(stateClosed)
}

// drainAndClose implements spec section 4.4's closing state: cancel every
// open subscription and wait, until one shared deadline of cancelGrace
// plus one second, for all of them to send their terminal frames
// (cancelSubscription itself force-abandons any that don't wind down
// cooperatively within cancelGrace; the extra second lets that forced
// frame be enqueued), then wait up to
// cancelGrace for any in-flight CALL/INFO_REQ goroutine to finish, then
// close the outbound queue. closeOutbound's own locking makes the close
// safe even if a goroutine is still racing to enqueue past either
// deadline.
func (s *Service) drainAndClose(c *Connection) {
	runs := c.subscriptionRuns()
	for _, run := range runs {
		cancelSubscription(c, run, c.cancelGrace)
	}
	deadline := time.Now().Add(c.cancelGrace + time.Second)
	for _, run := range runs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-run.settled:
		case <-time.After(remaining):
		}
	}

	handlersDone := make(chan struct{})
	go func() {
		c.handlerWG.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-time.After(c.cancelGrace):
	}

	c.closeOutbound()
}

// writeLoop drains the outbound queue until it's closed, writing each
// frame to the socket. A write error means the peer is gone; the loop
// keeps draining (without writing) so producers blocked in
// enqueueBlocking are released instead of deadlocking against a dead
// socket.
func (s *Service) writeLoop(c *Connection) {
	failed := false
	for f := range c.outbound {
		if failed {
			continue
		}
		if err := wire.WriteFrame(c.conn, f); err != nil {
			failed = true
			if s.logger != nil && s.cfg.Debug {
				s.logger.Printf("server: connection %s write error: %v", c.ID, err)
			}
		}
	}
}

// serverInfo builds the server-info record shared by WELCOME and
// INFO_REP, per spec section 4.4 / 6.
func (s *Service) serverInfo() wire.Value {
	entries := wire.Map{
		{Key: "server_name", Value: wire.StringValue(s.cfg.ServerName)},
		{Key: "host", Value: wire.StringValue(s.cfg.Host)},
		{Key: "port", Value: wire.IntValue(int64(s.cfg.Port))},
		{Key: "expose_transactions", Value: wire.BoolValue(s.cfg.ExposeTransactions)},
	}
	if s.cfg.ExposeTransactions {
		entries = append(entries, wire.MapEntry{Key: "transactions", Value: stringSeq(s.registry.TransactionCodes())})
	} else {
		entries = append(entries, wire.MapEntry{Key: "transactions", Value: wire.Null()})
	}
	return wire.MapValue(entries)
}

func stringSeq(ss []string) wire.Value {
	seq := make([]wire.Value, len(ss))
	for i, s := range ss {
		seq[i] = wire.StringValue(s)
	}
	return wire.SeqValue(seq)
}

// handshake reads the client's HELLO and replies WELCOME (spec section
// 4.4). Returns false if the handshake failed and the connection should
// be torn down without ever reaching the ready state. The read is bounded
// by cfg.HandshakeTimeout so a peer that connects and never sends HELLO
// doesn't hold a connection slot forever.
func (s *Service) handshake(c *Connection, reader *bufio.Reader) bool {
	if s.cfg.HandshakeTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	frame, err := wire.ReadFrame(reader, c.maxPayload)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("server: connection %s handshake read failed: %v", c.ID, err)
		}
		return false
	}
	if frame.Kind != wire.KindHello {
		if s.logger != nil {
			s.logger.Printf("server: connection %s sent %s before HELLO", c.ID, frame.Kind)
		}
		return false
	}

	payload, err := wire.EncodeValue(s.serverInfo())
	if err != nil {
		return false
	}
	return c.enqueueNonBlocking(wire.Frame{Kind: wire.KindWelcome, CorrelationID: frame.CorrelationID, Payload: payload}) == nil
}

// dispatchLoop is the steady-state reader: one ReadFrame per iteration,
// routed by kind. CALL handlers run on their own goroutine so a slow one
// never blocks the next frame from being read; SUBSCRIBE starts its own
// producer goroutine and returns immediately for the same reason.
func (s *Service) dispatchLoop(c *Connection, reader *bufio.Reader) {
	for {
		frame, err := wire.ReadFrame(reader, c.maxPayload)
		if err != nil {
			if s.logger != nil && s.cfg.Debug {
				s.logger.Printf("server: connection %s read ended: %v", c.ID, err)
			}
			return
		}
		c.touch()

		switch frame.Kind {
		case wire.KindCall:
			c.handlerWG.Add(1)
			go func(frame wire.Frame) {
				defer c.handlerWG.Done()
				s.handleCall(c, frame)
			}(frame)
		case wire.KindSubscribe:
			s.handleSubscribe(c, frame)
		case wire.KindCancel:
			s.handleCancel(c, frame)
		case wire.KindInfoReq:
			c.handlerWG.Add(1)
			go func(frame wire.Frame) {
				defer c.handlerWG.Done()
				s.handleInfoReq(c, frame)
			}(frame)
		default:
			// Unknown frame kind is a protocol error, but per spec
			// section 4.4 it does not terminate the connection.
			s.sendError(c, frame.CorrelationID, wire.NewError(wire.ErrProtocol, fmt.Sprintf("unknown frame kind %s", frame.Kind)))
		}
	}
}

func (s *Service) sendError(c *Connection, corr uint64, werr *wire.Error) {
	payload, _ := wire.EncodeValue(wire.MapValue(wire.Map{
		{Key: "kind", Value: wire.StringValue(string(werr.Kind))},
		{Key: "message", Value: wire.StringValue(werr.Message)},
	}))
	if err := c.enqueueNonBlocking(wire.Frame{Kind: wire.KindError, CorrelationID: corr, Payload: payload}); err != nil {
		if s.logger != nil {
			s.logger.Printf("server: connection %s dropped while sending error: %v", c.ID, err)
		}
	}
}

// requestEnvelope is the decoded payload of both a CALL and a SUBSCRIBE
// frame: {transaction|event_type: string, args: mapping}.
type requestEnvelope struct {
	Code string
	Args wire.Map
}

func decodeRequest(payload []byte, codeKey string) (requestEnvelope, error) {
	v, err := wire.DecodeValue(payload)
	if err != nil {
		return requestEnvelope{}, wire.NewError(wire.ErrProtocol, "malformed request payload: "+err.Error())
	}
	if v.Tag != wire.TagMap {
		return requestEnvelope{}, wire.NewError(wire.ErrProtocol, "request payload must be a mapping")
	}
	codeVal, ok := v.Map.Get(codeKey)
	if !ok || codeVal.Tag != wire.TagString {
		return requestEnvelope{}, wire.NewError(wire.ErrProtocol, fmt.Sprintf("request payload missing %q", codeKey))
	}
	var args wire.Map
	if argsVal, ok := v.Map.Get("args"); ok {
		if argsVal.Tag != wire.TagMap {
			return requestEnvelope{}, wire.NewError(wire.ErrBadRequest, "args must be a mapping")
		}
		args = argsVal.Map
	}
	return requestEnvelope{Code: codeVal.Str, Args: args}, nil
}

// handleCall services one CALL frame (spec section 4.4): look up the
// transaction, bind and run it, and reply with REPLY or ERROR.
func (s *Service) handleCall(c *Connection, frame wire.Frame) {
	req, err := decodeRequest(frame.Payload, "transaction")
	if err != nil {
		werr, _ := wire.AsError(err)
		s.sendError(c, frame.CorrelationID, werr)
		return
	}

	ep, ok := s.registry.Transaction(req.Code)
	if !ok {
		s.sendError(c, frame.CorrelationID, wire.NewError(wire.ErrUnknownEndpoint, fmt.Sprintf("no transaction registered for %q", req.Code)))
		return
	}

	result, err := ep.Transaction(s.rootCtx, req.Args)
	if err != nil {
		werr, ok := wire.AsError(err)
		if !ok {
			werr = wire.NewError(wire.ErrHandlerError, err.Error())
		}
		s.sendError(c, frame.CorrelationID, werr)
		return
	}

	payload, err := wire.EncodeValue(result)
	if err != nil {
		s.sendError(c, frame.CorrelationID, wire.NewError(wire.ErrEncoding, err.Error()))
		return
	}
	if err := c.enqueueNonBlocking(wire.Frame{Kind: wire.KindReply, CorrelationID: frame.CorrelationID, Payload: payload}); err != nil {
		if s.logger != nil {
			s.logger.Printf("server: connection %s dropped reply for corr %d: %v", c.ID, frame.CorrelationID, err)
		}
	}
}

// handleSubscribe services one SUBSCRIBE frame (spec section 4.5).
func (s *Service) handleSubscribe(c *Connection, frame wire.Frame) {
	req, err := decodeRequest(frame.Payload, "event_type")
	if err != nil {
		werr, _ := wire.AsError(err)
		s.sendError(c, frame.CorrelationID, werr)
		return
	}

	ep, ok := s.registry.Subscription(req.Code)
	if !ok {
		s.sendError(c, frame.CorrelationID, wire.NewError(wire.ErrUnknownEndpoint, fmt.Sprintf("no subscription registered for %q", req.Code)))
		return
	}

	runSubscription(c, frame.CorrelationID, ep, req.Args, s.rootCtx)
}

// handleCancel services one CANCEL frame (spec section 4.5): signal the
// matching SubscriptionRun's cancel flag. A CANCEL for an unknown or
// already-terminated correlation id is ignored.
func (s *Service) handleCancel(c *Connection, frame wire.Frame) {
	run, ok := c.getSubscription(frame.CorrelationID)
	if !ok {
		return
	}
	cancelSubscription(c, run, c.cancelGrace)
}

// handleInfoReq replies INFO_REP with the same server-info record WELCOME
// carries (spec section 4.4).
func (s *Service) handleInfoReq(c *Connection, frame wire.Frame) {
	payload, err := wire.EncodeValue(s.serverInfo())
	if err != nil {
		s.sendError(c, frame.CorrelationID, wire.NewError(wire.ErrEncoding, err.Error()))
		return
	}
	if err := c.enqueueNonBlocking(wire.Frame{Kind: wire.KindInfoRep, CorrelationID: frame.CorrelationID, Payload: payload}); err != nil {
		if s.logger != nil {
			s.logger.Printf("server: connection %s dropped info reply: %v", c.ID, err)
		}
	}
}
