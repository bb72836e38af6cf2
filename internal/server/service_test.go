package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tenzoki/htcp/internal/registry"
	"github.com/tenzoki/htcp/internal/wire"
)

type welcomeArgs struct {
	ClientName string `htcp:"client_name"`
}

type counterArgs struct {
	Start int `htcp:"start" default:"0"`
	Step  int `htcp:"step" default:"1"`
}

func startTestServer(t *testing.T, configure func(reg *registry.Registry)) (*Service, net.Conn, wire.Frame) {
	t.Helper()
	reg := registry.New()
	configure(reg)

	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.ServerName = "test"
	svc := CreateServer(cfg, reg, nil)
	if err := svc.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	t.Cleanup(func() { svc.Down() })

	conn, err := net.DialTimeout("tcp", svc.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindHello, CorrelationID: 1}); err != nil {
		t.Fatalf("write HELLO: %v", err)
	}
	welcome, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("read WELCOME: %v", err)
	}
	if welcome.Kind != wire.KindWelcome {
		t.Fatalf("expected WELCOME, got %s", welcome.Kind)
	}

	return svc, conn, welcome
}

func sendCall(t *testing.T, conn net.Conn, corr uint64, transaction string, args wire.Map) {
	t.Helper()
	payload, err := wire.EncodeValue(wire.MapValue(wire.Map{
		{Key: "transaction", Value: wire.StringValue(transaction)},
		{Key: "args", Value: wire.MapValue(args)},
	}))
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindCall, CorrelationID: corr, Payload: payload}); err != nil {
		t.Fatalf("write CALL: %v", err)
	}
}

func TestHandshakeWelcomeListsTransactions(t *testing.T) {
	_, _, welcome := startTestServer(t, func(reg *registry.Registry) {
		_ = registry.RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeArgs) (string, error) {
			return "Welcome " + p.ClientName + "!", nil
		})
	})

	v, err := wire.DecodeValue(welcome.Payload)
	if err != nil {
		t.Fatalf("decode WELCOME payload: %v", err)
	}
	exposed, ok := v.Map.Get("expose_transactions")
	if !ok || !exposed.Bool {
		t.Fatalf("expected expose_transactions true, got %+v", exposed)
	}
	txs, ok := v.Map.Get("transactions")
	if !ok || txs.Tag != wire.TagSeq || len(txs.Seq) != 1 || txs.Seq[0].Str != "get_welcome" {
		t.Fatalf("expected transactions list [get_welcome], got %+v", txs)
	}
}

func TestCallRoundTrip(t *testing.T) {
	_, conn, _ := startTestServer(t, func(reg *registry.Registry) {
		err := registry.RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeArgs) ([2]wire.Value, error) {
			return [2]wire.Value{wire.StringValue("Welcome " + p.ClientName + "!"), wire.IntValue(0)}, nil
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	sendCall(t, conn, 7, "get_welcome", wire.Map{{Key: "client_name", Value: wire.StringValue("John")}})

	reply, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Kind != wire.KindReply || reply.CorrelationID != 7 {
		t.Fatalf("unexpected frame: kind=%s corr=%d", reply.Kind, reply.CorrelationID)
	}
	v, err := wire.DecodeValue(reply.Payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if v.Tag != wire.TagSeq || v.Seq[0].Str != "Welcome John!" {
		t.Fatalf("unexpected reply value: %+v", v)
	}
}

func TestCallUnknownTransactionProducesError(t *testing.T) {
	_, conn, _ := startTestServer(t, func(reg *registry.Registry) {})

	sendCall(t, conn, 3, "no_such_transaction", wire.Map{})

	reply, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if reply.Kind != wire.KindError {
		t.Fatalf("expected ERROR, got %s", reply.Kind)
	}
	v, _ := wire.DecodeValue(reply.Payload)
	kindVal, _ := v.Map.Get("kind")
	if kindVal.Str != string(wire.ErrUnknownEndpoint) {
		t.Fatalf("expected unknown_endpoint, got %q", kindVal.Str)
	}
}

func TestCallExtraArgumentProducesBadRequestAndConnectionStaysUp(t *testing.T) {
	_, conn, _ := startTestServer(t, func(reg *registry.Registry) {
		_ = registry.RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeArgs) (wire.Value, error) {
			return wire.Null(), nil
		})
	})

	sendCall(t, conn, 1, "get_welcome", wire.Map{
		{Key: "client_name", Value: wire.StringValue("John")},
		{Key: "bogus", Value: wire.IntValue(1)},
	})
	errFrame, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if errFrame.Kind != wire.KindError {
		t.Fatalf("expected ERROR, got %s", errFrame.Kind)
	}

	// Connection must still be usable for a subsequent, valid call.
	sendCall(t, conn, 2, "get_welcome", wire.Map{{Key: "client_name", Value: wire.StringValue("Jane")}})
	reply, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("read second reply: %v", err)
	}
	if reply.Kind != wire.KindReply || reply.CorrelationID != 2 {
		t.Fatalf("connection not usable after bad_request: kind=%s corr=%d", reply.Kind, reply.CorrelationID)
	}
}

func TestSubscriptionBoundedThenCancel(t *testing.T) {
	_, conn, _ := startTestServer(t, func(reg *registry.Registry) {
		err := registry.RegisterSubscription(reg, "counter", func(ctx context.Context, p counterArgs, yield func(map[string]int) error) error {
			current := p.Start
			for {
				if err := yield(map[string]int{"value": current}); err != nil {
					return nil
				}
				current += p.Step
			}
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	payload, _ := wire.EncodeValue(wire.MapValue(wire.Map{
		{Key: "event_type", Value: wire.StringValue("counter")},
		{Key: "args", Value: wire.MapValue(wire.Map{
			{Key: "start", Value: wire.IntValue(100)},
			{Key: "step", Value: wire.IntValue(10)},
		})},
	}))
	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindSubscribe, CorrelationID: 9, Payload: payload}); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}

	var values []int64
	for i := 0; i < 5; i++ {
		f, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
		if err != nil {
			t.Fatalf("read item %d: %v", i, err)
		}
		if f.Kind != wire.KindItem || f.CorrelationID != 9 {
			t.Fatalf("unexpected frame kind=%s corr=%d", f.Kind, f.CorrelationID)
		}
		v, _ := wire.DecodeValue(f.Payload)
		val, _ := v.Map.Get("value")
		values = append(values, val.Int)
	}
	want := []int64{100, 110, 120, 130, 140}
	for i, w := range want {
		if values[i] != w {
			t.Errorf("item %d: got %d, want %d", i, values[i], w)
		}
	}

	if err := wire.WriteFrame(conn, wire.Frame{Kind: wire.KindCancel, CorrelationID: 9}); err != nil {
		t.Fatalf("write CANCEL: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		f, err := wire.ReadFrame(conn, wire.DefaultMaxPayload)
		if err != nil {
			t.Fatalf("read terminal frame: %v", err)
		}
		if f.Kind == wire.KindEnd && f.CorrelationID == 9 {
			break
		}
	}
}
