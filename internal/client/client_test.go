package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	htcpclient "github.com/tenzoki/htcp/internal/client"
	"github.com/tenzoki/htcp/internal/registry"
	htcpserver "github.com/tenzoki/htcp/internal/server"
	"github.com/tenzoki/htcp/internal/wire"
)

type welcomeParams struct {
	ClientName string `htcp:"client_name"`
}

type counterParams struct {
	Start int     `htcp:"start" default:"0"`
	Step  int     `htcp:"step" default:"1"`
	Delay float64 `htcp:"delay" default:"0"`
}

func startServer(t *testing.T, configure func(reg *registry.Registry)) *htcpserver.Service {
	t.Helper()
	reg := registry.New()
	configure(reg)
	cfg := htcpserver.DefaultConfig()
	cfg.Port = 0
	cfg.ServerName = "example"
	svc := htcpserver.CreateServer(cfg, reg, nil)
	if err := svc.Up(); err != nil {
		t.Fatalf("Up: %v", err)
	}
	t.Cleanup(func() { svc.Down() })
	return svc
}

func dialClient(t *testing.T, svc *htcpserver.Service) *htcpclient.Client {
	t.Helper()
	tcpAddr, ok := svc.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address type %T", svc.Addr())
	}

	cfg := htcpclient.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = tcpAddr.Port
	c := htcpclient.CreateClient(cfg, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestCallRoundTrip(t *testing.T) {
	svc := startServer(t, func(reg *registry.Registry) {
		err := registry.RegisterTransaction(reg, "get_welcome", func(ctx context.Context, p welcomeParams) ([2]wire.Value, error) {
			return [2]wire.Value{wire.StringValue("Welcome " + p.ClientName + "!"), wire.IntValue(0)}, nil
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	})
	c := dialClient(t, svc)

	info := c.ServerInfo()
	if info.ServerName != "example" || !info.Connected {
		t.Fatalf("unexpected server info: %+v", info)
	}

	result, err := htcpclient.Call[welcomeParams, [2]wire.Value](context.Background(), c, "get_welcome", welcomeParams{ClientName: "John"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result[0].Str != "Welcome John!" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSubscribeAndClose(t *testing.T) {
	svc := startServer(t, func(reg *registry.Registry) {
		err := registry.RegisterSubscription(reg, "counter", func(ctx context.Context, p counterParams, yield func(map[string]int) error) error {
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
	c := dialClient(t, svc)

	sub, err := htcpclient.Subscribe[counterParams, map[string]int](context.Background(), c, "counter", counterParams{Start: 100, Step: 10})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var got []int
	for i := 0; i < 5; i++ {
		item, ok, err := sub.Next(context.Background())
		if err != nil || !ok {
			t.Fatalf("next %d: item=%v ok=%v err=%v", i, item, ok, err)
		}
		got = append(got, item["value"])
	}
	want := []int{100, 110, 120, 130, 140}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("item %d: got %d want %d", i, got[i], w)
		}
	}

	if err := sub.Close(2 * time.Second); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCallUnknownTransaction(t *testing.T) {
	svc := startServer(t, func(reg *registry.Registry) {})
	c := dialClient(t, svc)

	_, err := htcpclient.Call[struct{}, wire.Value](context.Background(), c, "nope", struct{}{})
	if err == nil {
		t.Fatalf("expected error for unknown transaction")
	}
	werr, ok := wire.AsError(err)
	if !ok || werr.Kind != wire.ErrUnknownEndpoint {
		t.Fatalf("expected unknown_endpoint error, got %v", err)
	}
}
