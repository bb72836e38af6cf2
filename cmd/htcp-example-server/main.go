// Command htcp-example-server runs the example HTCP server used by the
// end-to-end scenarios in spec section 8: get_welcome, upload_file,
// send_custom_data, a bounded counter subscription, a heartbeat
// subscription, a notifications subscription, and a get_status
// transaction.
//
// Called by: operators running the example directly, or the
// htcp-example-client binary against a locally started instance.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tenzoki/htcp/internal/config"
	"github.com/tenzoki/htcp/public/htcp"
)

// customData is the user record exercised by send_custom_data (spec
// scenario E4): a record round-trip through the wire codec.
type customData struct {
	Text string `htcp:"text"`
}

type uploadFileParams struct {
	FileName string `htcp:"file_name"`
	FileBody []byte `htcp:"file_body"`
}

type sendCustomDataParams struct {
	MyCustomData customData `htcp:"my_custom_data"`
}

type counterParams struct {
	Start int     `htcp:"start" default:"0"`
	Step  int     `htcp:"step" default:"1"`
	Delay float64 `htcp:"delay" default:"0.5"`
}

type heartbeatParams struct {
	Interval float64 `htcp:"interval" default:"1.0"`
}

type notificationsParams struct {
	UserID int `htcp:"user_id"`
}

type notification struct {
	ID        int     `htcp:"id"`
	UserID    int     `htcp:"user_id"`
	Message   string  `htcp:"message"`
	Timestamp float64 `htcp:"timestamp"`
}

// notificationCounter is handler-local state threaded through get_status
// and notifications, replacing the source's module-level global counter
// per spec section 9's "no process-wide singletons" design note.
type notificationCounter struct {
	mu    sync.Mutex
	count int
}

func (c *notificationCounter) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

func (c *notificationCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func main() {
	var cfg *config.ServerConfig
	var source string

	if len(os.Args) >= 2 {
		loaded, err := config.LoadServerConfig(os.Args[1])
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", os.Args[1], err)
		}
		cfg = loaded
		source = fmt.Sprintf("config file: %s", os.Args[1])
	} else {
		cfg = defaultServerConfig()
		source = "hardcoded defaults"
	}

	log.Printf("starting htcp-example-server using %s", source)

	server := htcp.CreateServer(htcp.ServerOptions{
		Name:               cfg.ServerName,
		Host:               cfg.Host,
		Port:               cfg.Port,
		MaxConnections:     cfg.MaxConnections,
		ExposeTransactions: *cfg.ExposeTransactions,
		MaxPayload:         uint32(cfg.MaxPayloadBytes),
		OutboundQueueSize:  cfg.OutboundQueueSize,
		CancelGrace:        cfg.CancelGrace(),
		HandshakeTimeout:   cfg.HandshakeTimeout(),
		Debug:              cfg.Debug,
		Logger:             log.Default(),
	})

	notifications := &notificationCounter{}

	mustRegisterTransaction(server, "get_welcome", func(ctx context.Context, p struct {
		ClientName string `htcp:"client_name"`
	}) ([2]htcp.Value, error) {
		return [2]htcp.Value{
			htcp.StringValue(fmt.Sprintf("Welcome %s!", p.ClientName)),
			htcp.IntValue(0),
		}, nil
	})

	mustRegisterTransaction(server, "upload_file", func(ctx context.Context, p uploadFileParams) (string, error) {
		log.Printf("upload_file: %s (%d bytes)", p.FileName, len(p.FileBody))
		return "ok", nil
	})

	mustRegisterTransaction(server, "send_custom_data", func(ctx context.Context, p sendCustomDataParams) (customData, error) {
		log.Printf("send_custom_data: %q", p.MyCustomData.Text)
		return customData{Text: "message handled"}, nil
	})

	mustRegisterTransaction(server, "get_status", func(ctx context.Context, p struct{}) (map[string]htcp.Value, error) {
		return map[string]htcp.Value{
			"status":             htcp.StringValue("running"),
			"notification_count": htcp.IntValue(int64(notifications.value())),
		}, nil
	})

	mustRegisterSubscription(server, "counter", func(ctx context.Context, p counterParams, yield func(map[string]int) error) error {
		current := p.Start
		delay := time.Duration(p.Delay * float64(time.Second))
		for {
			if err := yield(map[string]int{"value": current}); err != nil {
				return nil
			}
			current += p.Step
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
	})

	mustRegisterSubscription(server, "heartbeat", func(ctx context.Context, p heartbeatParams, yield func(map[string]htcp.Value) error) error {
		interval := time.Duration(p.Interval * float64(time.Second))
		count := 0
		for {
			count++
			beat := map[string]htcp.Value{
				"type":        htcp.StringValue("heartbeat"),
				"count":       htcp.IntValue(int64(count)),
				"server_time": htcp.FloatValue(float64(time.Now().UnixNano()) / 1e9),
			}
			if err := yield(beat); err != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	})

	mustRegisterSubscription(server, "notifications", func(ctx context.Context, p notificationsParams, yield func(notification) error) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			if rand.Float64() <= 0.5 {
				continue
			}
			n := notification{
				ID:        notifications.next(),
				UserID:    p.UserID,
				Message:   fmt.Sprintf("Notification #%d for user %d", notifications.value(), p.UserID),
				Timestamp: float64(time.Now().UnixNano()) / 1e9,
			}
			if err := yield(n); err != nil {
				return nil
			}
		}
	})

	if err := server.Up(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
	log.Printf("%s listening on %s", cfg.ServerName, server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received signal: %s, shutting down...", sig)

	if err := server.Down(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func mustRegisterTransaction[P any, R any](s *htcp.Server, code string, fn func(ctx context.Context, p P) (R, error)) {
	if err := htcp.RegisterTransaction(s, code, fn); err != nil {
		log.Fatalf("register transaction %s: %v", code, err)
	}
}

func mustRegisterSubscription[P any, I any](s *htcp.Server, code string, fn func(ctx context.Context, p P, yield func(I) error) error) {
	if err := htcp.RegisterSubscription(s, code, fn); err != nil {
		log.Fatalf("register subscription %s: %v", code, err)
	}
}

func defaultServerConfig() *config.ServerConfig {
	expose := true
	return &config.ServerConfig{
		ServerName:         "example",
		Host:               "0.0.0.0",
		Port:               2353,
		MaxConnections:     100,
		ExposeTransactions: &expose,
		MaxPayloadBytes:    16 * 1024 * 1024,
		OutboundQueueSize:  256,
		CancelGraceSeconds: 3,
		HandshakeTimeoutMs: 5000,
		Debug:              true,
	}
}
