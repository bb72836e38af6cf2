// Command htcp-example-client drives scenarios E1-E5 of spec section 8
// against the example server, plus its get_status transaction: welcome,
// a binary-argument upload, a user-record round trip, a get_status call,
// and a bounded counter subscription. It does not open the server's
// heartbeat or notifications subscriptions.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tenzoki/htcp/internal/config"
	"github.com/tenzoki/htcp/public/htcp"
)

type customData struct {
	Text string `htcp:"text"`
}

func main() {
	var cfg *config.ClientConfig

	if len(os.Args) >= 2 {
		loaded, err := config.LoadClientConfig(os.Args[1])
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", os.Args[1], err)
		}
		cfg = loaded
	} else {
		cfg = &config.ClientConfig{
			Host:              "127.0.0.1",
			Port:              2353,
			MaxPayloadBytes:   16 * 1024 * 1024,
			DialTimeoutMs:     5000,
			DisconnectGraceMs: 3000,
		}
	}

	client := htcp.CreateClient(htcp.ClientOptions{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxPayload:      uint32(cfg.MaxPayloadBytes),
		DialTimeout:     cfg.DialTimeout(),
		DisconnectGrace: cfg.DisconnectGrace(),
		Debug:           cfg.Debug,
		Logger:          log.Default(),
	})

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	info := client.ServerInfo()
	fmt.Printf("server_info: name=%s addr=%s:%d connected=%v transactions=%v\n",
		info.ServerName, info.Host, info.Port, info.Connected, info.Transactions)

	welcome, err := htcp.Call[struct {
		ClientName string `htcp:"client_name"`
	}, [2]htcp.Value](ctx, client, "get_welcome", struct {
		ClientName string `htcp:"client_name"`
	}{ClientName: "John"})
	if err != nil {
		log.Fatalf("get_welcome: %v", err)
	}
	fmt.Printf("get_welcome: %s (exit code %d)\n", welcome[0].Str, welcome[1].Int)

	uploadResult, err := htcp.Call[struct {
		FileName string `htcp:"file_name"`
		FileBody []byte `htcp:"file_body"`
	}, string](ctx, client, "upload_file", struct {
		FileName string `htcp:"file_name"`
		FileBody []byte `htcp:"file_body"`
	}{FileName: "example.txt", FileBody: []byte("Hello World!")})
	if err != nil {
		log.Fatalf("upload_file: %v", err)
	}
	fmt.Printf("upload_file: %s\n", uploadResult)

	custom, err := htcp.Call[struct {
		MyCustomData customData `htcp:"my_custom_data"`
	}, customData](ctx, client, "send_custom_data", struct {
		MyCustomData customData `htcp:"my_custom_data"`
	}{MyCustomData: customData{Text: "My custom message content"}})
	if err != nil {
		log.Fatalf("send_custom_data: %v", err)
	}
	fmt.Printf("send_custom_data: %s\n", custom.Text)

	status, err := htcp.Call[struct{}, map[string]htcp.Value](ctx, client, "get_status", struct{}{})
	if err != nil {
		log.Fatalf("get_status: %v", err)
	}
	fmt.Printf("get_status: status=%s notification_count=%d\n", status["status"].Str, status["notification_count"].Int)

	fmt.Println("--- counter subscription (5 values) ---")
	sub, err := htcp.Subscribe[struct {
		Start int     `htcp:"start"`
		Step  int     `htcp:"step"`
		Delay float64 `htcp:"delay"`
	}, map[string]int](ctx, client, "counter", struct {
		Start int     `htcp:"start"`
		Step  int     `htcp:"step"`
		Delay float64 `htcp:"delay"`
	}{Start: 100, Step: 10, Delay: 0.2})
	if err != nil {
		log.Fatalf("subscribe counter: %v", err)
	}
	for i := 0; i < 5; i++ {
		item, ok, err := sub.Next(ctx)
		if err != nil || !ok {
			log.Fatalf("counter next: item=%v ok=%v err=%v", item, ok, err)
		}
		fmt.Printf("counter: %d\n", item["value"])
	}
	if err := sub.Close(2 * time.Second); err != nil {
		log.Printf("close counter subscription: %v", err)
	}
}
