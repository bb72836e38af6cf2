// Package htcp is the public surface of the HTCP protocol library: a
// thin facade over internal/server, internal/client, internal/registry
// and internal/wire for applications that embed an HTCP server or client
// without reaching into internal packages.
package htcp

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/tenzoki/htcp/internal/registry"
	"github.com/tenzoki/htcp/internal/server"
)

// Server is the programmatic surface for create_server/register_*/up/down
// from spec section 6.
type Server struct {
	svc *server.Service
}

// ServerOptions mirrors create_server(name, host, port, max_connections,
// expose_transactions, logger).
type ServerOptions struct {
	Name               string
	Host               string
	Port               int
	MaxConnections     int
	ExposeTransactions bool
	MaxPayload         uint32
	OutboundQueueSize  int
	CancelGrace        time.Duration
	HandshakeTimeout   time.Duration
	Debug              bool
	Logger             *log.Logger
}

// CreateServer constructs a Server. It does not start listening; call Up
// for that.
func CreateServer(opts ServerOptions) *Server {
	cfg := server.DefaultConfig()
	if opts.Name != "" {
		cfg.ServerName = opts.Name
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	cfg.Port = opts.Port
	if opts.MaxConnections != 0 {
		cfg.MaxConnections = opts.MaxConnections
	}
	cfg.ExposeTransactions = opts.ExposeTransactions
	if opts.MaxPayload != 0 {
		cfg.MaxPayload = opts.MaxPayload
	}
	if opts.OutboundQueueSize != 0 {
		cfg.OutboundQueueSize = opts.OutboundQueueSize
	}
	if opts.CancelGrace != 0 {
		cfg.CancelGrace = opts.CancelGrace
	}
	if opts.HandshakeTimeout != 0 {
		cfg.HandshakeTimeout = opts.HandshakeTimeout
	}
	cfg.Debug = opts.Debug

	return &Server{svc: server.CreateServer(cfg, registry.New(), opts.Logger)}
}

// RegisterTransaction registers a request/response endpoint (spec
// section 6). P is the handler's declared parameter struct; R is its
// result type.
func RegisterTransaction[P any, R any](s *Server, code string, fn func(ctx context.Context, params P) (R, error)) error {
	return registry.RegisterTransaction(s.svc.Registry(), code, fn)
}

// RegisterSubscription registers a server-pushed streaming endpoint (spec
// section 6). P is the handler's declared parameter struct; I is the type
// of each produced item.
func RegisterSubscription[P any, I any](s *Server, code string, fn func(ctx context.Context, params P, yield func(I) error) error) error {
	return registry.RegisterSubscription(s.svc.Registry(), code, fn)
}

// Up brings the listener up and starts accepting connections.
func (s *Server) Up() error {
	return s.svc.Up()
}

// Down tears the server down gracefully: stops accepting, cancels every
// open subscription, and closes all connections.
func (s *Server) Down() error {
	return s.svc.Down()
}

// Addr returns the bound listener address; only meaningful after Up.
func (s *Server) Addr() net.Addr {
	return s.svc.Addr()
}
