package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tenzoki/htcp/internal/registry"
)

// Config carries the name, host, port, max_connections and
// expose_transactions of create_server from spec section 6, plus the
// protocol-level tuning spec section 4/5 call out as configurable
// (payload ceiling, outbound queue depth, cancel grace, handshake
// timeout). The logger is not part of Config; it is passed to
// CreateServer.
//
// Grounded on cellorg/internal/config/config.go's plain exported-struct
// config style. The yaml tags here are not read by internal/config,
// which loads its own ServerConfig shape.
type Config struct {
	ServerName         string        `yaml:"server_name"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	MaxConnections     int           `yaml:"max_connections"`
	ExposeTransactions bool          `yaml:"expose_transactions"`
	MaxPayload         uint32        `yaml:"max_payload"`
	OutboundQueueSize  int           `yaml:"outbound_queue_size"`
	CancelGrace        time.Duration `yaml:"cancel_grace"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	Debug              bool          `yaml:"debug"`
}

// DefaultConfig returns the baseline a caller's explicit Config is merged
// onto, mirroring cellorg/internal/config/config.go's setDefaults step.
func DefaultConfig() Config {
	return Config{
		ServerName:         "htcp",
		Host:               "127.0.0.1",
		MaxConnections:     100,
		ExposeTransactions: true,
		MaxPayload:         16 * 1024 * 1024,
		OutboundQueueSize:  256,
		CancelGrace:        3 * time.Second,
		HandshakeTimeout:   5 * time.Second,
	}
}

// Service is the server half of HTCP: a listener, an immutable endpoint
// registry, and the set of live connections it is tracking for graceful
// shutdown.
//
// Grounded on cellorg/cmd/orchestrator/main.go's service-lifecycle shape
// (construct, Up, run until signalled, Down) and
// cellorg/internal/broker/service.go's Service (listener + connMux-guarded
// connection set).
type Service struct {
	cfg      Config
	registry *registry.Registry
	logger   *log.Logger

	listener net.Listener

	connMu sync.Mutex
	conns  map[*Connection]struct{}

	rootCtx    context.Context
	cancelRoot context.CancelFunc

	wg sync.WaitGroup
}

// CreateServer constructs a Service bound to cfg. It does not start
// listening; call Up for that. A nil logger means silent operation,
// matching cellorg's own optional-logger convention.
func CreateServer(cfg Config, reg *registry.Registry, logger *log.Logger) *Service {
	if reg == nil {
		reg = registry.New()
	}
	return &Service{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		conns:    make(map[*Connection]struct{}),
	}
}

// Registry exposes the underlying registry so callers can register
// transactions/subscriptions before or after construction.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Up brings the listener up and starts accepting connections in the
// background. It returns once the listener is bound, the way
// cellorg/cmd/orchestrator/main.go's startup sequence returns control to
// the caller only after its listener is live.
func (s *Service) Up() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.listener = ln
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.rootCtx, s.cancelRoot = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	if s.logger != nil {
		s.logger.Printf("server: %s listening on %s", s.cfg.ServerName, ln.Addr())
	}
	return nil
}

func (s *Service) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.rootCtx.Done():
				return
			default:
			}
			if s.logger != nil {
				s.logger.Printf("server: accept error: %v", err)
			}
			return
		}

		if s.connCount() >= s.cfg.MaxConnections && s.cfg.MaxConnections > 0 {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConnection(conn)
		}()
	}
}

// Addr returns the bound listener address; only meaningful after Up.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) addConnection(c *Connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Service) removeConnection(c *Connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, c)
}

func (s *Service) connCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Down tears the server down gracefully (spec section 4.4): stop
// accepting, cancel every open subscription, give in-flight work the
// connection's own closing sequence to wind down, then close every
// remaining socket and wait for the connection goroutines to exit.
func (s *Service) Down() error {
	if s.listener == nil {
		return nil
	}
	s.cancelRoot()
	err := s.listener.Close()

	s.connMu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}

	s.wg.Wait()
	if s.logger != nil {
		s.logger.Printf("server: %s stopped", s.cfg.ServerName)
	}
	return err
}
