// Package app hosts the chat sync server: the HTTP API, the websocket
// change-event feed, the stale-session reaper, and a gRPC health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/peerline/peerline/internal/chat/ops"
	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/chat/realtime/wsbus"
	"github.com/peerline/peerline/internal/chat/storage/sqlite"
	"github.com/peerline/peerline/internal/platform/timeouts"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config defines the inputs for the sync server.
type Config struct {
	HTTPAddr string
	// GRPCAddr, when set, exposes a gRPC health endpoint for orchestration
	// probes.
	GRPCAddr string
	DBPath   string
	// RedisAddr, when set, carries change events over Redis pub/sub so
	// multiple server nodes share one feed. Empty means in-process only.
	RedisAddr string
	// JWTSecret signs and verifies bearer tokens. Empty disables JWT auth
	// and trusts the identity header; test use only.
	JWTSecret string
	// ReapInterval is how often stale waiting sessions are ended. Zero
	// disables the reaper.
	ReapInterval      time.Duration
	StaleAfter        time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// serverBus is both sides of the change-event bus the server needs: it
// publishes committed writes and serves websocket subscriptions.
type serverBus interface {
	realtime.Publisher
	realtime.Bus
}

// Server hosts the chat sync process.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	reapInterval    time.Duration

	httpServer *http.Server
	grpcServer *gogrpc.Server
	store      *sqlite.Store
	bus        serverBus
	service    *ops.Service
	auth       *authenticator
}

// NewServer builds a configured sync server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dbPath := strings.TrimSpace(config.DBPath)
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var bus serverBus
	if addr := strings.TrimSpace(config.RedisAddr); addr != "" {
		bus = realtime.NewRedisBus(addr)
		log.Printf("sync: change events over redis at %s", addr)
	} else {
		bus = realtime.NewMemoryBus()
	}

	service, err := ops.NewService(ops.Config{
		Store:      store,
		Bus:        bus,
		StaleAfter: config.StaleAfter,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build operations: %w", err)
	}

	auth := newAuthenticator(config.JWTSecret)
	server := &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		shutdownTimeout: config.ShutdownTimeout,
		reapInterval:    config.ReapInterval,
		store:           store,
		bus:             bus,
		service:         service,
		auth:            auth,
	}
	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           server.handler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if server.grpcAddr != "" {
		server.grpcServer = gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
		healthv1.RegisterHealthServer(server.grpcServer, health.NewServer())
	}
	return server, nil
}

// Service exposes the operation layer for in-process callers and tests.
func (s *Server) Service() *ops.Service {
	return s.service
}

// MintToken issues a bearer token for the configured JWT secret.
func (s *Server) MintToken(userID, role string) (string, error) {
	return s.auth.MintToken(userID, role)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := wsbus.Handler(s.bus)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, err := s.auth.authenticate(r); err != nil {
			log.Printf("sync: websocket unauthorized: remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	(&api{service: s.service, auth: s.auth}).register(mux)
	return mux
}

// Run serves HTTP (and gRPC health, when configured) until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("sync server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if s.reapInterval > 0 {
		go s.runReaper(ctx)
	}
	if s.grpcServer != nil {
		listener, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		log.Printf("sync grpc health listening on %s", s.grpcAddr)
		go func() {
			if err := s.grpcServer.Serve(listener); err != nil {
				log.Printf("sync: serve grpc: %v", err)
			}
		}()
		defer s.grpcServer.GracefulStop()
	}

	serveErr := make(chan error, 1)
	log.Printf("sync server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Run builds a sync server from config and serves it until the context is
// cancelled.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return err
	}
	defer server.Close()
	return server.Run(ctx)
}

// Close releases the server's store and bus.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if err := s.bus.Close(); err != nil {
		log.Printf("sync: close bus: %v", err)
	}
	if err := s.store.Close(); err != nil {
		log.Printf("sync: close store: %v", err)
	}
}
