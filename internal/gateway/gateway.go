// ABOUTME: Gateway orchestrator that coordinates gRPC and HTTP servers
// ABOUTME: Owns the store, save-data service, broadcaster and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/metasave/internal/auth"
	"github.com/2389/metasave/internal/authority"
	"github.com/2389/metasave/internal/config"
	"github.com/2389/metasave/internal/genesis"
	"github.com/2389/metasave/internal/savedata"
	"github.com/2389/metasave/internal/store"
)

// Gateway orchestrates the metasave server components.
// It serves the SaveData gRPC service and the HTTP JSON API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	service     *savedata.Service
	broadcaster *savedata.Broadcaster
	sshVerifier *auth.SSHVerifier
	health      *health.Server
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// authResult holds the interceptor and middleware chosen from config.
type authResult struct {
	interceptor grpc.UnaryServerInterceptor
	middleware  func(http.Handler) http.Handler
	sshVerifier *auth.SSHVerifier
}

// createAuth builds the caller-identity layer from the auth config.
// Insecure mode wins over configured credentials so a development config
// can keep its secret in place.
func createAuth(cfg config.AuthConfig, logger *slog.Logger) (*authResult, error) {
	if cfg.Insecure {
		logger.Warn("auth disabled - trusting " + auth.AccountHeader + " header")
		return &authResult{
			interceptor: auth.NoAuthUnaryInterceptor(),
			middleware:  auth.NoAuthHTTPMiddleware(),
		}, nil
	}

	var tokens auth.TokenVerifier
	if cfg.JWTSecret != "" {
		tokens = auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	}
	var sshVerifier *auth.SSHVerifier
	if cfg.SSHAuth {
		sshVerifier = auth.NewSSHVerifier()
	}
	if tokens == nil && sshVerifier == nil {
		return nil, errors.New("no authentication method configured")
	}

	a := auth.NewAuthenticator(tokens, sshVerifier, logger)
	logger.Info("auth enabled", "jwt", tokens != nil, "ssh", sshVerifier != nil)
	return &authResult{
		interceptor: auth.UnaryInterceptor(a),
		middleware:  auth.HTTPAuthMiddleware(a),
		sshVerifier: sshVerifier,
	}, nil
}

// createGRPCServer creates a gRPC server with keepalive settings and the
// given auth interceptor.
func createGRPCServer(interceptor grpc.UnaryServerInterceptor) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(interceptor),
	)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	gw, err := newWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newWithStore wires the gateway around an already open store.
func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	registry := authority.NewRegistry(logger)

	if len(cfg.Genesis.Games) > 0 {
		if _, err := genesis.Apply(context.Background(), s, registry, cfg.Genesis, logger); err != nil {
			return nil, fmt.Errorf("applying genesis: %w", err)
		}
	}

	authRes, err := createAuth(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	broadcaster := savedata.NewBroadcaster(logger)
	sink := savedata.MultiSink{savedata.NewLogSink(logger), broadcaster}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		service:     savedata.New(s, registry, sink, logger),
		broadcaster: broadcaster,
		sshVerifier: authRes.sshVerifier,
		health:      health.NewServer(),
		grpcServer:  createGRPCServer(authRes.interceptor),
		logger:      logger.With("component", "gateway"),
	}

	registerSaveDataServer(gw.grpcServer, newSaveDataServer(gw, logger.With("component", "grpc")))
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus(SaveDataServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Create HTTP server for health checks and API
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.registerAPIRoutes(mux, authRes.middleware)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Service returns the save-data service the gateway serves.
func (g *Gateway) Service() *savedata.Service {
	return g.service
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// GRPCServer returns the gRPC server, for tests and embedding.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpcServer
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// A canceled context is a clean exit; a server failure is returned.
func (g *Gateway) Run(ctx context.Context) error {
	l, err := g.listen(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	serve := func(name string, ln net.Listener, fn func(net.Listener) error) {
		g.logger.Info(name+" server listening", "addr", ln.Addr().String())
		if err := fn(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("gRPC", l.grpc, g.grpcServer.Serve)
	go serve("HTTP", l.http, g.httpServer.Serve)

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case runErr = <-errCh:
		g.logger.Error("server error", "error", runErr)
	}

	// The run context is already done; shutdown gets its own deadline.
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.Shutdown(shutdownCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// stopGRPC drains in-flight calls, or cuts them off when ctx expires.
func (g *Gateway) stopGRPC(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

func labelErr(label string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", label, err)
}

// Shutdown stops both servers, the tailnet node and the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	// Event streams never finish on their own; end them before the HTTP
	// server waits for active connections.
	g.broadcaster.Close()

	errs := []error{labelErr("HTTP shutdown", g.httpServer.Shutdown(ctx))}
	g.stopGRPC(ctx)

	if g.tsnetServer != nil {
		errs = append(errs, labelErr("tailscale shutdown", g.tsnetServer.Close()))
	}
	errs = append(errs, labelErr("store close", g.store.Close()))

	if g.sshVerifier != nil {
		g.sshVerifier.Close()
	}
	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.service.Ping(r.Context()); err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
