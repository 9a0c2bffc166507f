// Package server hosts the HTTP API, the console page and the optional gRPC
// health endpoint, and shuts them down together with the stream module.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/mantonx/rtsphls/internal/middleware"
	"github.com/mantonx/rtsphls/internal/modules/streammodule"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Module is the part of the stream module the server drives
type Module interface {
	ID() string
	Name() string
	RegisterRoutes(router *gin.Engine)
	Shutdown(ctx context.Context) error
}

var _ Module = (*streammodule.Module)(nil)

// Server owns the listeners and their lifecycle
type Server struct {
	cfg    config.ServerConfig
	module Module
	engine *gin.Engine
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	logger hclog.Logger
}

// New builds the router and servers. Nothing listens until Run or Serve.
func New(cfg config.ServerConfig, module Module, logger hclog.Logger) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("server")

	engine, err := SetupRouter(cfg, module)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		module: module,
		engine: engine,
		logger: logger,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           engine,
			ReadTimeout:       cfg.ReadTimeout.Std(),
			WriteTimeout:      cfg.WriteTimeout.Std(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if cfg.GRPCPort > 0 {
		s.health = health.NewServer()
		s.grpc = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpc, s.health)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(module.ID(), healthpb.HealthCheckResponse_SERVING)
	}

	return s, nil
}

// SetupRouter configures and returns the main router
func SetupRouter(cfg config.ServerConfig, module Module) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger("/hls/", "/snapshot/"), middleware.ErrorLogger())

	if cfg.EnableCORS {
		r.Use(middleware.CORS())
	}
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	setupRoutes(r, module)
	return r, nil
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured addresses and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	var grpcLn net.Listener
	if s.grpc != nil {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.GRPCPort))
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on the given listeners until ctx is done, then shuts down
// gracefully. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpc != nil && grpcLn != nil {
		g.Go(func() error {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	timeout := s.cfg.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.health != nil {
		s.health.Shutdown()
	}

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.module.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("module shutdown: %w", err))
	}
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}

	if len(errs) == 0 {
		s.logger.Info("server exited")
	}
	return errors.Join(errs...)
}
