package server

import (
	"BondVault/internal/observability"
	"BondVault/internal/projection"
	"BondVault/internal/query"
	"BondVault/internal/vault"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps the gRPC server (health, reflection) and the HTTP/JSON mux
// serving read endpoints, health probes and metrics.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         *Deps
	logger       zerolog.Logger
}

// Deps holds everything the endpoints read from. Query and Claims are
// optional; their routes answer 503 when absent.
type Deps struct {
	Runner        *vault.Runner
	Query         *query.QueryService
	Claims        *projection.ClaimHistory
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	StartTime     time.Time
}

// NewServer creates the gRPC server and registers health and reflection.
func NewServer(grpcAddr, httpAddr string, deps *Deps, logger zerolog.Logger) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		logger:       logger,
	}
}

// SetServing flips the gRPC health status and the HTTP readiness probe together.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	if s.deps.HealthChecker != nil {
		s.deps.HealthChecker.SetReady(serving)
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler builds the HTTP handler: gateway routes under /v1 plus probes
// and metrics.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway serves Handler on the HTTP address (blocking).
func (s *Server) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
