// Package grpc exposes token introspection to other backends.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/auth"
	"github.com/dmitrijs2005/pmdash/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type ProfileSource interface {
	GetProfile(ctx context.Context, claims *auth.Claims) (*models.Profile, error)
}

type GRPCServer struct {
	address  string
	verifier TokenVerifier
	profiles ProfileSource
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(address string, l logging.Logger, v TokenVerifier, p ProfileSource) *GRPCServer {
	return &GRPCServer{
		address:  address,
		logger:   l.With("module", "grpc_server"),
		verifier: v,
		profiles: p,
		health:   health.NewServer(),
	}
}

// Register adds AuthService and the standard health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&AuthServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.SetServing(true)
}

// SetServing flips the health status reported for AuthService and the
// whole server.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	s.Register(srv)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
