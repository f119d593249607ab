// Package httpserver exposes the authentication API over HTTP with gin.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/authz"
	"github.com/dmitrijs2005/pmdash/internal/server/metrics"
	"github.com/gin-gonic/gin"
)

type Config struct {
	Address         string
	FrontendURL     string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg    Config
	engine *gin.Engine
	logger logging.Logger
}

func NewServer(cfg Config, h *Handler, verifier TokenVerifier, health *Health, m *metrics.Metrics, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger = logger.With("module", "http_server")

	r := gin.New()
	r.Use(RequestID(), Logger(logger, m), Recovery(logger), CORS(cfg.FrontendURL))

	r.GET("/healthz", health.Liveness)
	r.GET("/readyz", health.Readiness)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/verify-2fa", h.Verify2FA)
	api.POST("/auth/request-password-reset", h.RequestPasswordReset)
	api.POST("/auth/reset-password", h.ResetPassword)

	protected := api.Group("", Authenticate(verifier))
	protected.POST("/auth/setup-2fa", h.Setup2FA)
	protected.POST("/auth/enable-2fa", h.Enable2FA)
	protected.POST("/auth/disable-2fa", h.Disable2FA)
	protected.POST("/auth/change-password", h.ChangePassword)
	protected.GET("/auth/profile", h.GetProfile)
	protected.PUT("/auth/profile", h.UpdateProfile)
	protected.GET("/protected", h.guarded(authz.OpProtected, "This is a protected route"))
	protected.GET("/admin-only", h.guarded(authz.OpAdminOnly, "This is an admin-only route"))

	return &Server{cfg: cfg, engine: r, logger: logger}
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
