package server

import (
	"context"
	"errors"
	"net/http"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/health"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideOpsServer serves health probes and prometheus metrics. The engine
// has no public HTTP API; this listener is for the platform only.
var ProvideOpsServer = fx.Module("ops.server",
	fx.Provide(NewOpsRouter, NewOpsServer),
	fx.Invoke(Run),
)

type Server struct {
	server  *http.Server
	enabled bool
}

func NewOpsRouter(cfg *config.Config, h health.HealthService) *gin.Engine {
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func NewOpsServer(cfg *config.Config, router *gin.Engine) *Server {
	return &Server{
		server: &http.Server{
			Addr:         cfg.Ops.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Ops.ReadTimeout,
			WriteTimeout: cfg.Ops.WriteTimeout,
		},
		enabled: cfg.Ops.Enabled,
	}
}

func Run(lc fx.Lifecycle, srv *Server) {
	if !srv.enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting ops HTTP server", zap.String("addr", srv.server.Addr))
			go func() {
				if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("ops HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down ops HTTP server gracefully...")
			return srv.server.Shutdown(ctx)
		},
	})
}
