package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"safeconnect/internal/config"
	"safeconnect/internal/dataset"
	"safeconnect/internal/metrics"
	"safeconnect/internal/server/api"
	"safeconnect/internal/server/storage"
	"safeconnect/internal/server/storage/jsonfile"
)

type Server struct {
	httpServer *http.Server
	store      storage.Store
	logger     zerolog.Logger
}

func NewServer(cfg config.Config, logger zerolog.Logger) (*Server, error) {
	store := jsonfile.NewStore(dataset.Paths{
		Connections: cfg.Data.ConnectionsFile,
		Reputation:  cfg.Data.ReputationFile,
		History:     cfg.Data.HistoryFile,
	}, logger)
	return newServer(cfg.Server.Listen, store, logger), nil
}

func newServer(addr string, store storage.Store, logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		metrics.NewRiskCollector(func() (*dataset.Snapshot, error) {
			return store.Load(context.Background())
		}),
	)

	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))

	h := api.NewHandlers(store)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/data", h.Data)
		apiGroup.GET("/history", h.History)
	}
	router.GET("/healthz", h.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{
		store:  store,
		logger: logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("listen", s.httpServer.Addr).Msg("server 监听")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.httpServer.Shutdown(ctx)
	return s.store.Close()
}
