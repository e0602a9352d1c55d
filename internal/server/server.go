// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"intellichat/internal/config"
	"intellichat/internal/metrics"
	"intellichat/internal/service"
)

// Pipeline is the part of service.Pipeline the API needs.
type Pipeline interface {
	Ask(ctx context.Context, text string) (string, error)
	EnsureReady(ctx context.Context) error
}

// Server is the IntelliChat HTTP API.
type Server struct {
	pipeline        Pipeline
	engine          *gin.Engine
	server          *http.Server
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	log             *zap.SugaredLogger
	metrics         *metrics.Metrics
}

// New creates the server and registers its routes.
func New(cfg config.ServerConfig, p Pipeline, m *metrics.Metrics, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		pipeline:        p,
		engine:          engine,
		requestTimeout:  time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		shutdownTimeout: time.Duration(cfg.ShutdownTimeoutSecs) * time.Second,
		log:             log,
		metrics:         m,
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 60 * time.Second
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	engine.Use(Recovery(log), RequestID(), AccessLog(log), m.Middleware())
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "status": "error"})
	})

	api := engine.Group("/api")
	api.POST("/chat", s.chat)
	api.GET("/health", s.health)
	if m != nil {
		engine.GET("/metrics", m.Handler())
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run warms the index up in the background, serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		if err := s.pipeline.EnsureReady(ctx); err != nil {
			s.log.Errorw("index warm-up failed, queries will retry", "error", err)
			return
		}
		s.log.Infow("index warm-up finished")
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infow("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "status": "error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()
	answer, err := s.pipeline.Ask(ctx, req.Message)
	if errors.Is(err, service.ErrEmptyQuery) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty message", "status": "error"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": answer, "status": "success"})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "IntelliChat"})
}
