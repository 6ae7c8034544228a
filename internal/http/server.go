package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ochronus/goboxsync/internal/app"
	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	container *app.Container
	config    *config.Config
	handler   *Handler
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	router    *gin.Engine
	srv       *http.Server
}

// NewServer creates a new HTTP server exposing st over the API
func NewServer(container *app.Container, st *store.Store) *Server {
	cfg := container.Config

	// Set gin mode based on log level
	if cfg.Loglevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add recovery middleware
	router.Use(gin.Recovery())

	s := &Server{
		container: container,
		config:    cfg,
		logger:    container.Logger,
		metrics:   container.Metrics,
		router:    router,
	}
	router.Use(s.observe)

	handler := NewHandler(container, st)
	s.handler = handler

	api := router.Group("/2", handler.authorize)
	api.POST("/users/get_current_account", handler.GetCurrentAccount)
	api.POST("/files/upload_session/start", handler.UploadSessionStart)
	api.POST("/files/upload_session/append", handler.UploadSessionAppend)
	api.POST("/files/upload_session/finish", handler.UploadSessionFinish)
	api.POST("/files/download", handler.Download)
	api.POST("/files/delta", handler.Delta)
	api.POST("/files/delta/latest_cursor", handler.LatestCursor)

	// Long-poll carries no credentials
	router.POST("/2/files/longpoll_delta", handler.LongPollDelta)

	if container.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(container.Registry, promhttp.HandlerOpts{})))
	}

	return s
}

// observe logs and measures every request
func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = "unmatched"
	}
	elapsed := time.Since(start)
	s.metrics.RecordRequest(endpoint, c.Writer.Status(), elapsed)
	s.logger.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), elapsed)
}

// Start starts the HTTP server with a background context.
func (s *Server) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext starts the HTTP server and shuts down gracefully when the context is canceled.
func (s *Server) StartWithContext(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.Port)
	s.logger.Infof("Starting remote store at http://%s", addr)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// Pending long-polls end with ctx
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// GetRouter returns the underlying gin router (useful for testing)
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
