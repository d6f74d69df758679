// Package livehttp exposes the engine's admin API: position inspection,
// event history, parked-symbol status and manual signal injection.
package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marlin/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server hosts the /api/admin HTTP surface.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig carries the admin API dependencies.
type ServerConfig struct {
	Addr     string
	Book     PositionBook
	Injector SignalInjector
	Events   EventReader
	Nudger   ReconcileNudger
	Symbols  []string
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Book == nil {
		return nil, errors.New("admin server requires a position book")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9990"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	registerAdminRoutes(router.Group("/api/admin"), cfg)

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
