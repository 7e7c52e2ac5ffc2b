package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server exposes the sampler over HTTP. The monitoring server polls
// GET /stat with the shared key in a request header.
type Server struct {
	logger  *slog.Logger
	sampler *Sampler
	key     string
	httpSrv *http.Server
}

// NewServer builds the agent HTTP server on the given listen address.
func NewServer(logger *slog.Logger, sampler *Sampler, listen, key string) *Server {
	s := &Server{
		logger:  logger.With(slog.String("component", "api")),
		sampler: sampler,
		key:     key,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/stat", s.handleStat)

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("agent listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStat(c *gin.Context) {
	if c.GetHeader("key") != s.key {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "msg": "unauthorized"})
		return
	}
	payload, ok := s.sampler.Snapshot()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "msg": "sampler warming up"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": payload})
}
