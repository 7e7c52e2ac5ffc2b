// Package server exposes the dashboard query surface over HTTP: the
// snapshot map, per-server traffic and load history, the push-update
// websocket, and the intake endpoint for agents that report instead of
// being polled.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/QAQ5555/dstatus/internal/push"
	"github.com/QAQ5555/dstatus/internal/stats"
)

// Server wires the gin router around the stats engine and push hub.
type Server struct {
	engine   *stats.Engine
	hub      *push.Hub
	adminKey string
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New builds the HTTP server for the given listen address. An empty
// adminKey disables admin reads entirely.
func New(listen string, engine *stats.Engine, hub *push.Hub, adminKey string, logger *slog.Logger) *Server {
	s := &Server{
		engine:   engine,
		hub:      hub,
		adminKey: adminKey,
		logger:   logger.With(slog.String("component", "http")),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.adminMiddleware())

	router.GET("/stats/data", s.handleStatsData)
	router.GET("/stats/:sid/data", s.handleNodeData)
	router.GET("/stats/:sid/traffic", s.handleNodeTraffic)
	router.GET("/stats/:sid/load", s.handleNodeLoad)
	router.POST("/stats/update", s.handleExternalUpdate)
	router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleUpgrade(c.Writer, c.Request)
	})

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// adminMiddleware flags requests carrying the admin key. Admin status only
// widens reads (hidden servers, raw connection blobs); there is no admin
// mutation surface here.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminKey != "" && c.GetHeader("key") == s.adminKey {
			c.Set("admin", true)
		}
		c.Next()
	}
}

func isAdmin(c *gin.Context) bool {
	return c.GetBool("admin")
}

// pr is the response envelope the dashboard frontend expects.
func pr(status int, data any) gin.H {
	return gin.H{"status": status, "data": data}
}

func (s *Server) handleStatsData(c *gin.Context) {
	views, err := s.engine.GetStatsData(isAdmin(c), true)
	if err != nil {
		s.logger.Error("stats read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read stats"))
		return
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleNodeData(c *gin.Context) {
	sid := c.Param("sid")
	views, err := s.engine.GetStatsData(isAdmin(c), true)
	if err != nil {
		s.logger.Error("stats read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read stats"))
		return
	}
	view, ok := views[sid]
	if !ok {
		c.JSON(http.StatusNotFound, pr(0, "node not found"))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleNodeTraffic(c *gin.Context) {
	sid := c.Param("sid")
	st := s.engine.Store()

	server, err := st.Servers.Get(sid)
	if err != nil {
		s.logger.Error("registry read failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read server"))
		return
	}
	if server == nil {
		c.JSON(http.StatusNotFound, pr(0, "node not found"))
		return
	}

	ledger, err := st.Traffic.Get(sid)
	if err != nil {
		s.logger.Error("ledger read failed", slog.String("sid", sid), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read traffic"))
		return
	}

	c.JSON(http.StatusOK, pr(1, gin.H{
		"ds":                ledger.DS,
		"hs":                ledger.HS,
		"ms":                ledger.MS,
		"calibration_date":  server.TrafficCalibrationDate,
		"calibration_value": server.TrafficCalibrationValue,
		"traffic_reset_day": server.TrafficResetDay,
		"traffic_limit":     server.TrafficLimit,
	}))
}

func (s *Server) handleNodeLoad(c *gin.Context) {
	sid := c.Param("sid")
	st := s.engine.Store()

	loadM, err := st.LoadM.Select(sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read load history"))
		return
	}
	loadH, err := st.LoadH.Select(sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pr(0, "failed to read load history"))
		return
	}
	c.JSON(http.StatusOK, pr(1, gin.H{
		"load_m": loadM,
		"load_h": loadH,
	}))
}

type externalUpdate struct {
	SID  string         `json:"sid" binding:"required"`
	Data *stats.RawStat `json:"data" binding:"required"`
}

func (s *Server) handleExternalUpdate(c *gin.Context) {
	var req externalUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pr(0, "invalid payload"))
		return
	}
	if !s.engine.ReceiveExternalUpdate(req.SID, req.Data) {
		c.JSON(http.StatusNotFound, pr(0, "unknown or disabled server"))
		return
	}
	c.JSON(http.StatusOK, pr(1, "update success"))
}
