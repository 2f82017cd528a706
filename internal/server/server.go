package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"artvault/internal/layout"
	"artvault/internal/lifecycle"
	"artvault/internal/logger"
	"artvault/internal/metrics"
	"artvault/internal/models"
	"artvault/internal/naming"
)

type Server struct {
	cfg    *models.Config
	paths  layout.Paths
	router *gin.Engine
	http   *http.Server
	svc    *lifecycle.Service
	log    *logger.Logger
}

func NewServer(cfg *models.Config, svc *lifecycle.Service, log *logger.Logger) *Server {
	r := gin.New()
	s := &Server{
		cfg:    cfg,
		paths:  layout.NewPaths(cfg.BaseDir),
		router: r,
		svc:    svc,
		log:    log.Component("http"),
	}
	r.Use(gin.Recovery(), s.requestLog())

	r.POST("/login", s.handleLogin)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if cfg.AuthEnabled() {
		api.Use(s.requireToken())
	}
	api.Static("/files", cfg.BaseDir)
	api.POST("/upload", s.handleUpload)
	api.GET("/records", s.handleListRecords)
	api.GET("/records/:slug", s.handleGetRecord)
	api.GET("/records/:slug/events", s.handleRecordEvents)
	api.POST("/records/:slug/analysis", s.handleAnalysis)
	api.POST("/records/:slug/mockups", s.handleMockups)
	api.POST("/records/:slug/finalise", s.handleFinalise)
	api.POST("/records/:slug/lock", s.handleLock)
	api.DELETE("/records/:slug", s.handleDeleteRecord)
	api.GET("/validate", s.handleValidate)

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A clean Stop is not an error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.cfg.ServerAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordRequest(c.Request.Method, endpoint, strconv.Itoa(status), elapsed.Seconds())
		s.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", status, "duration", elapsed)
	}
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrWrongStage),
		errors.Is(err, lifecycle.ErrLocked),
		errors.Is(err, lifecycle.ErrExists),
		errors.Is(err, lifecycle.ErrIncomplete):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalid),
		errors.Is(err, lifecycle.ErrUnsupported),
		errors.Is(err, naming.ErrEmptySlug):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "op", op, "error", err)
	}
	c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
}
