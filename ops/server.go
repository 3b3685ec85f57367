// Package ops serves the operator HTTP API: health, outstanding errors, exports, last reports and
// manual triggers for the reconciliation and cleanup jobs.
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/middlewares"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/models/reports"
	"github.com/mmdatafocus/eventrecon/recon"
	"github.com/mmdatafocus/eventrecon/utils"
	"github.com/sirupsen/logrus"
)

// Outstanding lists unresolved tracking rows.
type Outstanding interface {
	SelectUnresolved(ctx context.Context, since, until time.Time) ([]models.OutstandingError, error)
}

// Uploader stores an export and returns where it went.
type Uploader func(ctx context.Context, objectName string, data []byte) (string, error)

type Server struct {
	Outstanding    Outstanding
	Windows        recon.Windows
	Now            func() time.Time
	Board          *recon.ReportBoard
	Cycles         *recon.Scheduler
	Cleanup        *recon.Scheduler
	Upload         Uploader
	JWTSecret      string
	AllowedOrigins []string
	Logger         *logrus.Logger
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}

// Router builds the gin engine with every ops route installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(cors.New(s.corsConfig()))
	r.Use(middlewares.ErrorLogger(s.logger()))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api", middlewares.AuthMiddleware(s.JWTSecret))
	api.GET("/outstanding", s.listOutstanding)
	api.GET("/outstanding/export", s.exportOutstanding)
	api.GET("/cycles/last", s.lastCycle)
	api.GET("/cleanup/last", s.lastCleanup)
	api.GET("/jobs", s.jobs)

	operate := api.Group("", middlewares.RequireOperator())
	operate.POST("/cycles", s.trigger(func() *recon.Scheduler { return s.Cycles }, "cycle"))
	operate.POST("/cleanup", s.trigger(func() *recon.Scheduler { return s.Cleanup }, "cleanup"))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func (s *Server) corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	allowAll := len(s.AllowedOrigins) == 0
	for _, o := range s.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.AllowedOrigins
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	return corsConfig
}

func (s *Server) unresolved(c *gin.Context) ([]models.OutstandingError, bool) {
	if s.Outstanding == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking store not ready"})
		return nil, false
	}
	branch := -1
	if raw := c.Query("branch"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "branch must be a non-negative integer"})
			return nil, false
		}
		branch = v
	}

	since, until := s.Windows.Unresolved(s.now())
	rows, err := s.Outstanding.SelectUnresolved(c.Request.Context(), since, until)
	if err != nil {
		config.LogError(s.logger(), "ops", "unresolved", "SelectUnresolved", nil, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking store unavailable"})
		return nil, false
	}
	if branch < 0 {
		return rows, true
	}
	filtered := rows[:0:0]
	for _, r := range rows {
		if r.Branch == branch {
			filtered = append(filtered, r)
		}
	}
	return filtered, true
}

func (s *Server) listOutstanding(c *gin.Context) {
	rows, ok := s.unresolved(c)
	if !ok {
		return
	}
	if rows == nil {
		rows = []models.OutstandingError{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(rows),
		"summary": reports.Summarize(rows),
		"rows":    rows,
	})
}

func (s *Server) exportOutstanding(c *gin.Context) {
	rows, ok := s.unresolved(c)
	if !ok {
		return
	}
	data, err := reports.ExportOutstandingBytes(rows)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build export"})
		return
	}

	if c.Query("upload") == "true" {
		if s.Upload == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export upload is not configured"})
			return
		}
		url, err := s.Upload(c.Request.Context(), reports.ObjectName(s.now()), data)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "count": len(rows)})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=outstanding.xlsx")
	c.Data(http.StatusOK, reports.ContentTypeXLSX, data)
}

func (s *Server) lastCycle(c *gin.Context) {
	if s.Board == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has run yet"})
		return
	}
	report, ok := s.Board.LastCycle(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has run yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) lastCleanup(c *gin.Context) {
	if s.Board == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cleanup has run yet"})
		return
	}
	snap, ok := s.Board.LastCleanup(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cleanup has run yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type jobStatus struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func statusOf(name string, s *recon.Scheduler) jobStatus {
	st := jobStatus{Name: name}
	if s == nil {
		return st
	}
	st.Enabled = true
	running, lastRun, lastErr := s.Status()
	st.Running = running
	if !lastRun.IsZero() {
		st.LastRun = &lastRun
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

func (s *Server) jobs(c *gin.Context) {
	c.JSON(http.StatusOK, []jobStatus{statusOf("cycle", s.Cycles), statusOf("cleanup", s.Cleanup)})
}

func (s *Server) trigger(pick func() *recon.Scheduler, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sched := pick()
		if sched == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": name + " job is disabled"})
			return
		}
		queued := sched.Trigger()
		subject, _ := utils.GetOpsSubjectFromContext(c.Request.Context())
		s.logger().WithFields(logrus.Fields{"field": "ops", "job": name, "subject": subject, "queued": queued}).
			Info("manual trigger")
		c.JSON(http.StatusAccepted, gin.H{"job": name, "queued": queued})
	}
}

// Serve runs the router on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	s.logger().WithFields(logrus.Fields{"field": "ops", "addr": addr}).Info("ops server listening")

	select {
	case <-ctx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
