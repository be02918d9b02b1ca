// Package dashboard serves the read-only status API for monitoring the
// daemon: health, counters and scheduled-job records.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/telemost/switchboard/internal/ratelimit"
	"github.com/telemost/switchboard/internal/scheduler"
	"github.com/telemost/switchboard/internal/session"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB       *gorm.DB
	Sessions *session.Store
	Limiter  *ratelimit.Limiter
	Jobs     func() []scheduler.JobRecord // nil disables /api/jobs content
	Port     int
	Out      io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealthz())
	router.GET("/api/status", handleStatus(opts))
	router.GET("/api/jobs", handleJobs(opts))
	router.GET("/api/incidents", handleIncidents(opts.DB))
}

func handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := StatusCounts(opts.DB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		sessions := 0
		if opts.Sessions != nil {
			sessions = opts.Sessions.Len()
		}
		limited := 0
		if opts.Limiter != nil {
			limited = opts.Limiter.Len()
		}
		c.JSON(http.StatusOK, gin.H{
			"operators":      counts.Operators,
			"providers":      counts.Providers,
			"open_incidents": counts.OpenIncidents,
			"sessions":       sessions,
			"rate_windows":   limited,
		})
	}
}

func handleJobs(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Jobs == nil {
			c.JSON(http.StatusOK, []scheduler.JobRecord{})
			return
		}
		c.JSON(http.StatusOK, opts.Jobs())
	}
}

func handleIncidents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := OpenIncidents(db, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}
