// Package server exposes the HTTP surface: health, a manual poll trigger,
// and a small read-only JSON API over the sales snapshot.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"steam-sales-notifier/pkg/sales"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Catalog is the snapshot read surface the API serves.
type Catalog interface {
	Page(ctx context.Context, limit, offset int) ([]sales.Listing, error)
	Random(ctx context.Context, n int) ([]sales.Listing, error)
	Count(ctx context.Context) (int64, error)
}

// Poller runs one scan cycle on demand.
type Poller interface {
	Cycle(ctx context.Context) error
}

// Dispatcher reports queue counters for /api/stats.
type Dispatcher interface {
	Metrics() (enqueued, delivered, dropped uint64, backlog int)
}

// Server wraps the gin engine and its dependencies.
type Server struct {
	engine     *gin.Engine
	catalog    Catalog
	poller     Poller
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New builds the router.
func New(catalog Catalog, poller Poller, dispatcher Dispatcher, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		catalog:    catalog,
		poller:     poller,
		dispatcher: dispatcher,
		logger:     logger,
	}

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/pollz", s.handlePoll)
	engine.GET("/api/sales", s.handleSales)
	engine.GET("/api/sales/latest", s.handleLatest)
	engine.GET("/api/sales/random", s.handleRandom)
	engine.GET("/api/stats", s.handleStats)

	return s
}

// Handler returns the http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePoll triggers a scan cycle outside the normal schedule. Cycles are
// serialized by the monitor, so a concurrent trigger just waits its turn.
func (s *Server) handlePoll(c *gin.Context) {
	s.logger.Info("Manual poll triggered", "remote", c.ClientIP())
	if err := s.poller.Cycle(c.Request.Context()); err != nil {
		s.logger.Error("Manual poll failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (s *Server) handleSales(c *gin.Context) {
	limit := queryInt(c, "limit", defaultPageLimit)
	offset := queryInt(c, "offset", 0)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	listings, err := s.catalog.Page(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Sales page read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}
	total, err := s.catalog.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("Sales count failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"listings": listings,
	})
}

func (s *Server) handleLatest(c *gin.Context) {
	n := queryInt(c, "n", 10)
	if n > maxPageLimit {
		n = maxPageLimit
	}

	listings, err := s.catalog.Page(c.Request.Context(), n, 0)
	if err != nil {
		s.logger.Error("Latest read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) handleRandom(c *gin.Context) {
	n := queryInt(c, "n", 5)
	if n > maxPageLimit {
		n = maxPageLimit
	}

	listings, err := s.catalog.Random(c.Request.Context(), n)
	if err != nil {
		s.logger.Error("Random read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) handleStats(c *gin.Context) {
	total, err := s.catalog.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("Stats count failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog read failed"})
		return
	}
	enqueued, delivered, dropped, backlog := s.dispatcher.Metrics()

	c.JSON(http.StatusOK, gin.H{
		"snapshot_size":    total,
		"alerts_enqueued":  enqueued,
		"alerts_delivered": delivered,
		"alerts_dropped":   dropped,
		"alert_backlog":    backlog,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
