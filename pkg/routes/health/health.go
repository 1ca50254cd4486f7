// Package health exposes liveness and readiness endpoints
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/pkg/database"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
)

// Checker handles health check endpoints
type Checker struct {
	db        database.DB
	redis     *redis.Client
	version   string
	startTime time.Time
	ready     atomic.Bool
}

// NewChecker creates a new health checker
func NewChecker(db database.DB, redisClient *redis.Client, version string) *Checker {
	return &Checker{
		db:        db,
		redis:     redisClient,
		version:   version,
		startTime: time.Now(),
	}
}

// SetReady sets the readiness state
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RegisterRoutes registers health check endpoints
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

// CheckResult represents an individual check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health returns the overall health status
func (c *Checker) Health(ectx echo.Context) error {
	ctx, cancel := context.WithTimeout(ectx.Request().Context(), 5*time.Second)
	defer cancel()

	status := &HealthStatus{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult),
		ReportedAt: time.Now().UTC(),
	}

	status.Checks["database"] = c.check(func() error {
		if c.db == nil {
			return errNotConfigured
		}
		return c.db.PingContext(ctx)
	})
	status.Checks["redis"] = c.check(func() error {
		if c.redis == nil {
			return errNotConfigured
		}
		return c.redis.Ping(ctx)
	})

	httpStatus := http.StatusOK
	for _, result := range status.Checks {
		if result.Status != "healthy" {
			status.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	return ectx.JSON(httpStatus, status)
}

var errNotConfigured = &notConfiguredError{}

type notConfiguredError struct{}

func (e *notConfiguredError) Error() string { return "not configured" }

func (c *Checker) check(ping func() error) *CheckResult {
	start := time.Now()
	if err := ping(); err != nil {
		return &CheckResult{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	}
	return &CheckResult{
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
}

// Live returns the liveness status (is the service running)
func (c *Checker) Live(ectx echo.Context) error {
	return ectx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready returns the readiness status (is the service ready to accept traffic)
func (c *Checker) Ready(ectx echo.Context) error {
	if c.ready.Load() {
		return ectx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ectx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
