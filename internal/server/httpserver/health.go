package httpserver

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

// Check reports whether one dependency is ready.
type Check func(ctx context.Context) error

// Health tracks readiness: the flag flipped by the app plus dependency
// checks run on every /readyz request.
type Health struct {
	ready  atomic.Bool
	checks map[string]Check
}

func NewHealth(checks map[string]Check) *Health {
	return &Health{checks: checks}
}

func (m *Health) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Health) IsReady() bool {
	return m.ready.Load()
}

func (m *Health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *Health) Readiness(c *gin.Context) {
	if !m.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range m.checks {
		if err := check(ctx); err != nil {
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
