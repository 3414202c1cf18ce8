package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kainulj/helsinki-citybike-analysis/services"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    Pinger
	cache *services.CacheService
}

func NewHealthHandler(db Pinger, cache *services.CacheService) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Health reports DOWN when the database is unreachable. A missing cache only
// degrades the service.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "UP", http.StatusOK
	database := "ok"
	if err := h.db.Ping(ctx); err != nil {
		status, code = "DOWN", http.StatusServiceUnavailable
		database = err.Error()
	}
	cache := "ok"
	if !h.cache.Available() {
		cache = "unavailable"
	}

	c.JSON(code, gin.H{
		"status":   status,
		"database": database,
		"cache":    cache,
		"message":  "Citybike forecast API is running",
	})
}
