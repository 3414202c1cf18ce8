package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kainulj/helsinki-citybike-analysis/models"
	"github.com/kainulj/helsinki-citybike-analysis/services"
)

const runsTTL = time.Minute

type RunReader interface {
	Runs(ctx context.Context, limit int, before *services.RunKey) ([]models.ForecastRun, error)
	RunMetrics(ctx context.Context, runID string) (*models.ForecastRun, []models.MetricsRecord, error)
}

type RunHandler struct {
	repo  RunReader
	cache *services.CacheService
	log   *slog.Logger
}

func NewRunHandler(repo RunReader, cache *services.CacheService, logger *slog.Logger) *RunHandler {
	return &RunHandler{repo: repo, cache: cache, log: logger.With("component", "runs")}
}

type RunMetricsResponse struct {
	Run     models.ForecastRun     `json:"run"`
	Metrics []models.MetricsRecord `json:"metrics"`
}

// ListRuns pages through forecast runs, newest first. The cursor is the
// created_at and run id of the last run returned.
func (h *RunHandler) ListRuns(c *gin.Context) {
	p, err := ParsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cacheKey := fmt.Sprintf("%slist:%d:%s", services.RunsCachePrefix, p.Limit, p.CursorKey())
	var cached CursorResponse
	if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && cached.Data != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	var before *services.RunKey
	if p.Before != nil {
		before = &services.RunKey{CreatedAt: p.Before.Time, RunID: p.Before.Key(0)}
	}
	runs, err := h.repo.Runs(c.Request.Context(), p.Limit+1, before)
	if err != nil {
		h.log.Error("run query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	hasMore := len(runs) > p.Limit
	if hasMore {
		runs = runs[:p.Limit]
	}
	var nextCursor string
	if hasMore && len(runs) > 0 {
		last := runs[len(runs)-1]
		nextCursor = Cursor{Time: last.CreatedAt, Keys: []string{last.RunID}}.String()
	}

	resp := CursorResponse{Data: runs, NextCursor: nextCursor, HasMore: hasMore}
	go cacheResponse(h.cache, h.log, cacheKey, resp, runsTTL)

	c.JSON(http.StatusOK, resp)
}

func (h *RunHandler) GetRunMetrics(c *gin.Context) {
	runID := c.Param("id")
	cacheKey := services.RunsCachePrefix + "metrics:" + runID

	var cached RunMetricsResponse
	if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && cached.Run.RunID != "" {
		c.JSON(http.StatusOK, cached)
		return
	}

	run, metrics, err := h.repo.RunMetrics(c.Request.Context(), runID)
	if errors.Is(err, services.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %q not found", runID)})
		return
	}
	if err != nil {
		h.log.Error("run metrics query failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	resp := RunMetricsResponse{Run: *run, Metrics: metrics}
	go cacheResponse(h.cache, h.log, cacheKey, resp, runsTTL)

	c.JSON(http.StatusOK, resp)
}
