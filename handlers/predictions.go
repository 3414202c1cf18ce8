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

const predictionsTTL = 30 * time.Second

type PredictionReader interface {
	Predictions(ctx context.Context, q services.PredictionQuery) ([]models.PredictionResult, error)
}

type PredictionHandler struct {
	repo  PredictionReader
	cache *services.CacheService
	log   *slog.Logger
}

func NewPredictionHandler(repo PredictionReader, cache *services.CacheService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{repo: repo, cache: cache, log: logger.With("component", "predictions")}
}

var knownModels = map[string]bool{
	models.ModelBaseline:    true,
	models.ModelSingleStage: true,
	models.ModelTwoPhase:    true,
}

// GetPredictions lists predictions newest hour first, filtered by run,
// station and model.
func (h *PredictionHandler) GetPredictions(c *gin.Context) {
	p, err := ParsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := services.PredictionQuery{
		RunID:     c.Query("run_id"),
		StationID: c.Query("station_id"),
		Model:     c.Query("model"),
		Limit:     p.Limit + 1,
	}
	if p.Before != nil {
		q.Before = &services.PredictionKey{Hour: p.Before.Time, StationID: p.Before.Key(0), Model: p.Before.Key(1)}
	}
	if q.Model != "" && !knownModels[q.Model] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown model %q", q.Model)})
		return
	}

	cacheKey := fmt.Sprintf("%spredictions:%s:%s:%s:%d:%s",
		services.RunsCachePrefix, q.RunID, q.StationID, q.Model, p.Limit, p.CursorKey())

	var cached CursorResponse
	err = h.cache.Get(c.Request.Context(), cacheKey, &cached)
	switch {
	case err == nil && cached.Data != nil:
		c.JSON(http.StatusOK, cached)
		return
	case err != nil && !errors.Is(err, services.ErrCacheMiss):
		h.log.Warn("cache read failed", "key", cacheKey, "error", err)
	}

	rows, err := h.repo.Predictions(c.Request.Context(), q)
	if err != nil {
		h.log.Error("prediction query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}

	var nextCursor string
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		nextCursor = Cursor{Time: last.Hour, Keys: []string{last.StationID, last.ModelName}}.String()
	}

	resp := CursorResponse{Data: rows, NextCursor: nextCursor, HasMore: hasMore}
	go cacheResponse(h.cache, h.log, cacheKey, resp, predictionsTTL)

	c.JSON(http.StatusOK, resp)
}
