package handlers

import "github.com/gin-gonic/gin"

func RegisterRoutes(r gin.IRouter, health *HealthHandler, runs *RunHandler, predictions *PredictionHandler) {
	r.GET("/health", health.Health)

	v1 := r.Group("/api/v1")
	v1.GET("/runs", runs.ListRuns)
	v1.GET("/runs/:id/metrics", runs.GetRunMetrics)
	v1.GET("/predictions", predictions.GetPredictions)
}
