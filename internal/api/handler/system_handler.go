package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/finsightlab/finsight/internal/api/dto"
)

// Health handles GET /health
// The durable job store gates the overall verdict; the progress store and
// queue are reported but do not fail the check, since status/result reads
// work without them.
func (h *AnalysisHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	components := gin.H{}
	status := "healthy"
	code := http.StatusOK

	if err := h.dbHealth.HealthCheck(ctx); err != nil {
		h.logger.Error("Database health check failed", slog.String("error", err.Error()))
		components["postgresql"] = "down"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		components["postgresql"] = "up"
	}

	if err := h.redisHealth.HealthCheck(ctx); err != nil {
		components["redis"] = "down"
	} else {
		components["redis"] = "up"
	}

	if h.publisher.IsConnected() {
		components["rabbitmq"] = "up"
	} else {
		components["rabbitmq"] = "down"
	}

	c.JSON(code, gin.H{
		"status":            status,
		"service":           h.config.App.Name,
		"version":           h.config.App.Version,
		"components":        components,
		"supported_formats": supportedFormats(h.config.Upload.AllowedExtensions),
		"max_file_size":     fmt.Sprintf("%dMB", h.config.Upload.MaxFileSizeMB),
	})
}

// Stats handles GET /stats
// Aggregate counters over the job store and result cache.
func (h *AnalysisHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	jobStats, err := h.store.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to load job statistics", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load statistics",
		})
		return
	}

	cacheStats, err := h.cache.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to load cache statistics", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load statistics",
		})
		return
	}

	var successRate, hitRate float64
	if jobStats.Total > 0 {
		successRate = float64(jobStats.Completed) / float64(jobStats.Total)
	}
	if jobStats.Completed > 0 {
		hitRate = float64(jobStats.CompletedFromCache) / float64(jobStats.Completed)
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Jobs: dto.JobCounts{
			Total:      jobStats.Total,
			Queued:     jobStats.Queued,
			Processing: jobStats.Processing,
			Completed:  jobStats.Completed,
			Failed:     jobStats.Failed,
		},
		SuccessRate:          successRate,
		AvgProcessingSeconds: jobStats.AvgProcessingSecs,
		Cache: dto.CacheCounts{
			Entries:       cacheStats.Entries,
			TotalAccesses: cacheStats.TotalAccesses,
			HitRate:       hitRate,
		},
	})
}

// supportedFormats turns configured extensions into display names,
// ".pdf" -> "PDF".
func supportedFormats(extensions []string) []string {
	formats := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		formats = append(formats, strings.ToUpper(strings.TrimPrefix(ext, ".")))
	}
	return formats
}
