package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightlab/finsight/internal/domain"
)

func TestHealth_AllComponentsUp(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "financial-document-analyzer", resp["service"])
	assert.Equal(t, "1.0.0", resp["version"])
	assert.Equal(t, "10MB", resp["max_file_size"])

	formats, _ := resp["supported_formats"].([]any)
	require.Len(t, formats, 1)
	assert.Equal(t, "PDF", formats[0])

	components, _ := resp["components"].(map[string]any)
	require.NotNil(t, components)
	assert.Equal(t, "up", components["postgresql"])
	assert.Equal(t, "up", components["redis"])
	assert.Equal(t, "up", components["rabbitmq"])
}

func TestHealth_DatabaseDownIsUnhealthy(t *testing.T) {
	h := newHandlerHarness(t)
	h.db.err = errors.New("connection refused")

	w := h.do(t, http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "unhealthy", resp["status"])

	components, _ := resp["components"].(map[string]any)
	assert.Equal(t, "down", components["postgresql"])
}

func TestHealth_AdvisoryComponentsDownStaysHealthy(t *testing.T) {
	h := newHandlerHarness(t)
	h.redis.err = errors.New("connection refused")
	h.publisher.connected = false

	w := h.do(t, http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "healthy", resp["status"])

	components, _ := resp["components"].(map[string]any)
	assert.Equal(t, "down", components["redis"])
	assert.Equal(t, "down", components["rabbitmq"])
}

func TestStats_ComputesRates(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.stats = &domain.JobStats{
		Total:              10,
		Queued:             1,
		Processing:         0,
		Completed:          8,
		Failed:             1,
		CompletedFromCache: 2,
		AvgProcessingSecs:  12.5,
	}
	h.cache.stats = &domain.CacheStats{Entries: 3, TotalAccesses: 9}

	w := h.do(t, http.MethodGet, "/stats", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)

	jobs, _ := resp["jobs"].(map[string]any)
	require.NotNil(t, jobs)
	assert.Equal(t, float64(10), jobs["total"])
	assert.Equal(t, float64(8), jobs["completed"])
	assert.Equal(t, float64(1), jobs["failed"])

	assert.Equal(t, 0.8, resp["success_rate"])
	assert.Equal(t, 12.5, resp["average_processing_seconds"])

	cache, _ := resp["cache"].(map[string]any)
	require.NotNil(t, cache)
	assert.Equal(t, float64(3), cache["entries"])
	assert.Equal(t, float64(9), cache["total_accesses"])
	assert.Equal(t, 0.25, cache["hit_rate"])
}

func TestStats_EmptyStoreReportsZeroRates(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.stats = &domain.JobStats{}
	h.cache.stats = &domain.CacheStats{}

	w := h.do(t, http.MethodGet, "/stats", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(0), resp["success_rate"])

	cache, _ := resp["cache"].(map[string]any)
	assert.Equal(t, float64(0), cache["hit_rate"])
}

func TestStats_StoreErrorIs500(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.statsErr = errors.New("db down")

	w := h.do(t, http.MethodGet, "/stats", nil, "")

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
