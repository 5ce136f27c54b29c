package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finsightlab/finsight/internal/api/dto"
	"github.com/finsightlab/finsight/internal/domain"
	"github.com/finsightlab/finsight/internal/jobstore"
)

// Analyze handles POST /analyze
// Accepts a multipart financial document upload, stages it to disk, creates
// the job record, and enqueues it for asynchronous analysis.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "A financial document file is required",
		})
		return
	}

	// Validation happens before any record or file exists: a rejected
	// upload leaves no trace.
	if !h.config.Upload.ExtensionAllowed(fileHeader.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Only PDF files are supported. Please upload a PDF financial document.",
		})
		return
	}

	if fileHeader.Size > h.config.Upload.MaxFileSizeBytes() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("File too large. Maximum size is %dMB.", h.config.Upload.MaxFileSizeMB),
		})
		return
	}

	if fileHeader.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Empty file uploaded",
		})
		return
	}

	query := strings.TrimSpace(c.PostForm("query"))
	if query == "" {
		query = h.config.Upload.DefaultQuery
	}

	jobID := uuid.New().String()

	if err := os.MkdirAll(h.config.Upload.Dir, 0o755); err != nil {
		h.logger.Error("Failed to create upload directory",
			slog.String("dir", h.config.Upload.Dir),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store uploaded file",
		})
		return
	}

	stagedPath := filepath.Join(h.config.Upload.Dir, fmt.Sprintf("financial_document_%s.pdf", jobID))
	if err := c.SaveUploadedFile(fileHeader, stagedPath); err != nil {
		h.logger.Error("Failed to stage uploaded file",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store uploaded file",
		})
		return
	}

	job := &domain.JobRecord{
		JobID:     jobID,
		Filename:  fileHeader.Filename,
		FileSize:  fileHeader.Size,
		FilePath:  stagedPath,
		Query:     query,
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create job record",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		h.discardUpload(stagedPath, jobID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create analysis job",
		})
		return
	}

	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		h.failSubmission(c, jobID, stagedPath, err)
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.failSubmission(c, jobID, stagedPath, err)
		return
	}

	h.logger.Info("Job queued",
		slog.String("job_id", jobID),
		slog.String("filename", fileHeader.Filename),
		slog.Int64("file_size", fileHeader.Size),
	)

	c.JSON(http.StatusOK, dto.AnalyzeResponse{
		JobID:         jobID,
		Status:        domain.JobStatusQueued,
		Message:       "Financial document uploaded successfully. Analysis in progress.",
		FileInfo:      dto.FileInfo{Filename: fileHeader.Filename, SizeMB: sizeMB(fileHeader.Size)},
		EstimatedTime: "1-3 minutes depending on document size",
	})
}

// failSubmission handles a publish failure after the job record exists: the
// record is marked failed so the caller is never handed a job_id that nothing
// will ever pick up.
func (h *AnalysisHandler) failSubmission(c *gin.Context, jobID, stagedPath string, cause error) {
	h.logger.Error("Failed to enqueue job",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)

	if err := h.store.AbortSubmission(c.Request.Context(), jobID, "Failed to enqueue analysis job"); err != nil {
		h.logger.Error("Failed to mark unqueued job as failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	h.discardUpload(stagedPath, jobID)

	c.JSON(http.StatusBadGateway, gin.H{
		"error": "Failed to queue analysis job. Please try again later.",
	})
}

func (h *AnalysisHandler) discardUpload(path, jobID string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove staged file",
			slog.String("job_id", jobID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// GetStatus handles GET /status/:job_id
// Reports the job's current lifecycle state; while processing, the response
// carries the worker's latest progress snapshot.
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	job, ok := h.fetchJob(c)
	if !ok {
		return
	}

	resp := dto.StatusResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		Filename:  job.Filename,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}

	switch job.Status {
	case domain.JobStatusProcessing:
		snapshot, found, err := h.progress.Get(c.Request.Context(), job.JobID)
		if err != nil {
			h.logger.Warn("Failed to read progress snapshot",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
		}
		if found {
			resp.Progress = &snapshot.Progress
			resp.Message = snapshot.Message
		} else {
			resp.Progress = new(int)
			resp.Message = "Processing..."
		}
	case domain.JobStatusCompleted:
		full := 100
		resp.Progress = &full
		resp.ProcessingTime = job.ProcessingTime
		if job.CompletedAt != nil {
			resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
		}
	case domain.JobStatusFailed:
		if job.ErrorMessage != nil {
			resp.Error = *job.ErrorMessage
		}
		if job.CompletedAt != nil {
			resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetResult handles GET /result/:job_id
// Returns the full analysis payload once the job has completed. Non-terminal
// jobs and failed jobs get a 400 so callers poll /status instead.
func (h *AnalysisHandler) GetResult(c *gin.Context) {
	job, ok := h.fetchJob(c)
	if !ok {
		return
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		// fall through to the payload below
	case domain.JobStatusFailed:
		errorMessage := "Analysis failed"
		if job.ErrorMessage != nil {
			errorMessage = *job.ErrorMessage
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  errorMessage,
			"status": job.Status,
		})
		return
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Analysis not completed yet",
			"status": job.Status,
		})
		return
	}

	agents := []string(job.AgentsUsed)
	if agents == nil {
		agents = []string{}
	}

	resp := dto.ResultResponse{
		JobID:    job.JobID,
		Status:   job.Status,
		Query:    job.Query,
		FileInfo: dto.FileInfo{Filename: job.Filename, SizeMB: sizeMB(job.FileSize)},
		Analysis: dto.AnalysisPayload{
			Summary:    derefString(job.Summary),
			Result:     derefString(job.DetailedResult),
			AgentsUsed: agents,
			Cached:     job.FromCache,
		},
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.ProcessingTime != nil {
		resp.ProcessingTime = *job.ProcessingTime
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists recent jobs with optional status filtering and keyset pagination.
func (h *AnalysisHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !validStatusFilter(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of: queued, processing, completed, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.List(c.Request.Context(), jobstore.ListFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// The store returns one extra row beyond the page size so we know
	// whether another page exists.
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	summaries := make([]dto.JobSummary, len(jobs))
	for i := range jobs {
		summaries[i] = toJobSummary(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&jobstore.ListCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       summaries,
		NextCursor: nextCursor,
	})
}

// fetchJob validates the job_id path parameter and loads the record,
// writing the error response itself when either step fails.
func (h *AnalysisHandler) fetchJob(c *gin.Context) (*domain.JobRecord, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return nil, false
	}

	return job, true
}

func toJobSummary(job *domain.JobRecord) dto.JobSummary {
	summary := dto.JobSummary{
		JobID:          job.JobID,
		Filename:       job.Filename,
		Status:         job.Status,
		FromCache:      job.FromCache,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		ProcessingTime: job.ProcessingTime,
	}
	if job.CompletedAt != nil {
		summary.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	if job.ErrorMessage != nil {
		summary.Error = *job.ErrorMessage
	}
	return summary
}

func validStatusFilter(status string) bool {
	switch status {
	case domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
		return true
	}
	return false
}

func sizeMB(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
