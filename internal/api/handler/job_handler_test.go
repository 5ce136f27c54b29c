package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsightlab/finsight/internal/config"
	"github.com/finsightlab/finsight/internal/domain"
	"github.com/finsightlab/finsight/internal/jobstore"
	"github.com/finsightlab/finsight/internal/progress"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testDefaultQuery = "Provide a comprehensive analysis of this financial document including investment insights and risk assessment"

type stubStore struct {
	jobs      map[string]*domain.JobRecord
	created   []*domain.JobRecord
	createErr error

	failed  map[string]string
	failErr error

	listJobs  []domain.JobRecord
	listErr   error
	gotFilter jobstore.ListFilter

	stats    *domain.JobStats
	statsErr error
}

func (s *stubStore) Create(ctx context.Context, job *domain.JobRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, job)
	s.jobs[job.JobID] = job
	return nil
}

func (s *stubStore) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *stubStore) AbortSubmission(ctx context.Context, jobID, errorMessage string) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.failed[jobID] = errorMessage
	return nil
}

func (s *stubStore) List(ctx context.Context, filter jobstore.ListFilter) ([]domain.JobRecord, error) {
	s.gotFilter = filter
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listJobs, nil
}

func (s *stubStore) Stats(ctx context.Context) (*domain.JobStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return s.stats, nil
}

type stubCacheReader struct {
	stats    *domain.CacheStats
	statsErr error
}

func (c *stubCacheReader) Stats(ctx context.Context) (*domain.CacheStats, error) {
	if c.statsErr != nil {
		return nil, c.statsErr
	}
	return c.stats, nil
}

type stubProgressReader struct {
	snapshot *progress.Snapshot
	err      error
}

func (p *stubProgressReader) Get(ctx context.Context, jobID string) (*progress.Snapshot, bool, error) {
	if p.err != nil {
		return nil, false, p.err
	}
	if p.snapshot == nil {
		return nil, false, nil
	}
	return p.snapshot, true, nil
}

type stubPublisher struct {
	published  [][]byte
	publishErr error
	connected  bool
}

func (p *stubPublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, body)
	return nil
}

func (p *stubPublisher) IsConnected() bool {
	return p.connected
}

type stubHealth struct {
	err error
}

func (h *stubHealth) HealthCheck(ctx context.Context) error {
	return h.err
}

type handlerHarness struct {
	engine    *gin.Engine
	config    *config.Config
	store     *stubStore
	cache     *stubCacheReader
	progress  *stubProgressReader
	publisher *stubPublisher
	db        *stubHealth
	redis     *stubHealth
	uploadDir string
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()

	uploadDir := t.TempDir()
	cfg := &config.Config{
		Upload: config.UploadConfig{
			Dir:               uploadDir,
			MaxFileSizeMB:     10,
			AllowedExtensions: []string{".pdf"},
			DefaultQuery:      testDefaultQuery,
		},
		App: config.AppConfig{
			Name:    "financial-document-analyzer",
			Version: "1.0.0",
		},
	}

	h := &handlerHarness{
		config: cfg,
		store: &stubStore{
			jobs:   map[string]*domain.JobRecord{},
			failed: map[string]string{},
			stats:  &domain.JobStats{},
		},
		cache:     &stubCacheReader{stats: &domain.CacheStats{}},
		progress:  &stubProgressReader{},
		publisher: &stubPublisher{connected: true},
		db:        &stubHealth{},
		redis:     &stubHealth{},
		uploadDir: uploadDir,
	}

	analysisHandler := NewAnalysisHandler(&Dependencies{
		Logger:      slog.New(slog.DiscardHandler),
		Config:      cfg,
		Store:       h.store,
		Cache:       h.cache,
		Progress:    h.progress,
		Publisher:   h.publisher,
		DBHealth:    h.db,
		RedisHealth: h.redis,
	})

	engine := gin.New()
	engine.POST("/analyze", analysisHandler.Analyze)
	engine.GET("/status/:job_id", analysisHandler.GetStatus)
	engine.GET("/result/:job_id", analysisHandler.GetResult)
	engine.GET("/health", analysisHandler.Health)
	engine.GET("/stats", analysisHandler.Stats)
	engine.GET("/api/v1/jobs", analysisHandler.ListJobs)
	h.engine = engine

	return h
}

func (h *handlerHarness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename string, content []byte, query string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	if query != "" {
		require.NoError(t, mw.WriteField("query", query))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (h *handlerHarness) stagedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.uploadDir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return names
}

func TestAnalyze_QueuesJob(t *testing.T) {
	h := newHandlerHarness(t)

	body, contentType := multipartUpload(t, "q2-report.pdf", []byte("%PDF-1.4 revenue"), "Is this a good investment?")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody(t, w)

	jobID, _ := resp["job_id"].(string)
	_, err := uuid.Parse(jobID)
	require.NoError(t, err, "job_id must be a UUID")
	assert.Equal(t, "queued", resp["status"])

	fileInfo, _ := resp["file_info"].(map[string]any)
	require.NotNil(t, fileInfo)
	assert.Equal(t, "q2-report.pdf", fileInfo["filename"])

	// Record carries the staged path and the caller's query.
	require.Len(t, h.store.created, 1)
	job := h.store.created[0]
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "Is this a good investment?", job.Query)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, filepath.Join(h.uploadDir, "financial_document_"+jobID+".pdf"), job.FilePath)

	staged, err := os.ReadFile(job.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 revenue"), staged)

	// One queue message referencing the job.
	require.Len(t, h.publisher.published, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(h.publisher.published[0], &msg))
	assert.Equal(t, jobID, msg.JobID)
}

func TestAnalyze_RejectsNonPDF(t *testing.T) {
	h := newHandlerHarness(t)

	body, contentType := multipartUpload(t, "report.docx", []byte("not a pdf"), "")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Only PDF files are supported. Please upload a PDF financial document.", resp["error"])

	assert.Empty(t, h.store.created)
	assert.Empty(t, h.stagedFiles(t), "rejected upload must leave no staged file")
}

func TestAnalyze_RejectsOversizedFile(t *testing.T) {
	h := newHandlerHarness(t)
	h.config.Upload.MaxFileSizeMB = 1

	body, contentType := multipartUpload(t, "big.pdf", bytes.Repeat([]byte("x"), 1<<20+1), "")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "File too large. Maximum size is 1MB.", resp["error"])
	assert.Empty(t, h.store.created)
}

func TestAnalyze_RejectsEmptyFile(t *testing.T) {
	h := newHandlerHarness(t)

	body, contentType := multipartUpload(t, "empty.pdf", nil, "")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Empty file uploaded", resp["error"])
}

func TestAnalyze_MissingFileField(t *testing.T) {
	h := newHandlerHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("query", "anything"))
	require.NoError(t, mw.Close())

	w := h.do(t, http.MethodPost, "/analyze", &buf, mw.FormDataContentType())

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "A financial document file is required", resp["error"])
}

func TestAnalyze_BlankQueryGetsDefault(t *testing.T) {
	h := newHandlerHarness(t)

	body, contentType := multipartUpload(t, "report.pdf", []byte("%PDF"), "   ")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, h.store.created, 1)
	assert.Equal(t, testDefaultQuery, h.store.created[0].Query)
}

func TestAnalyze_PublishFailureFailsTheJob(t *testing.T) {
	h := newHandlerHarness(t)
	h.publisher.publishErr = errors.New("broker unreachable")

	body, contentType := multipartUpload(t, "report.pdf", []byte("%PDF"), "")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusBadGateway, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Failed to queue analysis job. Please try again later.", resp["error"])

	// The record exists but is terminal, and the staged file is gone.
	require.Len(t, h.store.created, 1)
	jobID := h.store.created[0].JobID
	assert.Equal(t, "Failed to enqueue analysis job", h.store.failed[jobID])
	assert.Empty(t, h.stagedFiles(t))
}

func TestAnalyze_CreateFailureCleansUp(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.createErr = errors.New("db down")

	body, contentType := multipartUpload(t, "report.pdf", []byte("%PDF"), "")
	w := h.do(t, http.MethodPost, "/analyze", body, contentType)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, h.publisher.published)
	assert.Empty(t, h.stagedFiles(t))
}

func queuedJobFixture() *domain.JobRecord {
	return &domain.JobRecord{
		JobID:     "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
		Filename:  "report.pdf",
		FileSize:  2621440,
		FilePath:  "/data/financial_document_9b1deb4d.pdf",
		Query:     "Should I invest?",
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func completedJobFixture() *domain.JobRecord {
	job := queuedJobFixture()
	job.Status = domain.JobStatusCompleted
	summary := "Complete financial analysis including verification, metrics analysis, investment insights, and risk assessment"
	detailed := "## Document Verification\n\nLooks like a real financial report."
	processing := 42.7
	completedAt := job.CreatedAt.Add(43 * time.Second)
	job.Summary = &summary
	job.DetailedResult = &detailed
	job.AgentsUsed = []string{
		"Document Verifier - Validated document authenticity",
		"Financial Analyst - Analyzed financial metrics and trends",
		"Investment Advisor - Provided investment recommendations",
		"Risk Assessor - Conducted comprehensive risk analysis",
	}
	job.ProcessingTime = &processing
	job.CompletedAt = &completedAt
	return job
}

func TestGetStatus_UnknownJob(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/status/"+uuid.New().String(), nil, "")

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Job not found", resp["error"])
}

func TestGetStatus_InvalidJobID(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/status/not-a-uuid", nil, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "job_id must be a valid UUID", resp["error"])
}

func TestGetStatus_QueuedJob(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, job.JobID, resp["job_id"])
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "report.pdf", resp["filename"])
	assert.Equal(t, "2025-06-01T12:00:00Z", resp["created_at"])

	_, hasProgress := resp["progress"]
	assert.False(t, hasProgress, "queued jobs report no progress")
}

func TestGetStatus_ProcessingWithSnapshot(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	job.Status = domain.JobStatusProcessing
	h.store.jobs[job.JobID] = job
	h.progress.snapshot = &progress.Snapshot{
		Progress:  50,
		Message:   "AI agents processing document...",
		UpdatedAt: time.Now(),
	}

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "processing", resp["status"])
	assert.Equal(t, float64(50), resp["progress"])
	assert.Equal(t, "AI agents processing document...", resp["message"])
}

func TestGetStatus_ProcessingWithoutSnapshot(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	job.Status = domain.JobStatusProcessing
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(0), resp["progress"])
	assert.Equal(t, "Processing...", resp["message"])
}

func TestGetStatus_ProgressReadErrorDegrades(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	job.Status = domain.JobStatusProcessing
	h.store.jobs[job.JobID] = job
	h.progress.err = errors.New("redis down")

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, float64(0), resp["progress"])
}

func TestGetStatus_CompletedJob(t *testing.T) {
	h := newHandlerHarness(t)
	job := completedJobFixture()
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, float64(100), resp["progress"])
	assert.Equal(t, 42.7, resp["processing_time"])
	assert.Equal(t, "2025-06-01T12:00:43Z", resp["completed_at"])
}

func TestGetStatus_FailedJob(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	job.Status = domain.JobStatusFailed
	errorMessage := "Error processing financial document: model exploded"
	job.ErrorMessage = &errorMessage
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/status/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, errorMessage, resp["error"])
}

func TestGetResult_NotCompletedYet(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/result/"+job.JobID, nil, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Analysis not completed yet", resp["error"])
	assert.Equal(t, "queued", resp["status"])
}

func TestGetResult_FailedJobReturnsErrorDetail(t *testing.T) {
	h := newHandlerHarness(t)
	job := queuedJobFixture()
	job.Status = domain.JobStatusFailed
	errorMessage := "Analysis timed out after 30m0s"
	job.ErrorMessage = &errorMessage
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/result/"+job.JobID, nil, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, errorMessage, resp["error"])
	assert.Equal(t, "failed", resp["status"])
}

func TestGetResult_CompletedJob(t *testing.T) {
	h := newHandlerHarness(t)
	job := completedJobFixture()
	h.store.jobs[job.JobID] = job

	w := h.do(t, http.MethodGet, "/result/"+job.JobID, nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, job.JobID, resp["job_id"])
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "Should I invest?", resp["query"])
	assert.Equal(t, 42.7, resp["processing_time"])

	fileInfo, _ := resp["file_info"].(map[string]any)
	require.NotNil(t, fileInfo)
	assert.Equal(t, "report.pdf", fileInfo["filename"])
	assert.Equal(t, 2.5, fileInfo["size_mb"])

	analysis, _ := resp["analysis"].(map[string]any)
	require.NotNil(t, analysis)
	assert.Equal(t, *job.Summary, analysis["summary"])
	assert.Equal(t, *job.DetailedResult, analysis["result"])
	assert.Equal(t, false, analysis["cached"])

	agents, _ := analysis["agents_used"].([]any)
	require.Len(t, agents, 4)
	assert.Equal(t, "Document Verifier - Validated document authenticity", agents[0])
}

func TestGetResult_UnknownJob(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/result/"+uuid.New().String(), nil, "")

	require.Equal(t, http.StatusNotFound, w.Code)
}

func listFixture(n int) []domain.JobRecord {
	jobs := make([]domain.JobRecord, n)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range jobs {
		jobs[i] = domain.JobRecord{
			JobID:     uuid.New().String(),
			Filename:  "report.pdf",
			Status:    domain.JobStatusCompleted,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return jobs
}

func TestListJobs_SinglePage(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.listJobs = listFixture(3)

	w := h.do(t, http.MethodGet, "/api/v1/jobs?page_size=5", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	jobs, _ := resp["jobs"].([]any)
	assert.Len(t, jobs, 3)
	_, hasCursor := resp["next_cursor"]
	assert.False(t, hasCursor)

	assert.Equal(t, 5, h.store.gotFilter.PageSize)
}

func TestListJobs_PaginatesWithCursor(t *testing.T) {
	h := newHandlerHarness(t)
	h.store.listJobs = listFixture(3)

	w := h.do(t, http.MethodGet, "/api/v1/jobs?page_size=2", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	jobs, _ := resp["jobs"].([]any)
	assert.Len(t, jobs, 2)

	nextCursor, _ := resp["next_cursor"].(string)
	require.NotEmpty(t, nextCursor)

	// The cursor decodes back to the last returned row's keyset position.
	cursor, err := DecodeJobCursor(nextCursor)
	require.NoError(t, err)
	assert.Equal(t, h.store.listJobs[1].JobID, cursor.JobID)
	assert.True(t, cursor.CreatedAt.Equal(h.store.listJobs[1].CreatedAt))
}

func TestListJobs_StatusFilterPassthrough(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/jobs?status=completed", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", h.store.gotFilter.Status)
}

func TestListJobs_RejectsUnknownStatus(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/jobs?status=EXPLODED", nil, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs_RejectsMalformedCursor(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/jobs?cursor=%21%21not-base64", nil, "")

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "Invalid cursor", resp["error"])
}

func TestEncodeDecodeJobCursor_RoundTrip(t *testing.T) {
	original := &jobstore.ListCursor{
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
		JobID:     "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
	}

	encoded, err := EncodeJobCursor(original)
	require.NoError(t, err)

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, original.JobID, decoded.JobID)
	assert.True(t, decoded.CreatedAt.Equal(original.CreatedAt))
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestSizeMB(t *testing.T) {
	assert.Equal(t, 2.5, sizeMB(2621440))
	assert.Equal(t, 0.0, sizeMB(0))
	assert.Equal(t, 10.0, sizeMB(10*1024*1024))
	// Rounds to two decimal places.
	assert.Equal(t, 0.01, sizeMB(10*1024))
}
