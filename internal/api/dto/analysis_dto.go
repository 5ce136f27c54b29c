package dto

// FileInfo echoes upload metadata back to the caller. SizeMB is rounded to
// two decimal places.
type FileInfo struct {
	Filename string  `json:"filename"`
	SizeMB   float64 `json:"size_mb"`
}

// AnalyzeResponse is returned by POST /analyze once the job is queued.
type AnalyzeResponse struct {
	JobID         string   `json:"job_id"`
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	FileInfo      FileInfo `json:"file_info"`
	EstimatedTime string   `json:"estimated_time"`
}

// StatusResponse is returned by GET /status/:job_id. Fields that do not
// apply to the job's current status are omitted.
type StatusResponse struct {
	JobID          string   `json:"job_id"`
	Status         string   `json:"status"`
	Filename       string   `json:"filename"`
	CreatedAt      string   `json:"created_at"`
	Progress       *int     `json:"progress,omitempty"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	CompletedAt    string   `json:"completed_at,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
}

// AnalysisPayload nests the analysis output inside the result response.
// Result carries the full multi-section report.
type AnalysisPayload struct {
	Summary    string   `json:"summary"`
	Result     string   `json:"result"`
	AgentsUsed []string `json:"agents_used"`
	Cached     bool     `json:"cached"`
}

// ResultResponse is the full payload for a completed job.
type ResultResponse struct {
	JobID          string          `json:"job_id"`
	Status         string          `json:"status"`
	Query          string          `json:"query"`
	FileInfo       FileInfo        `json:"file_info"`
	Analysis       AnalysisPayload `json:"analysis"`
	ProcessingTime float64         `json:"processing_time"`
	CreatedAt      string          `json:"created_at"`
	CompletedAt    string          `json:"completed_at"`
}

// ListJobsRequest binds the query parameters for GET /api/v1/jobs.
type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// JobSummary is one row in a job listing.
type JobSummary struct {
	JobID          string   `json:"job_id"`
	Filename       string   `json:"filename"`
	Status         string   `json:"status"`
	FromCache      bool     `json:"from_cache"`
	CreatedAt      string   `json:"created_at"`
	CompletedAt    string   `json:"completed_at,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type ListJobsResponse struct {
	Jobs       []JobSummary `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// JobCounts breaks the job population down by status.
type JobCounts struct {
	Total      int64 `json:"total"`
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// CacheCounts reports result-cache usage.
type CacheCounts struct {
	Entries       int64   `json:"entries"`
	TotalAccesses int64   `json:"total_accesses"`
	HitRate       float64 `json:"hit_rate"`
}

// StatsResponse aggregates job and cache counters for GET /stats.
type StatsResponse struct {
	Jobs                 JobCounts   `json:"jobs"`
	SuccessRate          float64     `json:"success_rate"`
	AvgProcessingSeconds float64     `json:"average_processing_seconds"`
	Cache                CacheCounts `json:"cache"`
}
