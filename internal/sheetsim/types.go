// Package sheetsim defines core types shared across subsystems.
package sheetsim

import (
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of a similarity job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Errors returned by JobStore implementations.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ErrQueueClosed is returned by Queue.Dequeue once no more items will arrive.
var ErrQueueClosed = errors.New("queue closed")

// Rank orders statuses along the lifecycle. Unknown statuses rank -1.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job in status s may move to next.
// Re-asserting the current non-terminal status is allowed so progress
// updates can carry their status along.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if next.Rank() < 0 {
		return false
	}
	if s.Terminal() {
		return false
	}
	if s == JobStatusQueued && next == JobStatusCompleted {
		return false
	}
	return next.Rank() >= s.Rank()
}

// JobMetadata identifies the spreadsheet a job works on.
type JobMetadata struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetName     string `json:"sheet_name"`
}

// Progress stages reported while a job runs.
const (
	StageInitializing       = "initializing"
	StageReadingSpreadsheet = "reading_spreadsheet"
	StageProcessing         = "processing"
)

// Progress is the free-form snapshot shown to pollers.
type Progress struct {
	Stage   string `json:"stage"`
	Message string `json:"message,omitempty"`
	Total   int    `json:"total,omitempty"`
	Current int    `json:"current"`
	Row     int    `json:"row,omitempty"`
}

// Result statuses.
const (
	ResultComplete = "complete"
	ResultEmpty    = "empty"
)

// Result summarizes a finished job.
type Result struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Processed int    `json:"processed"`
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Sheet     string `json:"sheet,omitempty"`
}

// Job represents the record kept for each submitted request.
type Job struct {
	ID        string      `json:"job_id"`
	Status    JobStatus   `json:"status"`
	Metadata  JobMetadata `json:"metadata"`
	Progress  *Progress   `json:"progress"`
	Result    *Result     `json:"result"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	out := j
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	return out
}

// JobUpdate carries a partial update. Nil fields are left unchanged.
type JobUpdate struct {
	Status   JobStatus
	Progress *Progress
	Result   *Result
	Error    *string
}

// JobRequest captures the per-job knobs supplied by the client.
type JobRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetName     string `json:"sheet_name"`
	ArticleColumn string `json:"article_column"`
	TargetColumn  string `json:"target_column"`
	OutputColumn  string `json:"output_column"`
	LabelColumn   string `json:"threshold_column,omitempty"`
}

// RowTask is one spreadsheet row that needs a score.
type RowTask struct {
	Row        int
	ArticleURL string
	TargetURL  string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	UserAgent string
}

// FetchResponse is the result returned by a PageFetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   JobRequest
	Submitted time.Time
}

// FinishedEvent is published once a job reaches a terminal status.
type FinishedEvent struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	SpreadsheetID string    `json:"spreadsheet_id"`
	SheetName     string    `json:"sheet_name"`
	Result        *Result   `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}
