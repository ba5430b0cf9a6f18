package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will never run again
// without an explicit retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for the queue; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

type JobType string

const (
	JobTypeGenerate JobType = "generate"
	JobTypeBatch    JobType = "batch"
	JobTypeCustom   JobType = "custom"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotPending = errors.New("job is not pending")
	ErrJobNotFailed  = errors.New("job is not failed")
	ErrStaleJob      = errors.New("job status changed concurrently")
)

// Request is a closed union: exactly one field is non-nil, matching Job.Type.
type Request struct {
	Generate *GenerateRequest `json:"generate,omitempty"`
	Batch    *BatchRequest    `json:"batch,omitempty"`
	Custom   *CustomRequest   `json:"custom,omitempty"`
}

type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	Title        string   `json:"title,omitempty"`
	Count        int      `json:"count"`
	ProductTypes []string `json:"product_types,omitempty"`
	Platforms    []string `json:"platforms,omitempty"`
	AutoPublish  bool     `json:"auto_publish"`
}

type BatchRequest struct {
	Items []GenerateRequest `json:"items"`
}

type CustomRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result mirrors Request: the variant matching Job.Type is set once terminal.
type Result struct {
	Generate *GenerateResult `json:"generate,omitempty"`
	Batch    *BatchResult    `json:"batch,omitempty"`
	Custom   *CustomResult   `json:"custom,omitempty"`
}

type GenerateResult struct {
	Images   []ImageRef   `json:"images,omitempty"`
	Products []ProductRef `json:"products,omitempty"`
	Errors   []StageError `json:"errors,omitempty"`
}

// PartialFailure reports whether some sub-operations failed while the job
// itself still completed.
func (r *GenerateResult) PartialFailure() bool {
	return len(r.Errors) > 0 && (len(r.Images) > 0 || len(r.Products) > 0)
}

type BatchResult struct {
	Units []BatchUnit `json:"units"`
}

type BatchUnit struct {
	Index  int             `json:"index"`
	Result *GenerateResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type CustomResult struct {
	Output json.RawMessage `json:"output,omitempty"`
}

type ImageRef struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	URL        string `json:"url,omitempty"`
}

type ProductRef struct {
	Platform  string `json:"platform"`
	ProductID string `json:"product_id"`
	URL       string `json:"url,omitempty"`
}

// StageError records one failed sub-operation inside an otherwise
// successful job.
type StageError struct {
	Stage      string `json:"stage"`
	Dependency string `json:"dependency,omitempty"`
	Message    string `json:"message"`
}

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

type Job struct {
	ID       string
	Type     JobType
	Status   Status
	Priority Priority

	Request Request
	Result  *Result

	Progress   int
	RetryCount int
	MaxRetries int

	Logs []LogEntry

	LastError   *string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
