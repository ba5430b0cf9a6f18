package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/repository"
	"github.com/podworks/podworks/internal/usecase"
)

type JobHandler struct {
	jobUsecase *usecase.JobUsecase
	logger     *slog.Logger
}

func NewJobHandler(jobUsecase *usecase.JobUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobUsecase: jobUsecase, logger: logger.With("component", "job_handler")}
}

type createJobRequest struct {
	Type       domain.JobType  `json:"type"     binding:"required,oneof=generate batch custom"`
	Priority   domain.Priority `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	MaxRetries *int            `json:"max_retries"`
	Request    domain.Request  `json:"request"  binding:"required"`
}

type jobResponse struct {
	ID          string            `json:"id"`
	Type        domain.JobType    `json:"type"`
	Status      domain.Status     `json:"status"`
	Priority    domain.Priority   `json:"priority"`
	Progress    int               `json:"progress"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	Request     domain.Request    `json:"request"`
	Result      *domain.Result    `json:"result,omitempty"`
	Logs        []domain.LogEntry `json:"logs,omitempty"`
	LastError   *string           `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:          job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Priority:    job.Priority,
		Progress:    job.Progress,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
		Request:     job.Request,
		Result:      job.Result,
		Logs:        job.Logs,
		LastError:   job.LastError,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

func (h *JobHandler) Create(ctx *gin.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.jobUsecase.CreateJob(ctx.Request.Context(), usecase.CreateJobInput{
		Type:       req.Type,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Request:    req.Request,
	})
	if err != nil {
		if domain.ClassOf(err) == domain.ErrClassValidation {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("create job", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"job_id": job.ID,
		"job":    toJobResponse(job),
	})
}

func (h *JobHandler) GetByID(ctx *gin.Context) {
	jobID := ctx.Param("id")

	job, err := h.jobUsecase.GetByID(ctx.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("get job by id", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}

type listJobsQuery struct {
	Status domain.Status  `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	Type   domain.JobType `form:"type"   binding:"omitempty,oneof=generate batch custom"`
	Limit  int            `form:"limit"  binding:"omitempty,min=1,max=500"`
}

func (h *JobHandler) List(ctx *gin.Context) {
	var q listJobsQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := h.jobUsecase.List(ctx.Request.Context(), repository.ListJobsInput{
		Status: q.Status,
		Type:   q.Type,
		Limit:  q.Limit,
	})
	if err != nil {
		h.logger.Error("list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *JobHandler) Cancel(ctx *gin.Context) {
	jobID := ctx.Param("id")

	job, err := h.jobUsecase.CancelJob(ctx.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrJobNotPending):
			ctx.JSON(http.StatusConflict, gin.H{"error": errJobNotPending})
		default:
			h.logger.Error("cancel job", "job_id", jobID, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Retry(ctx *gin.Context) {
	jobID := ctx.Param("id")

	job, err := h.jobUsecase.RetryJob(ctx.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrJobNotFailed):
			ctx.JSON(http.StatusConflict, gin.H{"error": errJobNotFailed})
		default:
			h.logger.Error("retry job", "job_id", jobID, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}

type cleanupRequest struct {
	MaxAgeHours int `json:"max_age_hours" binding:"required,min=1"`
}

func (h *JobHandler) Cleanup(ctx *gin.Context) {
	var req cleanupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.jobUsecase.Cleanup(ctx.Request.Context(), time.Duration(req.MaxAgeHours)*time.Hour)
	if err != nil {
		if domain.ClassOf(err) == domain.ErrClassValidation {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("cleanup jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"removed": n})
}
