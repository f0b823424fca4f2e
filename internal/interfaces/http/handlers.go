package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/repository"
	"github.com/infofiscal/wsfe-harvester/internal/worker"
	"github.com/infofiscal/wsfe-harvester/internal/wsfe"
)

const maxListLimit = 200

// RunRepository is the run persistence used by the API
type RunRepository interface {
	Create(ctx context.Context, run *models.HarvestRun) error
	GetByID(ctx context.Context, id string) (*models.HarvestRun, error)
	List(ctx context.Context, limit int) ([]*models.HarvestRun, error)
}

// HealthProbe checks the remote service
type HealthProbe interface {
	Dummy(ctx context.Context) (wsfe.DummyStatus, error)
}

// RunQueue is notified when a run is enqueued
type RunQueue interface {
	Notify()
	GetStatus() worker.HarvestRunnerStatus
}

// ConfigDefaults builds the harvest config applied before request overrides
type ConfigDefaults func(from, to time.Time) models.HarvestConfig

// Handlers contains all HTTP request handlers
type Handlers struct {
	runs     RunRepository
	probe    HealthProbe
	queue    RunQueue
	defaults ConfigDefaults
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance. queue may be nil.
func NewHandlers(runs RunRepository, probe HealthProbe, queue RunQueue, defaults ConfigDefaults, logger *zap.Logger) *Handlers {
	if defaults == nil {
		defaults = models.NewHarvestConfig
	}
	return &Handlers{
		runs:     runs,
		probe:    probe,
		queue:    queue,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                      `json:"status"`
	Timestamp string                      `json:"timestamp"`
	Remote    *wsfe.DummyStatus           `json:"remote,omitempty"`
	Runner    *worker.HarvestRunnerStatus `json:"runner,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

// CreateRunRequest is the body of POST /api/runs. Omitted tuning fields
// take the configured defaults.
type CreateRunRequest struct {
	DateFrom     string `json:"date_from" binding:"required"`
	DateTo       string `json:"date_to" binding:"required"`
	IncludeTypes []int  `json:"include_types"`
	ExcludeTypes []int  `json:"exclude_types"`
	MaxMisses    *int   `json:"max_misses"`
	SleepMS      *int   `json:"sleep_ms"`
	Workers      *int   `json:"workers"`
	SkipInactive *bool  `json:"skip_inactive"`
	XLSX         bool   `json:"xlsx"`
	OutputName   string `json:"output_name"`
}

// ListRunsRequest represents query parameters for listing runs
type ListRunsRequest struct {
	Limit int `form:"limit"`
}

// HealthCheck handles GET /health. It reports 503 when FEDummy fails or any
// remote component is not OK.
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if h.queue != nil {
		status := h.queue.GetStatus()
		response.Runner = &status
	}

	code := http.StatusOK
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	remote, err := h.probe.Dummy(ctx)
	switch {
	case err != nil:
		h.logger.Warn("Health probe failed", zap.Error(err))
		response.Status = "unavailable"
		response.Error = err.Error()
		code = http.StatusServiceUnavailable
	case !remote.OK():
		response.Status = "degraded"
		response.Remote = &remote
		code = http.StatusServiceUnavailable
	default:
		response.Remote = &remote
	}

	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    response,
	})
}

// CreateRun handles POST /api/runs
func (h *Handlers) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: " + err.Error(),
		})
		return
	}

	cfg, err := h.buildConfig(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	name, err := outputName(req.OutputName)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	run := &models.HarvestRun{
		ID:         uuid.NewString(),
		Status:     models.RunStatusPending,
		Config:     cfg,
		OutputBase: name,
		WithXLSX:   req.XLSX,
		CreatedAt:  h.now().UTC(),
	}

	if err := h.runs.Create(c.Request.Context(), run); err != nil {
		h.logger.Error("Failed to enqueue harvest run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to enqueue run",
		})
		return
	}

	h.logger.Info("Harvest run enqueued",
		zap.String("run_id", run.ID),
		zap.String("date_from", req.DateFrom),
		zap.String("date_to", req.DateTo))

	if h.queue != nil {
		h.queue.Notify()
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data:    run,
	})
}

// outputName accepts a bare file name; artifacts always land in the run folder
func outputName(name string) (string, error) {
	if name == "" {
		return worker.DefaultOutputName, nil
	}
	if name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("output_name must be a plain file name, got %q", name)
	}
	return name, nil
}

func (h *Handlers) buildConfig(req CreateRunRequest) (models.HarvestConfig, error) {
	from, err := models.ParseISODate(req.DateFrom)
	if err != nil {
		return models.HarvestConfig{}, err
	}
	to, err := models.ParseISODate(req.DateTo)
	if err != nil {
		return models.HarvestConfig{}, err
	}

	cfg := h.defaults(from, to)
	cfg.IncludeTypes = req.IncludeTypes
	cfg.ExcludeTypes = req.ExcludeTypes
	if req.MaxMisses != nil {
		cfg.MaxConsecutiveMisses = *req.MaxMisses
	}
	if req.SleepMS != nil {
		cfg.RequestPacing = time.Duration(*req.SleepMS) * time.Millisecond
	}
	if req.Workers != nil {
		cfg.Workers = *req.Workers
	}
	if req.SkipInactive != nil {
		cfg.SkipInactiveSalePoints = *req.SkipInactive
	}
	return cfg, cfg.Validate()
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}
	if req.Limit <= 0 || req.Limit > maxListLimit {
		req.Limit = 50
	}

	runs, err := h.runs.List(c.Request.Context(), req.Limit)
	if err != nil {
		h.logger.Error("Failed to list harvest runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to list runs",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    runs,
	})
}

// GetRun handles GET /api/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	id := c.Param("id")
	run, err := h.runs.GetByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "run not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get harvest run", zap.String("run_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}
