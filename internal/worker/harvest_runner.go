package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/export"
	"github.com/infofiscal/wsfe-harvester/internal/harvest"
	"github.com/infofiscal/wsfe-harvester/internal/models"
	"go.uber.org/zap"
)

// DefaultOutputName is the artifact base name used when a run has none
const DefaultOutputName = "afip_extract"

// ErrRunnerStopped is recorded for runs interrupted by Stop
var ErrRunnerStopped = errors.New("harvest runner stopped")

// RunStore is the run persistence the runner needs
type RunStore interface {
	ClaimNextPending(ctx context.Context) (*models.HarvestRun, error)
	MarkCompleted(ctx context.Context, run *models.HarvestRun) error
	MarkFailed(ctx context.Context, id string, runErr error, recordCount, queryCount int) error
	FailInterrupted(ctx context.Context) (int64, error)
}

// RunHarvester executes a single harvest
type RunHarvester interface {
	Run(ctx context.Context, cfg models.HarvestConfig) (*harvest.Result, error)
}

// RunExporter writes harvested records to disk
type RunExporter interface {
	Export(basePath string, records []models.VoucherRecord, formats []export.Format) (export.Paths, error)
}

// RunFolders provides one output folder per run
type RunFolders interface {
	CreateRunFolder(runID string) (string, error)
}

// HarvestRunnerStatus reports current runner status
type HarvestRunnerStatus struct {
	IsRunning      bool          `json:"is_running"`
	CurrentRunID   string        `json:"current_run_id,omitempty"`
	CompletedCount int           `json:"completed_count"`
	FailedCount    int           `json:"failed_count"`
	LastPoll       time.Time     `json:"last_poll"`
	UpSince        time.Duration `json:"up_since"`
	LastError      string        `json:"last_error,omitempty"`
}

// HarvestRunner executes queued harvest runs one at a time
type HarvestRunner struct {
	pollInterval time.Duration
	finalizeWait time.Duration

	store     RunStore
	harvester RunHarvester
	exporter  RunExporter
	folders   RunFolders
	logger    *zap.Logger

	wake chan struct{}
	wg   sync.WaitGroup

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	currentRunID   string
	completedCount int
	failedCount    int
	lastPoll       time.Time
	startTime      time.Time
	lastError      error
}

// NewHarvestRunner creates a runner polling every pollInterval
func NewHarvestRunner(
	store RunStore,
	harvester RunHarvester,
	exporter RunExporter,
	folders RunFolders,
	pollInterval time.Duration,
	logger *zap.Logger,
) *HarvestRunner {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &HarvestRunner{
		pollInterval: pollInterval,
		finalizeWait: 10 * time.Second,
		store:        store,
		harvester:    harvester,
		exporter:     exporter,
		folders:      folders,
		logger:       logger,
		wake:         make(chan struct{}, 1),
	}
}

// Name returns the worker name for identification
func (r *HarvestRunner) Name() string {
	return "HarvestRunner"
}

// Start fails runs orphaned by a previous process, then starts polling
func (r *HarvestRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("harvest runner is already running")
	}

	n, err := r.store.FailInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted runs: %w", err)
	}
	if n > 0 {
		r.logger.Warn("Marked interrupted runs as failed", zap.Int64("count", n))
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.isRunning = true
	r.startTime = time.Now()

	r.logger.Info("HarvestRunner started", zap.Duration("poll_interval", r.pollInterval))

	r.wg.Add(1)
	go r.pollLoop()
	return nil
}

// Stop cancels the current run and waits for the loop to exit. The
// cancelled run is recorded as failed.
func (r *HarvestRunner) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.logger.Info("HarvestRunner stopped",
		zap.Int("completed_count", r.completedCount),
		zap.Int("failed_count", r.failedCount))
}

// Notify asks the runner to poll now instead of waiting for the next tick
func (r *HarvestRunner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// GetStatus returns current runner status
func (r *HarvestRunner) GetStatus() HarvestRunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HarvestRunnerStatus{
		IsRunning:      r.isRunning,
		CurrentRunID:   r.currentRunID,
		CompletedCount: r.completedCount,
		FailedCount:    r.failedCount,
		LastPoll:       r.lastPoll,
	}
	if !r.startTime.IsZero() {
		status.UpSince = time.Since(r.startTime)
	}
	if r.lastError != nil {
		status.LastError = r.lastError.Error()
	}
	return status
}

func (r *HarvestRunner) pollLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.drainQueue()
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			r.drainQueue()
		case <-r.wake:
			r.drainQueue()
		}
	}
}

// drainQueue executes pending runs until none is left
func (r *HarvestRunner) drainQueue() {
	for r.ctx.Err() == nil {
		run, err := r.store.ClaimNextPending(r.ctx)

		r.mu.Lock()
		r.lastPoll = time.Now()
		if err != nil {
			r.lastError = err
		}
		r.mu.Unlock()

		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Error("Failed to claim pending run", zap.Error(err))
			}
			return
		}
		if run == nil {
			return
		}
		r.execute(run)
	}
}

// execute harvests, exports and records the outcome of one claimed run
func (r *HarvestRunner) execute(run *models.HarvestRun) {
	r.mu.Lock()
	r.currentRunID = run.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.currentRunID = ""
		r.mu.Unlock()
	}()

	logger := r.logger.With(zap.String("run_id", run.ID))
	logger.Info("Executing harvest run",
		zap.String("date_from", run.Config.DateFrom.Format(models.ISODateLayout)),
		zap.String("date_to", run.Config.DateTo.Format(models.ISODateLayout)))

	err := r.harvestAndExport(run)

	// Outcome is persisted even when the runner is stopping.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.finalizeWait)
	defer cancel()

	if err != nil {
		logger.Error("Harvest run failed", zap.Error(err))
		if markErr := r.store.MarkFailed(ctx, run.ID, err, run.RecordCount, run.QueryCount); markErr != nil {
			logger.Error("Failed to record run failure", zap.Error(markErr))
		}
		r.mu.Lock()
		r.failedCount++
		r.lastError = err
		r.mu.Unlock()
		return
	}

	if err := r.store.MarkCompleted(ctx, run); err != nil {
		logger.Error("Failed to record run completion", zap.Error(err))
		r.mu.Lock()
		r.lastError = err
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.completedCount++
	r.mu.Unlock()
	logger.Info("Harvest run completed",
		zap.Int("records", run.RecordCount),
		zap.Int("queries", run.QueryCount),
		zap.String("csv", run.CSVPath))
}

func (r *HarvestRunner) harvestAndExport(run *models.HarvestRun) error {
	result, err := r.harvester.Run(r.ctx, run.Config)
	if result != nil {
		run.RecordCount = result.Stats.Records
		run.QueryCount = result.Stats.Queries
	}
	if err != nil {
		if r.ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrRunnerStopped, err)
		}
		return fmt.Errorf("harvest failed: %w", err)
	}

	folder, err := r.folders.CreateRunFolder(run.ID)
	if err != nil {
		return err
	}
	name := DefaultOutputName
	if run.OutputBase != "" {
		name = filepath.Base(run.OutputBase)
	}

	formats := export.DefaultFormats
	if run.WithXLSX {
		formats = append([]export.Format{}, export.DefaultFormats...)
		formats = append(formats, export.FormatXLSX)
	}

	paths, err := r.exporter.Export(filepath.Join(folder, name), result.Records, formats)
	if err != nil {
		if paths.Salvage != "" {
			r.logger.Warn("Run records salvaged",
				zap.String("run_id", run.ID),
				zap.String("salvage", paths.Salvage))
		}
		return err
	}
	run.CSVPath, run.JSONPath, run.XLSXPath = paths.CSV, paths.JSON, paths.XLSX
	return nil
}
