package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/config"
	"github.com/infofiscal/wsfe-harvester/internal/harvest"
	"github.com/infofiscal/wsfe-harvester/internal/worker"
	"github.com/infofiscal/wsfe-harvester/pkg/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	registry *prometheus.Registry

	db           *database.DB
	repositories *RepositoryBundle
	afip         *AFIPBundle
	storage      *StorageBundle
	harvester    *harvest.Harvester

	runner  *worker.HarvestRunner
	workers *worker.Manager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of local components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Container{
		config:   cfg,
		logger:   logger,
		registry: registry,
	}, nil
}

// Start initializes all components:
// 1. Database and repositories
// 2. Signer, credential manager and WSFE client
// 3. Export storage
// 4. Harvester
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	cuit, err := c.config.Cuit()
	if err != nil {
		return fmt.Errorf("invalid cuit: %w", err)
	}

	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db
	c.repositories = ProvideRepositories(db, c.logger)
	c.logger.Info("Database initialized", zap.String("path", c.config.Database.Path))

	if n, err := c.repositories.Credentials.DeleteExpired(ctx, time.Now()); err != nil {
		c.logger.Warn("Failed to purge expired credentials", zap.Error(err))
	} else if n > 0 {
		c.logger.Info("Purged expired credentials", zap.Int64("count", n))
	}

	signer, err := ProvideSigner(c.config.AFIP)
	if err != nil {
		c.db.Close()
		return fmt.Errorf("failed to initialize signer: %w", err)
	}
	c.afip = ProvideAFIPClients(c.config.AFIP, cuit, signer, c.repositories.Credentials, c.logger)
	c.logger.Info("AFIP clients initialized",
		zap.String("environment", c.config.AFIP.Environment),
		zap.String("signer", c.config.AFIP.Signer),
		zap.String("wsfe_endpoint", c.config.AFIP.WSFEEndpoint))

	c.storage = ProvideStorage(c.config.Export, c.logger)
	c.harvester = ProvideHarvester(c.afip.WSFE, c.registry, c.logger)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// StartWorkers starts the background run executor. Only the daemon calls it.
func (c *Container) StartWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	if c.workers != nil {
		return fmt.Errorf("workers already started")
	}

	c.runner = worker.NewHarvestRunner(
		c.repositories.Runs,
		c.harvester,
		c.storage.Exporter,
		c.storage.FolderManager,
		c.config.Harvest.PollInterval,
		c.logger.Named("runner"),
	)
	c.workers = worker.NewManager(c.logger)
	c.workers.Register(c.runner)

	if err := c.workers.StartAll(ctx); err != nil {
		c.workers = nil
		c.runner = nil
		return err
	}
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	if c.workers != nil {
		c.workers.StopAll()
	}

	var closeErr error
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			closeErr = fmt.Errorf("close database: %w", err)
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)
	c.logger.Info("Container closed")
	return closeErr
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of local components. Remote health is
// reported separately through FEDummy.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	switch {
	case c.db == nil:
		status.Components["database"] = ComponentHealth{Message: "not initialized"}
		status.Overall = false
	case c.db.PingContext(ctx) != nil:
		status.Components["database"] = ComponentHealth{Message: "ping failed"}
		status.Overall = false
	default:
		status.Components["database"] = ComponentHealth{Healthy: true}
	}

	if c.runner != nil {
		runner := c.runner.GetStatus()
		status.Components["runner"] = ComponentHealth{
			Healthy: runner.IsRunning,
			Message: fmt.Sprintf("completed %d, failed %d", runner.CompletedCount, runner.FailedCount),
		}
		if !runner.IsRunning {
			status.Overall = false
		}
	}

	return status
}

// Getters for accessing container components

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Registry returns the Prometheus registry holding the harvest metrics.
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// AFIP returns the remote service clients.
func (c *Container) AFIP() *AFIPBundle {
	return c.afip
}

// Storage returns the export storage components.
func (c *Container) Storage() *StorageBundle {
	return c.storage
}

// Harvester returns the harvester.
func (c *Container) Harvester() *harvest.Harvester {
	return c.harvester
}

// Runner returns the run executor, or nil before StartWorkers.
func (c *Container) Runner() *worker.HarvestRunner {
	return c.runner
}
