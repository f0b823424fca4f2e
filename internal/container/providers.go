// Package container wires the harvester components from configuration and
// owns their lifecycle.
package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/infofiscal/wsfe-harvester/internal/config"
	"github.com/infofiscal/wsfe-harvester/internal/export"
	"github.com/infofiscal/wsfe-harvester/internal/harvest"
	"github.com/infofiscal/wsfe-harvester/internal/repository"
	"github.com/infofiscal/wsfe-harvester/internal/storage"
	"github.com/infofiscal/wsfe-harvester/internal/wsaa"
	"github.com/infofiscal/wsfe-harvester/internal/wsfe"
	"github.com/infofiscal/wsfe-harvester/pkg/database"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Credentials *repository.CredentialRepository
	Runs        *repository.RunRepository
}

// AFIPBundle holds the remote service clients.
type AFIPBundle struct {
	Credentials *wsaa.Manager
	WSFE        *wsfe.Client
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage   *storage.LocalFileStorage
	FolderManager *storage.FolderManager
	Exporter      *export.Exporter
}

// ProvideDatabase opens SQLite and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := database.NewMigrator(db, logger).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// ProvideRepositories creates all repositories over db.
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Credentials: repository.NewCredentialRepository(db.DB, logger),
		Runs:        repository.NewRunRepository(db.DB, logger),
	}
}

// ProvideSigner builds the configured CMS signer.
func ProvideSigner(cfg config.AFIPConfig) (wsaa.Signer, error) {
	switch cfg.Signer {
	case config.SignerPKCS7:
		signer, err := wsaa.LoadPKCS7Signer(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case config.SignerOpenSSL, "":
		signer := wsaa.NewOpenSSLSigner(cfg.CertPath, cfg.KeyPath)
		if cfg.OpenSSLPath != "" {
			signer.Binary = cfg.OpenSSLPath
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unknown signer %q", cfg.Signer)
	}
}

// ProvideAFIPClients creates the credential manager and the WSFE client.
func ProvideAFIPClients(cfg config.AFIPConfig, cuit int64, signer wsaa.Signer, store wsaa.CredentialStore, logger *zap.Logger) *AFIPBundle {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	manager := wsaa.NewManager(wsaa.ManagerConfig{
		Service:      cfg.Service,
		Cuit:         cuit,
		TicketTTL:    cfg.TicketTTL,
		ClockSkew:    cfg.ClockSkew,
		ExpiryMargin: cfg.ExpiryMargin,
	}, signer, wsaa.NewClient(cfg.WSAAEndpoint, httpClient, logger.Named("wsaa")), store, logger.Named("wsaa"))

	client := wsfe.NewClient(cfg.WSFEEndpoint, cuit, manager, httpClient, logger.Named("wsfe"))
	client.SetRetryStrategy(ProvideRetryStrategy(cfg.MaxAttempts))

	return &AFIPBundle{Credentials: manager, WSFE: client}
}

// ProvideRetryStrategy returns the WSFE transport retry policy. One attempt
// or fewer disables retries.
func ProvideRetryStrategy(maxAttempts int) *wsfe.RetryStrategy {
	if maxAttempts <= 1 {
		return wsfe.NoRetry()
	}
	retry := wsfe.NewRetryStrategy()
	retry.MaxAttempts = maxAttempts
	return retry
}

// ProvideStorage creates the export storage rooted at the output directory.
func ProvideStorage(cfg config.ExportConfig, logger *zap.Logger) *StorageBundle {
	fs := storage.NewLocalFileStorage(cfg.OutputDir, logger)
	return &StorageBundle{
		FileStorage:   fs,
		FolderManager: storage.NewFolderManager(cfg.OutputDir, logger),
		Exporter:      NewExporter(fs, cfg, logger),
	}
}

// NewExporter creates an exporter over fs with the configured retry and
// salvage policy.
func NewExporter(fs storage.FileStorage, cfg config.ExportConfig, logger *zap.Logger) *export.Exporter {
	exporter := export.NewExporter(fs, logger)
	if cfg.Attempts > 0 {
		exporter.SetRetry(cfg.Attempts, cfg.RetryDelay)
	}
	exporter.SetSalvageDir(cfg.SalvageDir)
	return exporter
}

// ProvideHarvester creates the harvester with metrics registered on registerer.
func ProvideHarvester(client harvest.QueryClient, registerer prometheus.Registerer, logger *zap.Logger) *harvest.Harvester {
	return harvest.NewHarvester(client, harvest.NewMetrics(registerer), logger.Named("harvest"))
}
