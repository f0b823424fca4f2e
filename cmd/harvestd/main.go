// Command harvestd runs queued harvests in the background and serves the
// admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/infofiscal/wsfe-harvester/internal/config"
	"github.com/infofiscal/wsfe-harvester/internal/container"
	httpapi "github.com/infofiscal/wsfe-harvester/internal/interfaces/http"
	"github.com/infofiscal/wsfe-harvester/pkg/utils"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.String("config", "", "optional YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer c.Close()

	if err := c.StartWorkers(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	handlers := httpapi.NewHandlers(
		c.Repositories().Runs,
		c.AFIP().WSFE,
		c.Runner(),
		cfg.HarvestDefaults,
		logger.Named("http"),
	)
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, c.Registry(), logger.Named("http"))

	logger.Info("harvestd started",
		zap.String("address", server.Address()),
		zap.String("environment", cfg.AFIP.Environment))

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
		c.Close()
		os.Exit(1)
	}

	logger.Info("harvestd stopped")
}
