// Command harvester enumerates every voucher a taxpayer issued in a date
// range and writes them as CSV and JSON (optionally XLSX).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/config"
	"github.com/infofiscal/wsfe-harvester/internal/container"
	"github.com/infofiscal/wsfe-harvester/internal/export"
	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/storage"
	"github.com/infofiscal/wsfe-harvester/pkg/utils"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	from, to     string
	includeTypes []int
	excludeTypes []int
	out          string
	sleepMS      int
	maxMisses    int
	workers      int
	xlsx         bool
	configPath   string
	skipInactive bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("harvester", pflag.ContinueOnError)
	flagSet.StringVar(&opts.from, "from", "", "first issue date to include, YYYY-MM-DD (required)")
	flagSet.StringVar(&opts.to, "to", "", "last issue date to include, YYYY-MM-DD (required)")
	flagSet.IntSliceVar(&opts.includeTypes, "include-types", nil, "only harvest these voucher types (comma-separated)")
	flagSet.IntSliceVar(&opts.excludeTypes, "exclude-types", nil, "skip these voucher types (comma-separated)")
	flagSet.StringVar(&opts.out, "out", "afip_extract", "output base path; extensions are appended")
	flagSet.IntVar(&opts.sleepMS, "sleep-ms", 40, "minimum milliseconds between remote calls")
	flagSet.IntVar(&opts.maxMisses, "max-misses", models.DefaultMaxConsecutiveMisses, "consecutive missing numbers that end a branch")
	flagSet.IntVar(&opts.workers, "workers", models.DefaultWorkers, "branches walked concurrently")
	flagSet.BoolVar(&opts.xlsx, "xlsx", false, "also write an XLSX workbook")
	flagSet.StringVar(&opts.configPath, "config", "", "optional YAML config file")
	flagSet.BoolVar(&opts.skipInactive, "skip-inactive", false, "skip blocked or decommissioned sale points")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if opts.from == "" || opts.to == "" {
		return fmt.Errorf("--from and --to are required")
	}
	from, err := models.ParseISODate(opts.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := models.ParseISODate(opts.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	harvestCfg := cfg.HarvestDefaults(from, to)
	applyFlags(flagSet, opts, &harvestCfg)
	if err := harvestCfg.Validate(); err != nil {
		return err
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	logger.Info("Harvest requested",
		zap.String("environment", cfg.AFIP.Environment),
		zap.String("cuit", cfg.AFIP.CUIT),
		zap.String("from", opts.from),
		zap.String("to", opts.to))

	result, err := c.Harvester().Run(ctx, harvestCfg)
	if err != nil {
		logger.Error("Harvest failed", zap.Error(err))
		return fmt.Errorf("harvest failed: %w", err)
	}

	paths, err := exportResult(opts, cfg.Export, result.Records, logger)
	if err != nil {
		if paths.Salvage != "" {
			fmt.Fprintf(os.Stderr, "export failed; %d vouchers saved to %s\n", len(result.Records), paths.Salvage)
		}
		return err
	}

	fmt.Printf("%d vouchers in %s (%d queries)\n",
		result.Stats.Records, result.Stats.Elapsed.Round(time.Millisecond), result.Stats.Queries)
	for _, p := range []string{paths.CSV, paths.JSON, paths.XLSX} {
		if p != "" {
			fmt.Println(p)
		}
	}
	return nil
}

// applyFlags lets explicitly set flags override the configured defaults
func applyFlags(flagSet *pflag.FlagSet, opts options, hc *models.HarvestConfig) {
	hc.IncludeTypes = opts.includeTypes
	hc.ExcludeTypes = opts.excludeTypes
	if flagSet.Changed("sleep-ms") {
		hc.RequestPacing = time.Duration(opts.sleepMS) * time.Millisecond
	}
	if flagSet.Changed("max-misses") {
		hc.MaxConsecutiveMisses = opts.maxMisses
	}
	if flagSet.Changed("workers") {
		hc.Workers = opts.workers
	}
	if flagSet.Changed("skip-inactive") {
		hc.SkipInactiveSalePoints = opts.skipInactive
	}
}

func exportResult(opts options, cfg config.ExportConfig, records []models.VoucherRecord, logger *zap.Logger) (export.Paths, error) {
	base, err := filepath.Abs(opts.out)
	if err != nil {
		return export.Paths{}, fmt.Errorf("invalid --out: %w", err)
	}

	formats := export.DefaultFormats
	if opts.xlsx {
		formats = append([]export.Format{}, export.DefaultFormats...)
		formats = append(formats, export.FormatXLSX)
	}

	exporter := container.NewExporter(storage.NewLocalFileStorage(filepath.Dir(base), logger), cfg, logger)
	return exporter.Export(base, records, formats)
}
