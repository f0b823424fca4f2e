// Package harvest enumerates every voucher issued in a date range by walking
// each (sale point, voucher type) branch backward from its last authorized
// number.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/wsfe"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Harvester runs harvests against a QueryClient. One Harvester may serve
// several runs; each run gets its own limiter.
type Harvester struct {
	client  QueryClient
	metrics *Metrics
	logger  *zap.Logger
}

// NewHarvester creates a harvester. metrics may be nil.
func NewHarvester(client QueryClient, metrics *Metrics, logger *zap.Logger) *Harvester {
	return &Harvester{
		client:  client,
		metrics: metrics,
		logger:  logger,
	}
}

type branch struct {
	index       int
	salePoint   int
	voucherType int
}

type branchResult struct {
	index   int
	stats   BranchStats
	records []models.VoucherRecord
}

// Run harvests every voucher dated within cfg's range. Credential failures
// and failures of the listing calls abort the run. On cancellation the
// partial result is returned alongside ctx's error.
func (h *Harvester) Run(ctx context.Context, cfg models.HarvestConfig) (result *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid harvest config: %w", err)
	}

	start := time.Now()
	defer func() {
		h.metrics.runFinished(err, time.Since(start))
		if result != nil {
			result.Stats.Elapsed = time.Since(start)
		}
	}()

	client := newPacedClient(h.client, newLimiter(cfg.RequestPacing))

	points, err := client.SalePoints(ctx)
	h.metrics.query(wsfe.OpSalePoints, outcomeOf(err))
	if err != nil {
		return nil, fmt.Errorf("failed to list sale points: %w", err)
	}
	types, err := client.VoucherTypes(ctx)
	h.metrics.query(wsfe.OpVoucherTypes, outcomeOf(err))
	if err != nil {
		return nil, fmt.Errorf("failed to list voucher types: %w", err)
	}

	effective := cfg.EffectiveTypes(types)
	plan := h.plan(cfg, points, effective)

	h.logger.Info("Starting harvest",
		zap.String("date_from", cfg.DateFrom.Format(models.ISODateLayout)),
		zap.String("date_to", cfg.DateTo.Format(models.ISODateLayout)),
		zap.Int("sale_points", len(points)),
		zap.Int("voucher_types", len(effective)),
		zap.Int("branches", len(plan)),
		zap.Int("workers", cfg.Workers))

	results := make(chan branchResult)
	collected := make([]*branchResult, len(plan))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			collected[r.index] = &r
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, b := range plan {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stats, records, err := h.walkBranch(gctx, client, cfg, b)
			h.metrics.branchStopped(stats.StopReason)
			if err != nil {
				return err
			}
			results <- branchResult{index: b.index, stats: stats, records: records}
			return nil
		})
	}
	runErr := g.Wait()
	close(results)
	<-done

	result = &Result{Stats: Stats{
		SalePoints:   len(points),
		VoucherTypes: len(effective),
		Branches:     len(plan),
	}}
	for _, r := range collected {
		if r == nil {
			continue
		}
		result.Records = append(result.Records, r.records...)
		result.Branches = append(result.Branches, r.stats)
		result.Stats.Queries += r.stats.Queries
	}
	result.Stats.Records = len(result.Records)

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		h.logger.Error("Harvest aborted",
			zap.Error(runErr),
			zap.Int("records", result.Stats.Records))
		return result, runErr
	}

	h.logger.Info("Harvest completed",
		zap.Int("records", result.Stats.Records),
		zap.Int("queries", result.Stats.Queries),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// plan orders branches by sale point number, then voucher type in remote order
func (h *Harvester) plan(cfg models.HarvestConfig, points []models.SalePoint, types []models.VoucherType) []branch {
	sorted := make([]models.SalePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var plan []branch
	for _, sp := range sorted {
		if !sp.Active() {
			if cfg.SkipInactiveSalePoints {
				h.logger.Info("Skipping inactive sale point",
					zap.Int("sale_point", sp.Number),
					zap.Bool("blocked", sp.Blocked),
					zap.String("decommissioned", models.FormatAFIPDate(sp.DecommissionedAt)))
				continue
			}
			h.logger.Info("Walking inactive sale point",
				zap.Int("sale_point", sp.Number),
				zap.Bool("blocked", sp.Blocked),
				zap.String("decommissioned", models.FormatAFIPDate(sp.DecommissionedAt)))
		}
		for _, vt := range types {
			plan = append(plan, branch{index: len(plan), salePoint: sp.Number, voucherType: vt.ID})
		}
	}
	return plan
}

// walkBranch walks one branch from its last authorized number down to 1.
// A non-nil error is fatal to the whole run.
func (h *Harvester) walkBranch(ctx context.Context, client QueryClient, cfg models.HarvestConfig, b branch) (BranchStats, []models.VoucherRecord, error) {
	stats := BranchStats{SalePoint: b.salePoint, VoucherType: b.voucherType}
	log := h.logger.With(zap.Int("sale_point", b.salePoint), zap.Int("voucher_type", b.voucherType))

	last, err := client.LastAuthorized(ctx, b.salePoint, b.voucherType)
	stats.Queries++
	h.metrics.query(wsfe.OpLastAuthorized, outcomeOf(err))
	if err != nil {
		if fatal(ctx, err) {
			stats.StopReason = stopFor(ctx)
			return stats, nil, err
		}
		log.Warn("Failed to fetch last authorized number, skipping branch", zap.Error(err))
		stats.Errors++
		stats.StopReason = StopError
		stats.Err = err.Error()
		return stats, nil, nil
	}
	stats.LastAuthorized = last
	if last <= 0 {
		stats.StopReason = StopEmpty
		log.Debug("Branch has no authorized vouchers")
		return stats, nil, nil
	}
	log.Info("Walking branch", zap.Int64("last_authorized", last))

	var records []models.VoucherRecord
	misses := 0
	stats.StopReason = StopExhausted

walk:
	for n := last; n >= 1; n-- {
		stats.LowestNumber = n
		rec, err := client.Voucher(ctx, b.salePoint, b.voucherType, n)
		stats.Queries++

		if err != nil {
			h.metrics.query(wsfe.OpVoucher, OutcomeError)
			if fatal(ctx, err) {
				stats.StopReason = stopFor(ctx)
				return stats, records, err
			}
			stats.Errors++
			if !cfg.TransportErrorsAsMisses {
				log.Warn("Voucher lookup failed, abandoning branch", zap.Int64("number", n), zap.Error(err))
				stats.StopReason = StopError
				stats.Err = err.Error()
				break walk
			}
			log.Debug("Voucher lookup failed, counting as miss", zap.Int64("number", n), zap.Error(err))
			rec = nil
		}

		if rec == nil {
			if err == nil {
				h.metrics.query(wsfe.OpVoucher, OutcomeMiss)
			}
			misses++
			stats.Misses++
			if misses >= cfg.MaxConsecutiveMisses {
				log.Info("Consecutive miss cutoff reached", zap.Int("misses", misses), zap.Int64("number", n))
				stats.StopReason = StopMissCutoff
				break walk
			}
			continue
		}

		h.metrics.query(wsfe.OpVoucher, OutcomeFound)
		stats.Found++
		misses = 0

		switch {
		case rec.IssueDate == nil:
			log.Warn("Voucher has no usable issue date, skipping", zap.Int64("number", n))
			stats.Skipped++
		case cfg.BeforeRange(*rec.IssueDate):
			log.Info("Date cutoff reached",
				zap.Int64("number", n),
				zap.String("issue_date", models.FormatAFIPDate(rec.IssueDate)))
			stats.StopReason = StopDateCutoff
			break walk
		case cfg.InRange(*rec.IssueDate):
			records = append(records, *rec)
			stats.Recorded++
		default:
			log.Debug("Voucher after date range, continuing", zap.Int64("number", n))
		}
	}

	h.metrics.recorded(stats.Recorded)
	log.Info("Branch finished",
		zap.String("reason", string(stats.StopReason)),
		zap.Int("queries", stats.Queries),
		zap.Int("recorded", stats.Recorded))
	return stats, records, nil
}

// fatal reports whether err must abort the run: cancellation of the run
// context and anything that is not a remote transport or service failure,
// e.g. credential errors. A per-request HTTP timeout is a transport failure.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if wsfe.IsTransport(err) || errors.Is(err, wsfe.ErrService) {
		return false
	}
	return true
}

func stopFor(ctx context.Context) StopReason {
	if ctx.Err() != nil {
		return StopCancelled
	}
	return StopError
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeFound
}
