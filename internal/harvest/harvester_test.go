package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/wsfe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type branchKey struct {
	salePoint   int
	voucherType int
}

// fakeLedger is an in-memory remote ledger that records every query
type fakeLedger struct {
	mu sync.Mutex

	salePoints   []models.SalePoint
	voucherTypes []models.VoucherType
	last         map[branchKey]int64
	lastErr      map[branchKey]error
	// dates holds the issue date (YYYYMMDD) of each existing voucher; ""
	// means a record without a usable date
	dates   map[models.VoucherKey]string
	failing map[models.VoucherKey]error

	listErr  error
	voucherQ []models.VoucherKey
	lastQ    []branchKey
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		last:    make(map[branchKey]int64),
		lastErr: make(map[branchKey]error),
		dates:   make(map[models.VoucherKey]string),
		failing: make(map[models.VoucherKey]error),
	}
}

func (f *fakeLedger) branch(sp, vt int, last int64, dates map[int64]string) {
	f.last[branchKey{sp, vt}] = last
	for n, d := range dates {
		f.dates[models.VoucherKey{SalePoint: sp, VoucherType: vt, Number: n}] = d
	}
}

func (f *fakeLedger) SalePoints(ctx context.Context) ([]models.SalePoint, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.salePoints, nil
}

func (f *fakeLedger) VoucherTypes(ctx context.Context) ([]models.VoucherType, error) {
	return f.voucherTypes, nil
}

func (f *fakeLedger) LastAuthorized(ctx context.Context, sp, vt int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := branchKey{sp, vt}
	f.lastQ = append(f.lastQ, key)
	if err := f.lastErr[key]; err != nil {
		return 0, err
	}
	return f.last[key], nil
}

func (f *fakeLedger) Voucher(ctx context.Context, sp, vt int, n int64) (*models.VoucherRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.VoucherKey{SalePoint: sp, VoucherType: vt, Number: n}
	f.voucherQ = append(f.voucherQ, key)
	if err := f.failing[key]; err != nil {
		return nil, err
	}
	d, ok := f.dates[key]
	if !ok {
		return nil, nil
	}
	issue, _ := models.ParseAFIPDate(d)
	return &models.VoucherRecord{SalePoint: sp, VoucherType: vt, Number: n, IssueDate: issue}, nil
}

func (f *fakeLedger) voucherQueries(sp, vt int) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, k := range f.voucherQ {
		if k.SalePoint == sp && k.VoucherType == vt {
			out = append(out, k.Number)
		}
	}
	return out
}

func numbers(records []models.VoucherRecord) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.Number)
	}
	return out
}

func testConfig(t *testing.T, from, to string) models.HarvestConfig {
	t.Helper()
	f, err := models.ParseISODate(from)
	require.NoError(t, err)
	d, err := models.ParseISODate(to)
	require.NoError(t, err)
	cfg := models.NewHarvestConfig(f, d)
	cfg.RequestPacing = 0
	return cfg
}

func newTestHarvester(client QueryClient) *Harvester {
	return NewHarvester(client, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
}

func singleBranchLedger(sp, vt int) *fakeLedger {
	f := newFakeLedger()
	f.salePoints = []models.SalePoint{{Number: sp}}
	f.voucherTypes = []models.VoucherType{{ID: vt}}
	return f
}

func TestRun_MissCutoffAtRangeStart(t *testing.T) {
	ledger := singleBranchLedger(1, 11)
	ledger.branch(1, 11, 5, map[int64]string{5: "20250310", 4: "20250305", 3: "20250301"})

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.MaxConsecutiveMisses = 2

	res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, []int64{5, 4, 3}, numbers(res.Records))
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ledger.voucherQueries(1, 11))
	require.Len(t, res.Branches, 1)
	assert.Equal(t, StopMissCutoff, res.Branches[0].StopReason)
	assert.Equal(t, 3, res.Branches[0].Recorded)
}

func TestRun_DateWindowWithinBranch(t *testing.T) {
	ledger := singleBranchLedger(2, 6)
	ledger.branch(2, 6, 10, map[int64]string{10: "20250415", 9: "20250320", 8: "20250228", 7: "20250227"})

	res, err := newTestHarvester(ledger).Run(context.Background(), testConfig(t, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)

	assert.Equal(t, []int64{9}, numbers(res.Records))
	assert.Equal(t, []int64{10, 9, 8}, ledger.voucherQueries(2, 6))
	assert.Equal(t, StopDateCutoff, res.Branches[0].StopReason)
	assert.Equal(t, 0, res.Branches[0].Misses)
}

func TestRun_EmptyBranchIssuesNoVoucherQueries(t *testing.T) {
	ledger := singleBranchLedger(3, 1)
	ledger.branch(3, 1, 0, nil)

	res, err := newTestHarvester(ledger).Run(context.Background(), testConfig(t, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)

	assert.Empty(t, res.Records)
	assert.Empty(t, ledger.voucherQueries(3, 1))
	assert.Equal(t, []branchKey{{3, 1}}, ledger.lastQ)
	assert.Equal(t, StopEmpty, res.Branches[0].StopReason)
	assert.Equal(t, 1, res.Branches[0].Queries)
}

func TestRun_MissCutoffIssuesExactlyKQueries(t *testing.T) {
	for _, k := range []int{1, 3, 80} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			ledger := singleBranchLedger(1, 1)
			ledger.branch(1, 1, 500, nil)

			cfg := testConfig(t, "2025-01-01", "2025-12-31")
			cfg.MaxConsecutiveMisses = k

			res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
			require.NoError(t, err)
			assert.Len(t, ledger.voucherQueries(1, 1), k)
			assert.Equal(t, StopMissCutoff, res.Branches[0].StopReason)
			assert.Equal(t, int64(500-k+1), res.Branches[0].LowestNumber)
		})
	}
}

func TestRun_FoundRecordResetsMisses(t *testing.T) {
	ledger := singleBranchLedger(1, 1)
	// gaps of 2 between found records; out-of-range record at 17 still resets
	ledger.branch(1, 1, 20, map[int64]string{
		20: "20250310",
		17: "20250501",
		14: "20250305",
		11: "20250302",
	})

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.MaxConsecutiveMisses = 3

	res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, []int64{20, 14, 11}, numbers(res.Records))
	assert.Equal(t, []int64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8}, ledger.voucherQueries(1, 1))
	assert.Equal(t, 4, res.Branches[0].Found)
}

func TestRun_ExhaustsBranch(t *testing.T) {
	ledger := singleBranchLedger(1, 1)
	ledger.branch(1, 1, 3, map[int64]string{3: "20250310", 2: "20250309", 1: "20250308"})

	res, err := newTestHarvester(ledger).Run(context.Background(), testConfig(t, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, numbers(res.Records))
	assert.Equal(t, StopExhausted, res.Branches[0].StopReason)
}

func TestRun_RecordWithoutIssueDateIsSkipped(t *testing.T) {
	ledger := singleBranchLedger(1, 1)
	ledger.branch(1, 1, 3, map[int64]string{3: "20250310", 2: "", 1: "20250308"})

	res, err := newTestHarvester(ledger).Run(context.Background(), testConfig(t, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, numbers(res.Records))
	assert.Equal(t, 1, res.Branches[0].Skipped)
	assert.Equal(t, 0, res.Branches[0].Misses)
}

func TestRun_TypeFilterAndPlanOrder(t *testing.T) {
	ledger := newFakeLedger()
	ledger.salePoints = []models.SalePoint{{Number: 5}, {Number: 2}}
	ledger.voucherTypes = []models.VoucherType{{ID: 11}, {ID: 1}, {ID: 6}, {ID: 3}}
	for _, sp := range []int{2, 5} {
		for _, vt := range []int{11, 1, 6, 3} {
			ledger.branch(sp, vt, 1, map[int64]string{1: "20250310"})
		}
	}

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.IncludeTypes = []int{1, 6, 11}
	cfg.ExcludeTypes = []int{6}

	res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
	require.NoError(t, err)

	var got []models.VoucherKey
	for _, r := range res.Records {
		got = append(got, r.Key())
	}
	assert.Equal(t, []models.VoucherKey{
		{SalePoint: 2, VoucherType: 11, Number: 1},
		{SalePoint: 2, VoucherType: 1, Number: 1},
		{SalePoint: 5, VoucherType: 11, Number: 1},
		{SalePoint: 5, VoucherType: 1, Number: 1},
	}, got)
	assert.Equal(t, 2, res.Stats.VoucherTypes)
	assert.Equal(t, 4, res.Stats.Branches)
}

func TestRun_InactiveSalePoints(t *testing.T) {
	decommissioned := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	build := func() *fakeLedger {
		l := newFakeLedger()
		l.salePoints = []models.SalePoint{{Number: 1}, {Number: 2, Blocked: true}, {Number: 3, DecommissionedAt: &decommissioned}}
		l.voucherTypes = []models.VoucherType{{ID: 1}}
		for sp := 1; sp <= 3; sp++ {
			l.branch(sp, 1, 1, map[int64]string{1: "20250310"})
		}
		return l
	}
	cfg := testConfig(t, "2025-03-01", "2025-03-31")

	t.Run("walked by default", func(t *testing.T) {
		res, err := newTestHarvester(build()).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Len(t, res.Records, 3)
	})

	t.Run("skipped on request", func(t *testing.T) {
		cfg := cfg
		cfg.SkipInactiveSalePoints = true
		ledger := build()
		res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Len(t, res.Records, 1)
		assert.Equal(t, []branchKey{{1, 1}}, ledger.lastQ)
	})
}

func TestRun_ConcurrentMatchesSequential(t *testing.T) {
	build := func() *fakeLedger {
		l := newFakeLedger()
		for sp := 1; sp <= 4; sp++ {
			l.salePoints = append(l.salePoints, models.SalePoint{Number: sp})
		}
		l.voucherTypes = []models.VoucherType{{ID: 1}, {ID: 6}, {ID: 11}}
		for sp := 1; sp <= 4; sp++ {
			for _, vt := range []int{1, 6, 11} {
				dates := make(map[int64]string)
				for n := int64(1); n <= 30; n++ {
					if (n+int64(sp)+int64(vt))%4 == 0 {
						continue
					}
					if n <= 3 {
						dates[n] = "20250220"
						continue
					}
					dates[n] = fmt.Sprintf("202503%02d", 5+(n%24))
				}
				l.branch(sp, vt, 30, dates)
			}
		}
		return l
	}
	cfg := testConfig(t, "2025-03-05", "2025-03-25")
	cfg.MaxConsecutiveMisses = 2

	seq, err := newTestHarvester(build()).Run(context.Background(), cfg)
	require.NoError(t, err)

	cfg.Workers = 5
	par, err := newTestHarvester(build()).Run(context.Background(), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, seq.Records)
	assert.Equal(t, seq.Records, par.Records)
	assert.Equal(t, seq.Branches, par.Branches)
	assert.Equal(t, seq.Stats.Queries, par.Stats.Queries)
}

func TestRun_TransportErrorPolicy(t *testing.T) {
	transportErr := &wsfe.TransportError{Op: wsfe.OpVoucher, StatusCode: 503}
	build := func() *fakeLedger {
		l := singleBranchLedger(1, 1)
		l.branch(1, 1, 4, map[int64]string{4: "20250310", 2: "20250308", 1: "20250307"})
		l.failing[models.VoucherKey{SalePoint: 1, VoucherType: 1, Number: 3}] = transportErr
		return l
	}

	t.Run("counted as miss", func(t *testing.T) {
		cfg := testConfig(t, "2025-03-01", "2025-03-31")
		res, err := newTestHarvester(build()).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 2, 1}, numbers(res.Records))
		assert.Equal(t, 1, res.Branches[0].Errors)
		assert.Equal(t, 1, res.Branches[0].Misses)
	})

	t.Run("abandons branch", func(t *testing.T) {
		cfg := testConfig(t, "2025-03-01", "2025-03-31")
		cfg.TransportErrorsAsMisses = false
		res, err := newTestHarvester(build()).Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, []int64{4}, numbers(res.Records))
		assert.Equal(t, StopError, res.Branches[0].StopReason)
		assert.NotEmpty(t, res.Branches[0].Err)
	})
}

type fixedCredential struct{}

func (fixedCredential) Credential(ctx context.Context) (models.Credential, error) {
	return models.Credential{Token: "T", Sign: "S"}, nil
}

// slowVoucherLedger sends one voucher lookup through a real client whose
// server answers after the client's timeout
type slowVoucherLedger struct {
	*fakeLedger
	slow   models.VoucherKey
	client *wsfe.Client
}

func (l *slowVoucherLedger) Voucher(ctx context.Context, sp, vt int, n int64) (*models.VoucherRecord, error) {
	if (models.VoucherKey{SalePoint: sp, VoucherType: vt, Number: n}) == l.slow {
		return l.client.Voucher(ctx, sp, vt, n)
	}
	return l.fakeLedger.Voucher(ctx, sp, vt, n)
}

func TestRun_HTTPTimeoutIsContainedToItsNumber(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(200 * time.Millisecond):
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := wsfe.NewClient(server.URL, 20321518045, fixedCredential{},
		&http.Client{Timeout: 50 * time.Millisecond}, zap.NewNop())
	client.SetRetryStrategy(wsfe.NoRetry())

	ledger := newFakeLedger()
	ledger.salePoints = []models.SalePoint{{Number: 1}, {Number: 2}}
	ledger.voucherTypes = []models.VoucherType{{ID: 11}}
	ledger.branch(1, 11, 5, map[int64]string{5: "20250310", 3: "20250308", 2: "20250301"})
	ledger.branch(2, 11, 2, map[int64]string{2: "20250320", 1: "20250302"})

	slow := &slowVoucherLedger{
		fakeLedger: ledger,
		slow:       models.VoucherKey{SalePoint: 1, VoucherType: 11, Number: 4},
		client:     client,
	}

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	res, err := newTestHarvester(slow).Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, res.Branches, 2)
	assert.Equal(t, 1, res.Branches[0].Errors)
	assert.Equal(t, []int64{5, 3, 2, 2, 1}, numbers(res.Records))
}

func TestRun_LastAuthorizedFailureSkipsBranch(t *testing.T) {
	ledger := newFakeLedger()
	ledger.salePoints = []models.SalePoint{{Number: 1}}
	ledger.voucherTypes = []models.VoucherType{{ID: 1}, {ID: 6}}
	ledger.branch(1, 6, 1, map[int64]string{1: "20250310"})
	ledger.lastErr[branchKey{1, 1}] = &wsfe.ServiceError{Op: wsfe.OpLastAuthorized, Errors: []wsfe.ServiceMessage{{Code: 10015, Msg: "invalid"}}}

	res, err := newTestHarvester(ledger).Run(context.Background(), testConfig(t, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, numbers(res.Records))
	require.Len(t, res.Branches, 2)
	assert.Equal(t, StopError, res.Branches[0].StopReason)
	assert.Empty(t, ledger.voucherQueries(1, 1))
}

func TestRun_FatalErrors(t *testing.T) {
	cfg := testConfig(t, "2025-03-01", "2025-03-31")

	t.Run("listing failure", func(t *testing.T) {
		ledger := singleBranchLedger(1, 1)
		ledger.listErr = &wsfe.TransportError{Op: wsfe.OpSalePoints, StatusCode: 500}
		res, err := newTestHarvester(ledger).Run(context.Background(), cfg)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, wsfe.ErrTransport)
	})

	t.Run("credential failure mid-walk", func(t *testing.T) {
		authErr := errors.New("wsaa authentication failed")
		ledger := singleBranchLedger(1, 1)
		ledger.branch(1, 1, 5, map[int64]string{5: "20250310", 4: "20250310"})
		ledger.failing[models.VoucherKey{SalePoint: 1, VoucherType: 1, Number: 4}] = authErr

		_, err := newTestHarvester(ledger).Run(context.Background(), cfg)
		assert.ErrorIs(t, err, authErr)
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := cfg
		bad.MaxConsecutiveMisses = 0
		_, err := newTestHarvester(singleBranchLedger(1, 1)).Run(context.Background(), bad)
		assert.Error(t, err)
	})
}

func TestRun_Cancellation(t *testing.T) {
	ledger := newFakeLedger()
	ledger.salePoints = []models.SalePoint{{Number: 1}, {Number: 2}}
	ledger.voucherTypes = []models.VoucherType{{ID: 1}}
	ledger.branch(1, 1, 2, map[int64]string{2: "20250310", 1: "20250309"})
	ledger.branch(2, 1, 1_000_000, nil)

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.MaxConsecutiveMisses = 2_000_000
	cfg.RequestPacing = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := newTestHarvester(ledger).Run(ctx, cfg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, []int64{2, 1}, numbers(res.Records))
}

func TestRun_PacingLimitsRate(t *testing.T) {
	ledger := singleBranchLedger(1, 1)
	ledger.branch(1, 1, 8, nil)

	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.MaxConsecutiveMisses = 8
	cfg.RequestPacing = 10 * time.Millisecond

	start := time.Now()
	_, err := newTestHarvester(ledger).Run(context.Background(), cfg)
	require.NoError(t, err)

	// 2 listing calls + 1 last-authorized + 8 voucher lookups, first is free
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRun_Metrics(t *testing.T) {
	ledger := singleBranchLedger(1, 11)
	ledger.branch(1, 11, 5, map[int64]string{5: "20250310", 4: "20250305", 3: "20250301"})
	cfg := testConfig(t, "2025-03-01", "2025-03-31")
	cfg.MaxConsecutiveMisses = 2

	metrics := NewMetrics(prometheus.NewRegistry())
	_, err := NewHarvester(ledger, metrics, zap.NewNop()).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.records))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.queries.WithLabelValues(wsfe.OpVoucher, OutcomeFound)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.queries.WithLabelValues(wsfe.OpVoucher, OutcomeMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.branchStops.WithLabelValues(string(StopMissCutoff))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("success")))
}
