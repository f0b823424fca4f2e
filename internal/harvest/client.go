package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"golang.org/x/time/rate"
)

// QueryClient is the remote query surface the harvester walks
type QueryClient interface {
	SalePoints(ctx context.Context) ([]models.SalePoint, error)
	VoucherTypes(ctx context.Context) ([]models.VoucherType, error)
	LastAuthorized(ctx context.Context, salePoint, voucherType int) (int64, error)
	Voucher(ctx context.Context, salePoint, voucherType int, number int64) (*models.VoucherRecord, error)
}

// pacedClient gates every call on a limiter shared by all branches
type pacedClient struct {
	next    QueryClient
	limiter *rate.Limiter
}

func newPacedClient(next QueryClient, limiter *rate.Limiter) *pacedClient {
	return &pacedClient{next: next, limiter: limiter}
}

func (p *pacedClient) SalePoints(ctx context.Context) ([]models.SalePoint, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.SalePoints(ctx)
}

func (p *pacedClient) VoucherTypes(ctx context.Context) ([]models.VoucherType, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.VoucherTypes(ctx)
}

func (p *pacedClient) LastAuthorized(ctx context.Context, salePoint, voucherType int) (int64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return p.next.LastAuthorized(ctx, salePoint, voucherType)
}

func (p *pacedClient) Voucher(ctx context.Context, salePoint, voucherType int, number int64) (*models.VoucherRecord, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Voucher(ctx, salePoint, voucherType, number)
}

// wait blocks for a token. The limiter fails early when the deadline cannot
// be met; that is reported as context.DeadlineExceeded.
func (p *pacedClient) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

// newLimiter allows one call per pacing interval. Zero pacing is unlimited.
func newLimiter(pacing time.Duration) *rate.Limiter {
	if pacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pacing), 1)
}
