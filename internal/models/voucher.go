package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalePoint is a numbered issuing point reported by FEParamGetPtosVenta
type SalePoint struct {
	Number           int        `json:"number"`
	EmissionType     string     `json:"emission_type,omitempty"`
	Blocked          bool       `json:"blocked"`
	DecommissionedAt *time.Time `json:"decommissioned_at,omitempty"`
}

// Active reports whether the sale point is neither blocked nor decommissioned
func (s SalePoint) Active() bool {
	return !s.Blocked && s.DecommissionedAt == nil
}

// VoucherType is a voucher class reported by FEParamGetTiposCbte
type VoucherType struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
}

// VoucherKey identifies a voucher in the remote ledger
type VoucherKey struct {
	SalePoint   int   `json:"sale_point"`
	VoucherType int   `json:"voucher_type"`
	Number      int64 `json:"number"`
}

// VoucherRecord is a voucher confirmed to exist by FECompConsultar.
// Optional fields the service omitted are left null.
type VoucherRecord struct {
	SalePoint            int                 `json:"sale_point"`
	VoucherType          int                 `json:"voucher_type"`
	Number               int64               `json:"number"`
	IssueDate            *time.Time          `json:"issue_date,omitempty"`
	DocType              *int                `json:"doc_type,omitempty"`
	DocNumber            *int64              `json:"doc_number,omitempty"`
	TotalAmount          decimal.NullDecimal `json:"total_amount"`
	NetAmount            decimal.NullDecimal `json:"net_amount"`
	ExemptAmount         decimal.NullDecimal `json:"exempt_amount"`
	VatAmount            decimal.NullDecimal `json:"vat_amount"`
	Currency             string              `json:"currency,omitempty"`
	CurrencyRate         decimal.NullDecimal `json:"currency_rate"`
	AuthorizationCode    string              `json:"authorization_code,omitempty"`
	AuthorizationDueDate *time.Time          `json:"authorization_due_date,omitempty"`
	RawPayload           []byte              `json:"-"`
}

// Key returns the ledger key of the record
func (r VoucherRecord) Key() VoucherKey {
	return VoucherKey{SalePoint: r.SalePoint, VoucherType: r.VoucherType, Number: r.Number}
}
