// Package export flattens harvested vouchers into CSV, JSON and XLSX
// artifacts.
package export

import (
	"strconv"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/shopspring/decimal"
)

// Columns is the fixed column order of tabular exports
var Columns = []string{
	"PtoVta",
	"CbteTipo",
	"CbteNro",
	"CbteFch",
	"DocTipo",
	"DocNro",
	"ImpTotal",
	"ImpNeto",
	"ImpOpEx",
	"ImpIVA",
	"MonId",
	"MonCotiz",
	"CodAutorizacion",
	"FchVto",
}

// ToTable flattens records into rows following Columns. Missing values are
// empty strings, dates are YYYYMMDD and amounts use canonical decimal form.
func ToTable(records []models.VoucherRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, row(r))
	}
	return rows
}

func row(r models.VoucherRecord) []string {
	return []string{
		strconv.Itoa(r.SalePoint),
		strconv.Itoa(r.VoucherType),
		strconv.FormatInt(r.Number, 10),
		models.FormatAFIPDate(r.IssueDate),
		formatIntPtr(r.DocType),
		formatInt64Ptr(r.DocNumber),
		formatDecimal(r.TotalAmount),
		formatDecimal(r.NetAmount),
		formatDecimal(r.ExemptAmount),
		formatDecimal(r.VatAmount),
		r.Currency,
		formatDecimal(r.CurrencyRate),
		r.AuthorizationCode,
		models.FormatAFIPDate(r.AuthorizationDueDate),
	}
}

// DumpRecord is the full JSON form of a record, raw payload included
type DumpRecord struct {
	SalePoint            int     `json:"PtoVta"`
	VoucherType          int     `json:"CbteTipo"`
	Number               int64   `json:"CbteNro"`
	IssueDate            *string `json:"CbteFch"`
	DocType              *int    `json:"DocTipo"`
	DocNumber            *int64  `json:"DocNro"`
	TotalAmount          *string `json:"ImpTotal"`
	NetAmount            *string `json:"ImpNeto"`
	ExemptAmount         *string `json:"ImpOpEx"`
	VatAmount            *string `json:"ImpIVA"`
	Currency             *string `json:"MonId"`
	CurrencyRate         *string `json:"MonCotiz"`
	AuthorizationCode    *string `json:"CodAutorizacion"`
	AuthorizationDueDate *string `json:"FchVto"`
	Raw                  string  `json:"raw"`
}

// ToFullDump converts records into their JSON dump form
func ToFullDump(records []models.VoucherRecord) []DumpRecord {
	out := make([]DumpRecord, 0, len(records))
	for _, r := range records {
		out = append(out, DumpRecord{
			SalePoint:            r.SalePoint,
			VoucherType:          r.VoucherType,
			Number:               r.Number,
			IssueDate:            optional(models.FormatAFIPDate(r.IssueDate)),
			DocType:              r.DocType,
			DocNumber:            r.DocNumber,
			TotalAmount:          optional(formatDecimal(r.TotalAmount)),
			NetAmount:            optional(formatDecimal(r.NetAmount)),
			ExemptAmount:         optional(formatDecimal(r.ExemptAmount)),
			VatAmount:            optional(formatDecimal(r.VatAmount)),
			Currency:             optional(r.Currency),
			CurrencyRate:         optional(formatDecimal(r.CurrencyRate)),
			AuthorizationCode:    optional(r.AuthorizationCode),
			AuthorizationDueDate: optional(models.FormatAFIPDate(r.AuthorizationDueDate)),
			Raw:                  string(r.RawPayload),
		})
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
