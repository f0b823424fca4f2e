package export

import (
	"fmt"
	"io"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding exported vouchers
const SheetName = "Comprobantes"

// WriteXLSX writes records as a single-sheet workbook with the Columns header.
// Identifiers and amounts are numeric cells; dates stay YYYYMMDD text.
func WriteXLSX(w io.Writer, records []models.VoucherRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(Columns))
	if err != nil {
		return fmt.Errorf("failed to resolve last column: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to resolve row %d: %w", i+2, err)
		}
		values := xlsxRow(r)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func xlsxRow(r models.VoucherRecord) []interface{} {
	var docType, docNumber interface{}
	if r.DocType != nil {
		docType = *r.DocType
	}
	if r.DocNumber != nil {
		docNumber = *r.DocNumber
	}
	return []interface{}{
		r.SalePoint,
		r.VoucherType,
		r.Number,
		models.FormatAFIPDate(r.IssueDate),
		docType,
		docNumber,
		xlsxAmount(r.TotalAmount),
		xlsxAmount(r.NetAmount),
		xlsxAmount(r.ExemptAmount),
		xlsxAmount(r.VatAmount),
		r.Currency,
		xlsxAmount(r.CurrencyRate),
		r.AuthorizationCode,
		models.FormatAFIPDate(r.AuthorizationDueDate),
	}
}

func xlsxAmount(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}
