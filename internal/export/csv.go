package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/shopspring/decimal"
)

// WriteCSV writes a header row followed by ToTable(records)
func WriteCSV(w io.Writer, records []models.VoucherRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(ToTable(records)); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

// ReadCSV parses a file produced by WriteCSV back into records. Only the
// fixed columns survive; RawPayload is empty.
func ReadCSV(r io.Reader) ([]models.VoucherRecord, error) {
	br := bufio.NewReader(r)
	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if !slices.Equal(header, Columns) {
		return nil, fmt.Errorf("%w: %s", ErrColumns, strings.Join(header, ","))
	}

	var records []models.VoucherRecord
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}
		rec, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("invalid csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(f []string) (models.VoucherRecord, error) {
	var (
		rec models.VoucherRecord
		err error
	)
	if rec.SalePoint, err = strconv.Atoi(f[0]); err != nil {
		return rec, fmt.Errorf("PtoVta: %w", err)
	}
	if rec.VoucherType, err = strconv.Atoi(f[1]); err != nil {
		return rec, fmt.Errorf("CbteTipo: %w", err)
	}
	if rec.Number, err = strconv.ParseInt(f[2], 10, 64); err != nil {
		return rec, fmt.Errorf("CbteNro: %w", err)
	}
	if rec.IssueDate, err = models.ParseAFIPDate(f[3]); err != nil {
		return rec, fmt.Errorf("CbteFch: %w", err)
	}
	if f[4] != "" {
		v, err := strconv.Atoi(f[4])
		if err != nil {
			return rec, fmt.Errorf("DocTipo: %w", err)
		}
		rec.DocType = &v
	}
	if f[5] != "" {
		v, err := strconv.ParseInt(f[5], 10, 64)
		if err != nil {
			return rec, fmt.Errorf("DocNro: %w", err)
		}
		rec.DocNumber = &v
	}
	amounts := []*decimal.NullDecimal{&rec.TotalAmount, &rec.NetAmount, &rec.ExemptAmount, &rec.VatAmount}
	for i, dst := range amounts {
		if *dst, err = parseDecimal(f[6+i]); err != nil {
			return rec, fmt.Errorf("%s: %w", Columns[6+i], err)
		}
	}
	rec.Currency = f[10]
	if rec.CurrencyRate, err = parseDecimal(f[11]); err != nil {
		return rec, fmt.Errorf("MonCotiz: %w", err)
	}
	rec.AuthorizationCode = f[12]
	if rec.AuthorizationDueDate, err = models.ParseAFIPDate(f[13]); err != nil {
		return rec, fmt.Errorf("FchVto: %w", err)
	}
	return rec, nil
}

func parseDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
