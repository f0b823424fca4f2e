package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := models.ParseAFIPDate(s)
	require.NoError(t, err)
	return d
}

func amount(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func sampleRecords(t *testing.T) []models.VoucherRecord {
	docType, docNumber := 80, int64(30500010912)
	return []models.VoucherRecord{
		{
			SalePoint:            3,
			VoucherType:          6,
			Number:               1520,
			IssueDate:            date(t, "20250315"),
			DocType:              &docType,
			DocNumber:            &docNumber,
			TotalAmount:          amount("1210.50"),
			NetAmount:            amount("1000.41"),
			ExemptAmount:         amount("0"),
			VatAmount:            amount("210.09"),
			Currency:             "PES",
			CurrencyRate:         amount("1"),
			AuthorizationCode:    "75123456789012",
			AuthorizationDueDate: date(t, "20250325"),
			RawPayload:           []byte("<ResultGet><Resultado>A</Resultado></ResultGet>"),
		},
		{
			// optional fields absent
			SalePoint:   3,
			VoucherType: 6,
			Number:      1519,
			IssueDate:   date(t, "20250314"),
		},
	}
}

func TestToTable(t *testing.T) {
	rows := ToTable(sampleRecords(t))
	require.Len(t, rows, 2)

	assert.Equal(t, []string{
		"3", "6", "1520", "20250315", "80", "30500010912",
		"1210.5", "1000.41", "0", "210.09", "PES", "1", "75123456789012", "20250325",
	}, rows[0])
	assert.Equal(t, []string{
		"3", "6", "1519", "20250314", "", "", "", "", "", "", "", "", "", "",
	}, rows[1])

	for _, r := range rows {
		assert.Len(t, r, len(Columns))
	}
	assert.Empty(t, ToTable(nil))
}

func TestCSV_RoundTrip(t *testing.T) {
	records := sampleRecords(t)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Columns, ",")+"\n"))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, ToTable(records), ToTable(back))
	assert.Nil(t, back[1].DocType)
	assert.False(t, back[1].TotalAmount.Valid)
}

func TestCSV_RoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Empty(t, back)
}

func TestReadCSV_Errors(t *testing.T) {
	header := strings.Join(Columns, ",")
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty input", "", nil},
		{"foreign header", "a,b,c,d,e,f,g,h,i,j,k,l,m,n\n", ErrColumns},
		{"short row", header + "\n1,2,3\n", nil},
		{"bad number", header + "\n1,6,x,20250101,,,,,,,,,,\n", nil},
		{"bad amount", header + "\n1,6,7,20250101,,,abc,,,,,,,\n", nil},
		{"bad date", header + "\n1,6,7,2025-01-01,,,,,,,,,,\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestReadCSV_StripsBOM(t *testing.T) {
	input := "\xEF\xBB\xBF" + strings.Join(Columns, ",") + "\n1,11,5,20250310,,,,,,,,,,\n"
	records, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(5), records[0].Number)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRecords(t)))

	var dump []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &dump))
	require.Len(t, dump, 2)

	assert.Equal(t, "1210.5", dump[0]["ImpTotal"])
	assert.Equal(t, "20250315", dump[0]["CbteFch"])
	assert.Equal(t, float64(80), dump[0]["DocTipo"])
	assert.Equal(t, "<ResultGet><Resultado>A</Resultado></ResultGet>", dump[0]["raw"])

	assert.Nil(t, dump[1]["ImpTotal"])
	assert.Nil(t, dump[1]["DocTipo"])
	assert.Equal(t, "", dump[1]["raw"])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleRecords(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "1520", rows[1][2])
	assert.Equal(t, "20250315", rows[1][3])
	assert.Equal(t, "PES", rows[1][10])
	assert.Equal(t, "1519", rows[2][2])
}

func TestExporter_Export(t *testing.T) {
	dir := t.TempDir()
	exporter := newTestExporter(t, storage.NewLocalFileStorage(dir, zap.NewNop()))
	records := sampleRecords(t)

	t.Run("default formats", func(t *testing.T) {
		base := filepath.Join(dir, "afip_extract")
		paths, err := exporter.Export(base, records, DefaultFormats)
		require.NoError(t, err)

		assert.Equal(t, base+".csv", paths.CSV)
		assert.Equal(t, base+".json", paths.JSON)
		assert.Empty(t, paths.XLSX)
		assert.FileExists(t, paths.CSV)
		assert.FileExists(t, paths.JSON)

		f, err := os.Open(paths.CSV)
		require.NoError(t, err)
		defer f.Close()
		back, err := ReadCSV(f)
		require.NoError(t, err)
		assert.Equal(t, ToTable(records), ToTable(back))
	})

	t.Run("with xlsx", func(t *testing.T) {
		base := filepath.Join(dir, "runs", "2025-03")
		paths, err := exporter.Export(base, records, []Format{FormatCSV, FormatJSON, FormatXLSX})
		require.NoError(t, err)
		assert.FileExists(t, paths.XLSX)
	})

	t.Run("path outside storage", func(t *testing.T) {
		_, err := exporter.Export(filepath.Join(dir, "..", "escape"), records, DefaultFormats)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExport)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := exporter.Export(filepath.Join(dir, "x"), records, []Format{"pdf"})
		assert.ErrorIs(t, err, ErrExport)
	})
}

func newTestExporter(t *testing.T, fs storage.FileStorage) *Exporter {
	t.Helper()
	e := NewExporter(fs, zap.NewNop())
	e.SetRetry(3, 0)
	e.SetSalvageDir(t.TempDir())
	return e
}

type failingStorage struct{ saves int }

func (s *failingStorage) SaveFile(string, []byte) error {
	s.saves++
	return errors.New("disk full")
}
func (s *failingStorage) SaveFileWithType(string, []byte, storage.FileType) error {
	return errors.New("disk full")
}
func (s *failingStorage) ValidatePath(string) error { return nil }

func TestExporter_StorageFailureSalvagesRecords(t *testing.T) {
	records := sampleRecords(t)
	before := ToTable(records)
	fs := &failingStorage{}
	exporter := newTestExporter(t, fs)

	paths, err := exporter.Export("out/afip_extract", records, DefaultFormats)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExport)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, before, ToTable(records))
	assert.Equal(t, 3, fs.saves)

	require.NotEmpty(t, paths.Salvage)
	assert.Equal(t, exporter.salvageDir, filepath.Dir(paths.Salvage))
	assert.True(t, strings.HasPrefix(filepath.Base(paths.Salvage), "afip_extract-salvage-"))
	assert.Contains(t, err.Error(), paths.Salvage)

	data, err := os.ReadFile(paths.Salvage)
	require.NoError(t, err)
	var dump []map[string]any
	require.NoError(t, json.Unmarshal(data, &dump))
	assert.Len(t, dump, len(records))
}

func TestExporter_UnknownFormatIsNotRetried(t *testing.T) {
	fs := &failingStorage{}
	paths, err := newTestExporter(t, fs).Export("out/x", sampleRecords(t), []Format{"pdf"})
	assert.ErrorIs(t, err, ErrExport)
	assert.Empty(t, paths.Salvage)
	assert.Zero(t, fs.saves)
}
