package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/storage"
	"go.uber.org/zap"
)

// Format is an export artifact kind
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// DefaultFormats are always produced by the CLI
var DefaultFormats = []Format{FormatCSV, FormatJSON}

// Paths lists the written artifacts. Unrequested formats stay empty.
type Paths struct {
	CSV  string `json:"csv,omitempty"`
	JSON string `json:"json,omitempty"`
	XLSX string `json:"xlsx,omitempty"`

	// Salvage is the full JSON dump written outside storage after the
	// export itself failed
	Salvage string `json:"salvage,omitempty"`
}

type writerFunc func(w io.Writer, records []models.VoucherRecord) error

// Exporter renders records and hands the bytes to a FileStorage. A failed
// export is retried, then the records are dumped to the salvage directory.
type Exporter struct {
	storage    storage.FileStorage
	attempts   int
	retryDelay time.Duration
	salvageDir string
	logger     *zap.Logger
}

// NewExporter creates an Exporter writing through fs
func NewExporter(fs storage.FileStorage, logger *zap.Logger) *Exporter {
	return &Exporter{
		storage:    fs,
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
		salvageDir: os.TempDir(),
		logger:     logger,
	}
}

// SetRetry bounds export attempts. The n-th retry waits n*delay.
func (e *Exporter) SetRetry(attempts int, delay time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	e.attempts = attempts
	e.retryDelay = delay
}

// SetSalvageDir changes where records are dumped when exporting fails.
// Empty means the system temp dir.
func (e *Exporter) SetSalvageDir(dir string) {
	e.salvageDir = dir
}

// Export writes <basePath>.<ext> for each format. Records are not consumed.
// When every attempt fails the full dump is written to the salvage directory,
// its path is returned in Paths.Salvage and the error still wraps ErrExport.
func (e *Exporter) Export(basePath string, records []models.VoucherRecord, formats []Format) (Paths, error) {
	if basePath == "" {
		return Paths{}, fmt.Errorf("%w: empty base path", ErrExport)
	}

	var paths Paths
	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			e.logger.Warn("Retrying export", zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(e.retryDelay * time.Duration(attempt-1))
		}
		paths, err = e.exportOnce(basePath, records, formats)
		if err == nil || errors.Is(err, errUnknownFormat) {
			return paths, err
		}
	}

	salvage, serr := Salvage(e.salvageDir, filepath.Base(basePath), records)
	if serr != nil {
		e.logger.Error("Failed to salvage records", zap.Error(serr))
		return paths, err
	}
	e.logger.Warn("Export failed, records salvaged",
		zap.String("salvage", salvage),
		zap.Int("records", len(records)))
	paths.Salvage = salvage
	return paths, fmt.Errorf("%w (records saved to %s)", err, salvage)
}

var errUnknownFormat = errors.New("unknown format")

func (e *Exporter) exportOnce(basePath string, records []models.VoucherRecord, formats []Format) (Paths, error) {
	var paths Paths
	for _, format := range formats {
		var write writerFunc
		var dst *string
		switch format {
		case FormatCSV:
			write, dst = WriteCSV, &paths.CSV
		case FormatJSON:
			write, dst = WriteJSON, &paths.JSON
		case FormatXLSX:
			write, dst = WriteXLSX, &paths.XLSX
		default:
			return paths, fmt.Errorf("%w: %w %q", ErrExport, errUnknownFormat, format)
		}

		path := basePath + "." + string(format)
		var buf bytes.Buffer
		if err := write(&buf, records); err != nil {
			e.logger.Error("Failed to render export", zap.String("format", string(format)), zap.Error(err))
			return paths, fmt.Errorf("%w: %s: %w", ErrExport, format, err)
		}
		if err := e.storage.SaveFile(path, buf.Bytes()); err != nil {
			e.logger.Error("Failed to save export", zap.String("path", path), zap.Error(err))
			return paths, fmt.Errorf("%w: %s: %w", ErrExport, path, err)
		}
		*dst = path

		e.logger.Info("Export written",
			zap.String("path", path),
			zap.Int("records", len(records)))
	}
	return paths, nil
}

// Salvage writes the full JSON dump of records to a new file in dir and
// returns its path
func Salvage(dir, name string, records []models.VoucherRecord) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create salvage dir: %w", err)
	}
	f, err := os.CreateTemp(dir, name+"-salvage-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create salvage file: %w", err)
	}
	if err := WriteJSON(f, records); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close salvage file: %w", err)
	}
	return f.Name(), nil
}
