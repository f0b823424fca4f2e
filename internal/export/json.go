package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/infofiscal/wsfe-harvester/internal/models"
)

// WriteJSON writes ToFullDump(records) as an indented JSON array
func WriteJSON(w io.Writer, records []models.VoucherRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ToFullDump(records)); err != nil {
		return fmt.Errorf("failed to encode json dump: %w", err)
	}
	return nil
}
