package export

import "errors"

var (
	// ErrExport wraps every failure to produce an export artifact
	ErrExport = errors.New("export failed")

	// ErrColumns means a CSV header does not match Columns
	ErrColumns = errors.New("unexpected csv columns")
)
