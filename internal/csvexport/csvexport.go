// Package csvexport writes query results to CSV files.
package csvexport

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"catdb/internal/domain"
)

// Options controls the output format. The zero value writes a comma
// separated file with a header row and no BOM.
type Options struct {
	Delimiter rune
	NoHeader  bool

	// WithBOM prefixes the UTF-8 byte order mark, which Excel needs to
	// detect the encoding.
	WithBOM bool
}

// Export writes the result to path, appending a .csv extension when the
// path has none. Nil cells become empty strings; everything else is
// rendered with fmt.
func Export(path string, result *domain.ExecutionResult, opts Options) (string, error) {
	if result == nil {
		return "", fmt.Errorf("no result to export")
	}
	if !strings.EqualFold(pathExt(path), ".csv") {
		path += ".csv"
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if opts.WithBOM {
		if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return "", fmt.Errorf("write bom: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if opts.Delimiter != 0 {
		w.Comma = opts.Delimiter
	}

	if !opts.NoHeader {
		if err := w.Write(result.Columns); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprintf("%v", row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

func pathExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], "/\\") {
		return path[i:]
	}
	return ""
}
