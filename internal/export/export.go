// Package export writes an expense list to a file format, one Encoder per
// format. Every format ends with a total row computed over the exact sum.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"spendly/internal/core"
)

// Format names a supported output.
type Format string

const (
	CSV  Format = "csv"
	YAML Format = "yaml"
	XLSX Format = "xlsx"
)

// Row is the flattened form shared by all encoders.
type Row struct {
	ID        string
	CreatedAt time.Time
	Name      string
	Category  string
	Amount    string
}

var header = []string{"id", "created_at", "name", "category", "amount"}

const totalLabel = "TOTAL"

// Encoder writes rows and the formatted total to w.
type Encoder interface {
	Encode(w io.Writer, rows []Row, total string) error
}

// ParseFormat accepts a format name or a file extension.
func ParseFormat(s string) (Format, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch s {
	case "csv":
		return CSV, nil
	case "yaml", "yml":
		return YAML, nil
	case "xlsx", "excel":
		return XLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// EncoderFor returns the encoder of f.
func EncoderFor(f Format) (Encoder, error) {
	switch f {
	case CSV:
		return CSVEncoder{}, nil
	case YAML:
		return YAMLEncoder{}, nil
	case XLSX:
		return XLSXEncoder{}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}

// Write encodes records in f to w.
func Write(w io.Writer, f Format, records []core.ExpenseRecord) error {
	enc, err := EncoderFor(f)
	if err != nil {
		return err
	}
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			ID:        r.ID.String(),
			CreatedAt: r.CreatedAt.UTC(),
			Name:      r.Name,
			Category:  r.Category.String(),
			Amount:    r.Amount.Format(),
		})
	}
	if err := enc.Encode(w, rows, core.Total(records).Format()); err != nil {
		return fmt.Errorf("encode %s: %w", f, err)
	}
	return nil
}
