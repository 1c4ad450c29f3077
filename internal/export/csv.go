package export

import (
	"encoding/csv"
	"io"
	"time"
)

// CSVEncoder writes a header, one line per row and a total line.
type CSVEncoder struct{}

func (CSVEncoder) Encode(w io.Writer, rows []Row, total string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.ID, r.CreatedAt.Format(time.RFC3339), r.Name, r.Category, r.Amount}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"", "", totalLabel, "", total}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
