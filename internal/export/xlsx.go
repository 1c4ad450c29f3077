package export

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Expenses"

// XLSXEncoder writes a single-sheet workbook. Amounts are numeric cells.
type XLSXEncoder struct{}

func (XLSXEncoder) Encode(w io.Writer, rows []Row, total string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for i, r := range rows {
		line := i + 2
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return fmt.Errorf("row %s: %w", r.ID, err)
		}
		values := []any{r.ID, r.CreatedAt.Format(time.RFC3339), r.Name, r.Category, amount.InexactFloat64()}
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", line), &values); err != nil {
			return err
		}
	}

	totalLine := len(rows) + 2
	t, err := decimal.NewFromString(total)
	if err != nil {
		return fmt.Errorf("total: %w", err)
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("C%d", totalLine), totalLabel); err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("E%d", totalLine), t.InexactFloat64()); err != nil {
		return err
	}

	return f.Write(w)
}
