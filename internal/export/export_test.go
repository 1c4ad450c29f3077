package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"spendly/internal/core"
)

func sample() []core.ExpenseRecord {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return []core.ExpenseRecord{
		{ID: "2", OwnerID: "u", Name: "Lunch, big", Amount: core.MustParseMoney("7.255"), Category: core.Food, CreatedAt: at.Add(time.Hour)},
		{ID: "1", OwnerID: "u", Name: "Bus", Amount: core.MustParseMoney("12.5"), Category: core.Transport, CreatedAt: at},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": CSV, ".YML": YAML, "yaml": YAML, "xlsx": XLSX, "excel": XLSX} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, sample()))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, header, recs[0])
	assert.Equal(t, []string{"2", "2025-01-02T04:04:05Z", "Lunch, big", "Food", "7.26"}, recs[1])
	assert.Equal(t, []string{"", "", "TOTAL", "", "19.76"}, recs[3])
}

func TestYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, YAML, sample()))

	var doc documentYAML
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Expenses, 2)
	assert.Equal(t, "Bus", doc.Expenses[1].Name)
	assert.Equal(t, "12.50", doc.Expenses[1].Amount)
	assert.Equal(t, "19.76", doc.Total)
}

func TestXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, XLSX, sample()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "Lunch, big", rows[1][2])
	assert.Equal(t, "TOTAL", rows[3][2])
	assert.Equal(t, "19.76", rows[3][4])
}

func TestEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, CSV, nil))
	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", "TOTAL", "", "0.00"}, recs[1])
}
