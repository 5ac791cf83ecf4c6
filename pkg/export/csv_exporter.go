package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Align controls horizontal cell alignment in rendered output. CSV ignores
// it; the PDF renderer uses it for numeric columns.
type Align string

const (
	AlignLeft  Align = "L"
	AlignRight Align = "R"
)

// Column describes one table column. Weight sets the relative width in
// paginated output; zero means an equal share.
type Column struct {
	Name   string
	Weight float64
	Align  Align
}

// Dataset is a rendered statement: an ordered table plus trailing summary
// lines (account, period, totals).
type Dataset struct {
	Columns []Column
	Rows    [][]string
	Summary []string
}

// CSVExporter renders a Dataset as CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes the header row, every data row, then the summary lines as
// single-cell records.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	header := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		header[i] = col.Name
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("row has %d cells, expected %d", len(row), len(data.Columns))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	for _, line := range data.Summary {
		if err := w.Write([]string{line}); err != nil {
			return nil, fmt.Errorf("write csv summary: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
