// Package workbook reads xlsx spreadsheets into typed tables. Ingestion
// consumes tables as ordered headers plus header-to-cell rows so it never
// touches raw sheet coordinates.
package workbook

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Kind classifies a cell value.
type Kind int

const (
	Blank Kind = iota
	Text
	Number
)

// Cell is one typed spreadsheet value.
type Cell struct {
	Kind   Kind
	Text   string
	Number float64
}

// Float returns the numeric value, or nil for blank and non-numeric cells.
func (c Cell) Float() *float64 {
	if c.Kind != Number {
		return nil
	}
	v := c.Number
	return &v
}

// Row maps a column header to its cell. Columns with a blank header are
// not addressable and are dropped.
type Row map[string]Cell

// Table is one sheet: its name, the ordered header row, and the data rows.
type Table struct {
	Name    string
	Headers []string
	Rows    []Row
}

// Workbook is an opened xlsx file.
type Workbook struct {
	file *xlsx.File
}

// Open loads an xlsx file from disk.
func Open(path string) (*Workbook, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: open %s", path)
	}
	return &Workbook{file: f}, nil
}

// SheetNames returns sheet names in file order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, 0, len(w.file.Sheets))
	for _, s := range w.file.Sheets {
		names = append(names, s.Name)
	}
	return names
}

// Table reads the named sheet. The first row with any non-blank cell is the
// header row; every following row becomes a header-keyed Row.
func (w *Workbook) Table(name string) (*Table, error) {
	sheet, ok := w.file.Sheet[name]
	if !ok {
		return nil, eris.Errorf("workbook: sheet %q not found", name)
	}

	t := &Table{Name: name}
	headerSeen := false
	for _, row := range sheet.Rows {
		cells := rowToCells(row)
		if !headerSeen {
			if isBlankRow(cells) {
				continue
			}
			t.Headers = headerRow(cells)
			headerSeen = true
			continue
		}
		t.Rows = append(t.Rows, mapRow(t.Headers, cells))
	}
	return t, nil
}

func rowToCells(row *xlsx.Row) []Cell {
	cells := make([]Cell, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = parseCell(c)
	}
	return cells
}

// parseCell types a raw cell. Numbers may arrive as text with a comma
// decimal separator, which ParseFloat does not accept.
func parseCell(c *xlsx.Cell) Cell {
	s := strings.TrimSpace(c.String())
	if s == "" {
		return Cell{Kind: Blank}
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return Cell{Kind: Number, Number: f, Text: s}
	}
	return Cell{Kind: Text, Text: s}
}

func isBlankRow(cells []Cell) bool {
	for _, c := range cells {
		if c.Kind != Blank {
			return false
		}
	}
	return true
}

func headerRow(cells []Cell) []string {
	headers := make([]string, len(cells))
	for i, c := range cells {
		headers[i] = c.Text
	}
	return headers
}

func mapRow(headers []string, cells []Cell) Row {
	r := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			r[h] = cells[i]
		} else {
			r[h] = Cell{Kind: Blank}
		}
	}
	return r
}
