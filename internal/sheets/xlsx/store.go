// Package xlsx implements sheets.TabularStore over local .xlsx workbooks. The
// spreadsheet id names a workbook file inside a directory.
package xlsx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/sheet-similarity/internal/sheets"
)

// Store reads and writes workbooks under Dir.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("workbook directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat workbook directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workbook path %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Path returns the workbook file backing spreadsheetID.
func (s *Store) Path(spreadsheetID string) (string, error) {
	if spreadsheetID == "" || strings.ContainsAny(spreadsheetID, `/\`) || strings.HasPrefix(spreadsheetID, ".") {
		return "", fmt.Errorf("invalid workbook id %q", spreadsheetID)
	}
	return filepath.Join(s.dir, spreadsheetID+".xlsx"), nil
}

// ReadRange returns the formatted values in rng with trailing blank cells and
// rows dropped, the way the Sheets API reports them.
func (s *Store) ReadRange(_ context.Context, spreadsheetID, rng string) ([][]string, error) {
	a1, err := sheets.ParseA1(rng)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open(spreadsheetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(a1.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", a1.Sheet, err)
	}
	var out [][]string
	for r := a1.StartRow; r <= len(rows) && (a1.EndRow == 0 || r <= a1.EndRow); r++ {
		out = append(out, window(rows[r-1], a1.StartCol, a1.EndCol))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// BatchWrite applies every range and saves the workbook once. Values that
// parse as numbers are stored as numbers.
func (s *Store) BatchWrite(_ context.Context, spreadsheetID string, data []sheets.ValueRange) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open(spreadsheetID)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for _, vr := range data {
		a1, err := sheets.ParseA1(vr.Range)
		if err != nil {
			return err
		}
		for i, row := range vr.Values {
			for j, v := range row {
				cell, err := excelize.CoordinatesToCellName(a1.StartCol+j+1, a1.StartRow+i)
				if err != nil {
					return fmt.Errorf("cell name: %w", err)
				}
				if err := f.SetCellValue(a1.Sheet, cell, userEntered(v)); err != nil {
					return fmt.Errorf("set %s!%s: %w", a1.Sheet, cell, err)
				}
			}
		}
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func (s *Store) open(spreadsheetID string) (*excelize.File, error) {
	path, err := s.Path(spreadsheetID)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", spreadsheetID, err)
	}
	return f, nil
}

func window(row []string, from, to int) []string {
	if from >= len(row) {
		return []string{}
	}
	end := len(row)
	if to+1 < end {
		end = to + 1
	}
	out := append([]string(nil), row[from:end]...)
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func userEntered(v string) any {
	if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return n
	}
	return v
}

// CreateWorkbook writes a new workbook whose first sheet is named sheetName
// and filled with rows starting at A1.
func CreateWorkbook(path, sheetName string, rows [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for r, row := range rows {
		for c, v := range row {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("set cell: %w", err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
