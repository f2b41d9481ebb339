// Package workbook is a row-oriented table store kept in a single .xlsx file.
//
// Every sheet is a table whose first row holds the column headers. Rows are
// addressed by their 1-based sheet row number, so the first data row is row 2.
// All access goes through a Session obtained from View or Update, which hold a
// process-wide lock for their whole duration. Update saves the file once when
// the callback succeeds and discards every in-memory change when it fails.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnknownSheet = errors.New("unknown sheet")
	ErrReadOnly     = errors.New("session is read-only")
)

// Workbook owns the open spreadsheet file.
type Workbook struct {
	mu     sync.Mutex
	path   string
	sheets map[string][]string
	file   *excelize.File
}

// Open loads the workbook at path, creating it (and any missing sheets, with
// their header rows) when needed. sheets maps sheet name to column headers.
func Open(path string, sheets map[string][]string) (*Workbook, error) {
	w := &Workbook{path: path, sheets: sheets}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		f = excelize.NewFile()
	default:
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	w.file = f

	created, err := w.ensureSheets()
	if err != nil {
		f.Close()
		return nil, err
	}
	if created {
		if err := w.save(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Workbook) ensureSheets() (bool, error) {
	created := false
	for name, headers := range w.sheets {
		idx, err := w.file.GetSheetIndex(name)
		if err != nil {
			return false, fmt.Errorf("lookup sheet %s: %w", name, err)
		}
		if idx == -1 {
			if _, err := w.file.NewSheet(name); err != nil {
				return false, fmt.Errorf("create sheet %s: %w", name, err)
			}
			created = true
		}
		first, err := w.file.GetCellValue(name, "A1")
		if err != nil {
			return false, fmt.Errorf("read header of %s: %w", name, err)
		}
		if first == "" {
			row := make([]interface{}, len(headers))
			for i, h := range headers {
				row[i] = h
			}
			if err := w.file.SetSheetRow(name, "A1", &row); err != nil {
				return false, fmt.Errorf("write header of %s: %w", name, err)
			}
			created = true
		}
	}

	// Drop the default sheet excelize adds to new files once real sheets exist.
	if _, ok := w.sheets["Sheet1"]; !ok && len(w.sheets) > 0 {
		if idx, _ := w.file.GetSheetIndex("Sheet1"); idx != -1 && len(w.file.GetSheetList()) > 1 {
			if err := w.file.DeleteSheet("Sheet1"); err != nil {
				return false, fmt.Errorf("delete default sheet: %w", err)
			}
			created = true
		}
	}
	return created, nil
}

func (w *Workbook) save() error {
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workbook dir: %w", err)
		}
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", w.path, err)
	}
	return nil
}

// reload throws away unsaved changes by re-reading the file from disk.
func (w *Workbook) reload() error {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("reload workbook %s: %w", w.path, err)
	}
	old := w.file
	w.file = f
	old.Close()
	return nil
}

// Path returns the file the workbook is persisted to.
func (w *Workbook) Path() string {
	return w.path
}

// Close releases the underlying file handle.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// View runs fn with a read-only session.
func (w *Workbook) View(ctx context.Context, fn func(s *Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(&Session{wb: w})
}

// Update runs fn with a writable session and persists its changes in a single
// save. If fn or the save fails the in-memory workbook is restored from disk.
func (w *Workbook) Update(ctx context.Context, fn func(s *Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s := &Session{wb: w, writable: true}
	if err := fn(s); err != nil {
		if s.dirty {
			if rerr := w.reload(); rerr != nil {
				return errors.Join(err, rerr)
			}
		}
		return err
	}
	if !s.dirty {
		return nil
	}
	if err := w.save(); err != nil {
		if rerr := w.reload(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

// Session is a locked view of the workbook.
type Session struct {
	wb       *Workbook
	writable bool
	dirty    bool
}

func (s *Session) check(sheet string) ([]string, error) {
	headers, ok := s.wb.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSheet, sheet)
	}
	return headers, nil
}

// Rows returns every data row of sheet (the header row excluded), each padded
// to the sheet's column count. Values are raw, so numbers are never rounded by
// a display format.
func (s *Session) Rows(sheet string) ([][]string, error) {
	headers, err := s.check(sheet)
	if err != nil {
		return nil, err
	}
	all, err := s.wb.file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows of %s: %w", sheet, err)
	}
	if len(all) <= 1 {
		return nil, nil
	}
	rows := make([][]string, 0, len(all)-1)
	for _, r := range all[1:] {
		rows = append(rows, pad(r, len(headers)))
	}
	return rows, nil
}

// Column returns the values of one column for every data row.
func (s *Session) Column(sheet string, col int) ([]string, error) {
	rows, err := s.Rows(sheet)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(rows))
	for _, r := range rows {
		if col < len(r) {
			values = append(values, r[col])
		} else {
			values = append(values, "")
		}
	}
	return values, nil
}

// WriteRow overwrites the cells of sheet row rowNum starting at column A.
func (s *Session) WriteRow(sheet string, rowNum int, values []interface{}) error {
	if _, err := s.check(sheet); err != nil {
		return err
	}
	if !s.writable {
		return ErrReadOnly
	}
	if rowNum < 2 {
		return fmt.Errorf("write %s: row %d is not a data row", sheet, rowNum)
	}
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNum, err)
	}
	if err := s.wb.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowNum, err)
	}
	s.dirty = true
	return nil
}

// WriteCell sets a single cell, addressed by zero-based column index.
func (s *Session) WriteCell(sheet string, rowNum, col int, value interface{}) error {
	if _, err := s.check(sheet); err != nil {
		return err
	}
	if !s.writable {
		return ErrReadOnly
	}
	cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
	if err != nil {
		return fmt.Errorf("write %s cell: %w", sheet, err)
	}
	if err := s.wb.file.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	s.dirty = true
	return nil
}

// AppendRow writes values after the last non-empty row and returns the sheet
// row number it landed on.
func (s *Session) AppendRow(sheet string, values []interface{}) (int, error) {
	if _, err := s.check(sheet); err != nil {
		return 0, err
	}
	if !s.writable {
		return 0, ErrReadOnly
	}
	all, err := s.wb.file.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read rows of %s: %w", sheet, err)
	}
	rowNum := len(all) + 1
	if rowNum < 2 {
		rowNum = 2
	}
	if err := s.WriteRow(sheet, rowNum, values); err != nil {
		return 0, err
	}
	return rowNum, nil
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
