// Package ledger keeps a local spreadsheet copy of each month's ledger next
// to the stored documents.
package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/receipt-vault/internal/receipt"
)

const sheetName = "Receipts"

// Workbook appends ledger rows to local XLSX files
type Workbook struct {
	locale         receipt.Locale
	currencySymbol string
	logger         *slog.Logger

	mu sync.Mutex
}

func NewWorkbook(locale receipt.Locale, currencySymbol string, logger *slog.Logger) *Workbook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workbook{
		locale:         locale,
		currencySymbol: currencySymbol,
		logger:         logger.With("component", "workbook"),
	}
}

// Append adds fields as the next row of the workbook at path, creating the
// file with a header row when it does not exist yet
func (w *Workbook) Append(path string, fields receipt.Fields) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, created, err := w.open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return fmt.Errorf("reading rows: %w", err)
	}
	next := len(rows) + 1

	cell, err := excelize.CoordinatesToCellName(1, next)
	if err != nil {
		return fmt.Errorf("locating row %d: %w", next, err)
	}
	if err := f.SetSheetRow(sheetName, cell, ptr(w.rowValues(fields))); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	w.logger.Debug("Appended workbook row", "path", path, "row", next, "created", created)
	return nil
}

// open loads path or builds a new formatted workbook
func (w *Workbook) open(path string) (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(path)
	if err == nil {
		if idx, _ := f.GetSheetIndex(sheetName); idx == -1 {
			f.Close()
			return nil, false, fmt.Errorf("workbook %s has no %s sheet", path, sheetName)
		}
		return f, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("opening workbook: %w", err)
	}

	f, err = w.create()
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (w *Workbook) create() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	if err := w.format(f); err != nil {
		f.Close()
		return nil, err
	}

	header := make([]interface{}, 0, len(receipt.Schema))
	for _, h := range w.locale.HeaderRow() {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return f, nil
}

// format mirrors the remote ledger presentation
func (w *Workbook) format(f *excelize.File) error {
	rtl := w.locale.RightToLeft
	if err := f.SetSheetView(sheetName, 0, &excelize.ViewOptions{RightToLeft: &rtl}); err != nil {
		return fmt.Errorf("setting sheet view: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	numFmt := fmt.Sprintf(`"%s"#,##0.00`, w.currencySymbol)
	currency, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return fmt.Errorf("creating currency style: %w", err)
	}
	first, _ := excelize.ColumnNumberToName(receipt.CurrencyColumns[0] + 1)
	last, _ := excelize.ColumnNumberToName(receipt.CurrencyColumns[1] + 1)
	if err := f.SetColStyle(sheetName, first+":"+last, currency); err != nil {
		return fmt.Errorf("styling currency columns: %w", err)
	}

	if err := f.SetColWidth(sheetName, "A", "J", 18); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	return nil
}

// rowValues lays fields out in schema order. Currency cells are written as
// numbers so the column format applies.
func (w *Workbook) rowValues(fields receipt.Fields) []interface{} {
	row := receipt.FieldsFrom(fields).Row()
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	for _, col := range receipt.CurrencyColumns {
		if n, ok := amount(row[col], w.currencySymbol); ok {
			values[col] = n
		}
	}
	return values
}

func amount(s, symbol string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), symbol))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func ptr(v []interface{}) *[]interface{} {
	return &v
}

