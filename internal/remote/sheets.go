package remote

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/zombor/receipt-vault/internal/receipt"
)

const (
	headerRange = "A1:J1"
	appendRange = "A:J"
	// firstSheetID is the grid id of the sheet every new spreadsheet starts with
	firstSheetID = 0
)

// SheetsAPI is the remote ledger
type SheetsAPI interface {
	// HasHeader reports whether the ledger's first row holds any value
	HasHeader(ctx context.Context, ledgerID string) (bool, error)
	// WriteHeader writes the header row of a new ledger
	WriteHeader(ctx context.Context, ledgerID string, header []string) error
	// Format applies header, alignment, currency and column width formatting
	Format(ctx context.Context, ledgerID string) error
	// AppendRow inserts row after the last row of the ledger
	AppendRow(ctx context.Context, ledgerID string, row []string) error
}

// SheetsLedger implements SheetsAPI with the Sheets v4 API
type SheetsLedger struct {
	srv            *sheets.Service
	rightToLeft    bool
	currencySymbol string
	logger         *slog.Logger
}

// NewSheetsLedger creates a Sheets client authorized by tokens
func NewSheetsLedger(ctx context.Context, tokens TokenProvider, locale receipt.Locale, currencySymbol string, opts ...option.ClientOption) (*SheetsLedger, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(TokenSource(ctx, tokens))}, opts...)
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return NewSheetsLedgerWithService(srv, locale, currencySymbol, nil), nil
}

// NewSheetsLedgerWithService wraps an existing service for testing
func NewSheetsLedgerWithService(srv *sheets.Service, locale receipt.Locale, currencySymbol string, logger *slog.Logger) *SheetsLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsLedger{
		srv:            srv,
		rightToLeft:    locale.RightToLeft,
		currencySymbol: currencySymbol,
		logger:         logger.With("component", "sheets"),
	}
}

// HasHeader reads the header range and reports whether any cell is set
func (s *SheetsLedger) HasHeader(ctx context.Context, ledgerID string) (bool, error) {
	vr, err := s.srv.Spreadsheets.Values.Get(ledgerID, headerRange).Context(ctx).Do()
	if err != nil {
		return false, apiError(ErrRequestFailed, ErrNotAuthenticated, "reading ledger header", err)
	}
	for _, row := range vr.Values {
		for _, cell := range row {
			if fmt.Sprint(cell) != "" {
				return true, nil
			}
		}
	}
	return false, nil
}

// WriteHeader writes header verbatim into the first row
func (s *SheetsLedger) WriteHeader(ctx context.Context, ledgerID string, header []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{cells(header)}}
	_, err := s.srv.Spreadsheets.Values.Update(ledgerID, headerRange, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return apiError(ErrRequestFailed, ErrNotAuthenticated, "writing ledger header", err)
	}
	return nil
}

// Format sends every presentation request in one batch
func (s *SheetsLedger) Format(ctx context.Context, ledgerID string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: s.formatRequests()}
	if _, err := s.srv.Spreadsheets.BatchUpdate(ledgerID, req).Context(ctx).Do(); err != nil {
		return apiError(ErrRequestFailed, ErrNotAuthenticated, "formatting ledger", err)
	}
	return nil
}

func (s *SheetsLedger) formatRequests() []*sheets.Request {
	alignment := "LEFT"
	if s.rightToLeft {
		alignment = "RIGHT"
	}
	columns := int64(len(receipt.Schema))

	return []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:         firstSheetID,
					StartRowIndex:   0,
					EndRowIndex:     1,
					ForceSendFields: []string{"SheetId", "StartRowIndex"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:         firstSheetID,
					ForceSendFields: []string{"SheetId"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{HorizontalAlignment: alignment},
				},
				Fields: "userEnteredFormat.horizontalAlignment",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:         firstSheetID,
					RightToLeft:     s.rightToLeft,
					ForceSendFields: []string{"SheetId", "RightToLeft"},
				},
				Fields: "rightToLeft",
			},
		},
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          firstSheetID,
					StartRowIndex:    1,
					StartColumnIndex: int64(receipt.CurrencyColumns[0]),
					EndColumnIndex:   int64(receipt.CurrencyColumns[1]) + 1,
					ForceSendFields:  []string{"SheetId"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: fmt.Sprintf(`"%s"#,##0.00`, s.currencySymbol),
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:         firstSheetID,
					Dimension:       "COLUMNS",
					StartIndex:      0,
					EndIndex:        columns,
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		},
	}
}

// AppendRow inserts row as user-entered values so numeric strings become numbers
func (s *SheetsLedger) AppendRow(ctx context.Context, ledgerID string, row []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{cells(row)}}
	_, err := s.srv.Spreadsheets.Values.Append(ledgerID, appendRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return apiError(ErrAppendFailed, ErrNotAuthorized, "appending ledger row", err)
	}
	return nil
}

func cells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
