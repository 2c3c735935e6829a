package remote

import (
	"context"
	"log/slog"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// LedgerAppender writes one record per row in the fixed column order
type LedgerAppender struct {
	sheets SheetsAPI
	tokens TokenProvider
	logger *slog.Logger
}

func NewLedgerAppender(sheets SheetsAPI, tokens TokenProvider, logger *slog.Logger) *LedgerAppender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerAppender{
		sheets: sheets,
		tokens: tokens,
		logger: logger.With("component", "ledger_appender"),
	}
}

// Append adds fields to the ledger. Missing fields become empty cells.
func (a *LedgerAppender) Append(ctx context.Context, ledgerID string, fields receipt.Fields) error {
	if a.tokens == nil || !a.tokens.Valid() {
		return notAuthorized()
	}
	row := receipt.FieldsFrom(fields).Row()
	if err := a.sheets.AppendRow(ctx, ledgerID, row); err != nil {
		return err
	}
	a.logger.Debug("Appended ledger row", "ledger", ledgerID, "merchant", row[0])
	return nil
}
