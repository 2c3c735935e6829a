package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/receipt-vault/internal/receipt"
)

type analyzeOperation struct {
	Status        string         `json:"status"`
	AnalyzeResult *analyzeResult `json:"analyzeResult"`
	Error         *serviceError  `json:"error"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Content   string             `json:"content"`
	Documents []analyzedDocument `json:"documents"`
}

type analyzedDocument struct {
	DocType string                  `json:"docType"`
	Fields  map[string]analyzeField `json:"fields"`
}

type analyzeField struct {
	Type          string                  `json:"type"`
	Content       string                  `json:"content"`
	ValueString   *string                 `json:"valueString"`
	ValueNumber   *float64                `json:"valueNumber"`
	ValueDate     *string                 `json:"valueDate"`
	ValueCurrency *currencyValue          `json:"valueCurrency"`
	ValueArray    []analyzeField          `json:"valueArray"`
	ValueObject   map[string]analyzeField `json:"valueObject"`
}

type currencyValue struct {
	Amount float64 `json:"amount"`
}

// amount returns the numeric value of a number or currency field
func (f analyzeField) amount() (float64, bool) {
	if f.ValueNumber != nil {
		return *f.ValueNumber, true
	}
	if f.ValueCurrency != nil {
		return f.ValueCurrency.Amount, true
	}
	return 0, false
}

// textPatterns derive fields the model does not return structurally. Each
// anchor is the printed label that precedes the value on the receipt.
var textPatterns = []struct {
	field receipt.Field
	re    *regexp.Regexp
}{
	{receipt.FieldAddress, regexp.MustCompile(`(?i)(?:כתובת|address)\s*:\s*([^\n]+)`)},
	{receipt.FieldPhone, regexp.MustCompile(`(?i)(?:נייד|טלפון|tel|phone)\s*:\s*(\+?\d[\d\- ]*\d)`)},
	{receipt.FieldTaxID, regexp.MustCompile(`(?i)(?:ע\.מ/ח\.פ|ח\.פ|ע\.מ|vat no\.?|reg\. no\.?)\s*:\s*(\d+)`)},
}

// cardPattern captures a card brand followed by the last four digits
var cardPattern = regexp.MustCompile(`(ישראכרט|ויזה|מאסטרקארד|דיינרס|Isracard|Visa|MasterCard|Mastercard|Amex|Diners)\s*[*xX]*\s*(\d{4})\b`)

// mapAnalyzeResult converts a finished analysis into a field record. Fields
// that are missing or carry an unexpected type stay empty.
func mapAnalyzeResult(res *analyzeResult, currency string) (receipt.Fields, error) {
	if res == nil || len(res.Documents) == 0 || res.Documents[0].Fields == nil {
		return nil, fmt.Errorf("%w: %w: no analyzed document in result", ErrInvalidResponse, receipt.ErrMalformed)
	}
	doc := res.Documents[0].Fields
	fields := receipt.NewFields()

	if f, ok := doc["MerchantName"]; ok && f.ValueString != nil {
		fields[receipt.FieldMerchant] = strings.TrimSpace(*f.ValueString)
	}
	if f, ok := doc["Total"]; ok {
		if v, ok := f.amount(); ok {
			fields[receipt.FieldTotal] = formatCurrency(currency, v)
		}
	}
	if f, ok := doc["TotalTax"]; ok {
		if v, ok := f.amount(); ok {
			fields[receipt.FieldTax] = formatCurrency(currency, v)
		}
	}
	if f, ok := doc["TransactionDate"]; ok && f.ValueDate != nil {
		if t, err := time.Parse("2006-01-02", *f.ValueDate); err == nil {
			fields[receipt.FieldDate] = t.Format(receipt.DateLayout)
		}
	}
	if f, ok := doc["Items"]; ok {
		var items []string
		for _, item := range f.ValueArray {
			desc, ok := item.ValueObject["Description"]
			if ok && desc.ValueString != nil {
				items = append(items, strings.TrimSpace(*desc.ValueString))
			}
		}
		fields[receipt.FieldItems] = strings.Join(items, ", ")
	}

	deriveFromText(fields, res.Content)
	return fields, nil
}

// deriveFromText fills address, phone, tax id and payment details from the
// recognized text. A field with no match is left as is.
func deriveFromText(fields receipt.Fields, content string) {
	for _, p := range textPatterns {
		if m := p.re.FindStringSubmatch(content); m != nil {
			fields[p.field] = strings.TrimSpace(m[1])
		}
	}
	if m := cardPattern.FindStringSubmatch(content); m != nil {
		fields[receipt.FieldPaymentMethod] = m[1]
		fields[receipt.FieldCardLast4] = m[2]
	}
}

func formatCurrency(symbol string, v float64) string {
	return fmt.Sprintf("%s%.2f", symbol, v)
}

// applyDateFallback stamps today's date on a record with no date and records
// a diagnostic note. A present but unparseable date is kept verbatim.
func applyDateFallback(ctx context.Context, fields receipt.Fields, now time.Time, logger *slog.Logger) {
	if strings.TrimSpace(fields[receipt.FieldDate]) != "" {
		return
	}
	fields[receipt.FieldDate] = now.Format(receipt.DateLayout)
	logger.Warn("No date found in receipt, using current date", "date", fields[receipt.FieldDate])
	receipt.Note(ctx, "no transaction date extracted; using current date")
}
