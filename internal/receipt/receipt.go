package receipt

import (
	"fmt"
	"strings"
	"time"
)

// Field names one column of the extracted receipt record
type Field string

const (
	FieldMerchant      Field = "merchant"
	FieldDate          Field = "date"
	FieldAddress       Field = "address"
	FieldPhone         Field = "phone"
	FieldTaxID         Field = "tax_id"
	FieldItems         Field = "items"
	FieldTotal         Field = "total"
	FieldTax           Field = "tax"
	FieldPaymentMethod Field = "payment_method"
	FieldCardLast4     Field = "card_last4"
)

// Schema is the fixed ledger column order. Rows are always built from it,
// never from map iteration.
var Schema = []Field{
	FieldMerchant,
	FieldDate,
	FieldAddress,
	FieldPhone,
	FieldTaxID,
	FieldItems,
	FieldTotal,
	FieldTax,
	FieldPaymentMethod,
	FieldCardLast4,
}

// CurrencyColumns are the schema indexes of the price-bearing columns
var CurrencyColumns = [2]int{6, 7}

// DateLayout is the canonical DD/MM/YYYY form of FieldDate
const DateLayout = "02/01/2006"

// acceptedDateLayouts are tried in order when normalizing a date value
var acceptedDateLayouts = []string{
	DateLayout,
	"2006-01-02",
	"02.01.2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/06",
}

// Fields is the extracted receipt record. Every Schema field is present;
// absent values are empty strings.
type Fields map[Field]string

// NewFields returns a record with every schema field set to ""
func NewFields() Fields {
	f := make(Fields, len(Schema))
	for _, k := range Schema {
		f[k] = ""
	}
	return f
}

// FieldsFrom builds a complete record from a partial map. Keys outside
// the schema are dropped.
func FieldsFrom(values map[Field]string) Fields {
	f := NewFields()
	for k, v := range values {
		if _, ok := f[k]; ok {
			f[k] = v
		}
	}
	return f
}

// Get returns the value for k or "" when absent
func (f Fields) Get(k Field) string {
	return f[k]
}

// Row maps the record into ledger cells in Schema order
func (f Fields) Row() []string {
	row := make([]string, len(Schema))
	for i, k := range Schema {
		row[i] = f[k]
	}
	return row
}

// Clone returns a complete copy of f
func (f Fields) Clone() Fields {
	c := NewFields()
	for k, v := range f {
		if _, ok := c[k]; ok {
			c[k] = v
		}
	}
	return c
}

// ParseDate parses a date value under the accepted layouts
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedDateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate returns value in DD/MM/YYYY form, or false if it cannot be parsed
func NormalizeDate(value string) (string, bool) {
	t, ok := ParseDate(value)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// Period is a calendar month used to bucket receipts
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the month containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodFor buckets a record by its date, falling back to now's month
// when the date is missing or unparseable. The record is not modified.
func PeriodFor(f Fields, now time.Time) (Period, bool) {
	if t, ok := ParseDate(f.Get(FieldDate)); ok {
		return PeriodOf(t), true
	}
	return PeriodOf(now), false
}

// Key returns the YYYY-MM period key
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// LedgerTitle returns the deterministic ledger name for the period
func (p Period) LedgerTitle() string {
	return fmt.Sprintf("Receipts_%02d_%d", int(p.Month), p.Year)
}

// Stage is one step of a pipeline run
type Stage int

const (
	StagePreparing Stage = iota
	StageExtracting
	StageBuildingDocument
	StageProvisioning
	StageUploading
	StageAppendingLedger
	StageComplete
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StagePreparing:
		return "preparing"
	case StageExtracting:
		return "extracting"
	case StageBuildingDocument:
		return "building_document"
	case StageProvisioning:
		return "provisioning"
	case StageUploading:
		return "uploading"
	case StageAppendingLedger:
		return "appending_ledger"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Image is a raster receipt image ready for extraction
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Document is a single-page PDF derived from an Image
type Document struct {
	Data []byte
}

// ContentType of every Document
const DocumentContentType = "application/pdf"
