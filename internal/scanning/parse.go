package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zombor/receipt-vault/internal/receipt"
)

// parseFieldsJSON parses a model's JSON answer into a field record
func parseFieldsJSON(text, currency string) (receipt.Fields, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields := receipt.NewFields()
	for _, k := range receipt.Schema {
		fields[k] = stringValue(raw[string(k)])
	}

	for _, k := range []receipt.Field{receipt.FieldTotal, receipt.FieldTax} {
		if v, ok := parseAmount(fields[k]); ok {
			fields[k] = formatCurrency(currency, v)
		}
	}

	// Dates the model formats differently are normalized; anything else
	// is kept verbatim for the record.
	if normalized, ok := receipt.NormalizeDate(fields[receipt.FieldDate]); ok {
		fields[receipt.FieldDate] = normalized
	}

	if fields[receipt.FieldMerchant] == "" || strings.EqualFold(fields[receipt.FieldMerchant], "unknown") {
		fields[receipt.FieldMerchant] = ""
	}

	return fields, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// parseAmount reads a number that may carry a currency symbol or separators
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
