package receipt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Locale holds the human-readable names used for folders and ledger headers
type Locale struct {
	Name    string
	Months  [12]string
	Headers [10]string
	// RightToLeft lays ledger sheets out right to left
	RightToLeft bool
}

var Hebrew = Locale{
	Name:        "he",
	RightToLeft: true,
	Months: [12]string{
		"ינואר", "פברואר", "מרץ", "אפריל", "מאי", "יוני",
		"יולי", "אוגוסט", "ספטמבר", "אוקטובר", "נובמבר", "דצמבר",
	},
	Headers: [10]string{
		"שם העסק",
		"תאריך",
		"כתובת",
		"טלפון",
		"ח.פ",
		"מה נרכש",
		"מחיר סך הכל",
		"מע״מ",
		"אמצעי תשלום",
		"ארבע ספרות אחרונות של כרטיס האשראי",
	},
}

var English = Locale{
	Name: "en",
	Months: [12]string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	},
	Headers: [10]string{
		"Business Name",
		"Date",
		"Address",
		"Phone",
		"Registration ID",
		"Items",
		"Total",
		"Tax",
		"Payment Method",
		"Card Last 4",
	},
}

// LocaleByName returns the locale for "he" or "en"
func LocaleByName(name string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "he", "hebrew":
		return Hebrew, nil
	case "en", "english", "":
		return English, nil
	}
	return Locale{}, fmt.Errorf("unknown locale %q", name)
}

// MonthName returns the "<month> <yyyy>" directory name for the period
func (l Locale) MonthName(p Period) string {
	return fmt.Sprintf("%s %d", l.Months[p.Month-1], p.Year)
}

// HeaderRow returns the ledger header cells in Schema order
func (l Locale) HeaderRow() []string {
	return append([]string(nil), l.Headers[:]...)
}

var (
	unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_.]`)
	repeatedSpaces  = regexp.MustCompile(`\s+`)
)

// maxNameLen caps the merchant part of a document name, in runes
const maxNameLen = 50

// sanitizeName strips special characters from a name and truncates it on
// rune boundaries, since Hebrew names are multi-byte
func sanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	if r := []rune(name); len(r) > maxNameLen {
		name = strings.TrimSpace(string(r[:maxNameLen]))
	}
	if name == "" {
		name = "Receipt"
	}
	return name
}

// DocumentName returns the file name for a receipt document. Only the
// merchant is truncated so the timestamp always survives.
func DocumentName(merchant string, at time.Time) string {
	prefix := strings.TrimSpace(merchant)
	if prefix == "" || strings.EqualFold(prefix, "unknown") {
		prefix = "Receipt"
	}
	return fmt.Sprintf("%s_%s.pdf", sanitizeName(prefix), at.Format("02-01-2006_15-04-05"))
}
