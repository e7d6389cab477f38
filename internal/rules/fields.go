package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// Kind describes how values of one field kind are cleaned, checked, and located
type Kind struct {
	Normalize  func(string) string
	Validators []Validator
	Keywords   []string
}

var kinds = map[string]Kind{
	models.FieldEmail: {
		Normalize:  normalizeEmail,
		Validators: []Validator{validateEmail},
		Keywords:   []string{"email", "e-mail", "mail"},
	},
	models.FieldPhone: {
		Normalize:  digitsOnly,
		Validators: []Validator{validatePhone},
		Keywords:   []string{"phone", "tel", "mobile", "cell", "fax", "call"},
	},
	models.FieldName: {
		Normalize:  collapseSpaces,
		Validators: []Validator{validateName},
		Keywords:   []string{"name", "attn", "attention", "contact", "dear", "customer", "client"},
	},
	models.FieldCompany: {
		Normalize:  collapseSpaces,
		Validators: []Validator{validateCompany},
		Keywords:   []string{"company", "corp", "inc", "llc", "ltd", "vendor", "employer", "organization"},
	},
	models.FieldAmount: {
		Normalize:  normalizeAmount,
		Validators: []Validator{validateAmount},
		Keywords:   []string{"amount", "total", "due", "balance", "price", "sum", "pay"},
	},
	models.FieldDate: {
		Normalize:  collapseSpaces,
		Validators: []Validator{validateDate},
		Keywords:   []string{"date", "dated", "issued", "due", "on"},
	},
	models.FieldAddress: {
		Normalize:  collapseSpaces,
		Validators: []Validator{validateAddress},
		Keywords:   []string{"address", "addr", "street", "located", "ship", "bill"},
	},
	models.FieldDocumentNumber: {
		Normalize:  normalizeDocumentNumber,
		Validators: []Validator{validateDocumentNumber},
		Keywords:   []string{"invoice", "number", "ref", "reference", "document", "order", "ncf"},
	},
}

// KindFor returns the kind entry for a field. Custom fields get a default entry
// that trims values and uses the field name itself as the context keyword.
func KindFor(field string) Kind {
	if k, ok := kinds[field]; ok {
		return k
	}
	return Kind{
		Normalize: collapseSpaces,
		Keywords:  []string{strings.ToLower(field)},
	}
}

// Normalize cleans a raw value using the field's kind rule
func Normalize(field, value string) string {
	return KindFor(field).Normalize(value)
}

// DedupKey is the case-insensitive normalized form used to detect duplicates
func DedupKey(field, value string) string {
	return strings.ToLower(Normalize(field, value))
}

// Normalizers

func collapseSpaces(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ",;:")
}

func normalizeEmail(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), ".")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeAmount strips currency symbols, whitespace, and thousands separators
func normalizeAmount(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ',' || unicode.IsSpace(r):
		case unicode.Is(unicode.Sc, r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), ".")
}

func normalizeDocumentNumber(s string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(s), ".,;:-/"))
}

// Validators

var (
	errEmpty     = errors.New("empty value")
	errMalformed = errors.New("malformed value")
)

func validateEmail(v string) error {
	if len(v) > 254 || strings.Count(v, "@") != 1 {
		return errMalformed
	}
	local, domain, _ := strings.Cut(v, "@")
	if local == "" || len(local) > 64 {
		return fmt.Errorf("%w: local part", errMalformed)
	}
	if !strings.Contains(domain, ".") || strings.Contains(domain, "..") ||
		strings.HasPrefix(domain, ".") || strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") {
		return fmt.Errorf("%w: domain", errMalformed)
	}
	return nil
}

func validatePhone(v string) error {
	if len(v) < 10 || len(v) > 15 {
		return fmt.Errorf("%w: %d digits", errMalformed, len(v))
	}
	if strings.Trim(v, "0") == "" {
		return fmt.Errorf("%w: all zeros", errMalformed)
	}
	return nil
}

// Words that show a label or boilerplate was captured instead of a person
var nameStopWords = map[string]bool{
	"invoice": true, "total": true, "date": true, "amount": true, "number": true,
	"street": true, "company": true, "inc": true, "llc": true, "ltd": true,
	"corp": true, "address": true, "phone": true, "email": true, "customer": true,
	"account": true, "order": true, "receipt": true, "subtotal": true, "tax": true,
}

func validateName(v string) error {
	words := strings.Fields(v)
	if len(words) == 0 || len(words) > 4 {
		return fmt.Errorf("%w: %d words", errMalformed, len(words))
	}
	for _, w := range words {
		if nameStopWords[strings.ToLower(w)] {
			return fmt.Errorf("%w: label word %q", errMalformed, w)
		}
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '\'' && r != '-' && r != '.' {
				return fmt.Errorf("%w: character %q", errMalformed, r)
			}
		}
	}
	return nil
}

func validateCompany(v string) error {
	if len(v) < 2 || len(v) > 80 {
		return fmt.Errorf("%w: length %d", errMalformed, len(v))
	}
	if !strings.ContainsFunc(v, unicode.IsLetter) {
		return fmt.Errorf("%w: no letters", errMalformed)
	}
	return nil
}

func validateAmount(v string) error {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("%w: not positive", errMalformed)
	}
	return nil
}

func validateDate(v string) error {
	t, ok := ParseDate(v)
	if !ok {
		return fmt.Errorf("%w: unparseable date", errMalformed)
	}
	if t.Year() < 1900 || t.Year() > 2100 {
		return fmt.Errorf("%w: year %d", errMalformed, t.Year())
	}
	return nil
}

func validateAddress(v string) error {
	if len(v) < 8 {
		return fmt.Errorf("%w: too short", errMalformed)
	}
	if !strings.ContainsFunc(v, unicode.IsDigit) || !strings.ContainsFunc(v, unicode.IsLetter) {
		return fmt.Errorf("%w: needs digits and letters", errMalformed)
	}
	return nil
}

func validateDocumentNumber(v string) error {
	if len(v) < 3 || len(v) > 24 {
		return fmt.Errorf("%w: length %d", errMalformed, len(v))
	}
	if !strings.ContainsFunc(v, unicode.IsDigit) {
		return fmt.Errorf("%w: no digits", errMalformed)
	}
	return nil
}

func validateNonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return errEmpty
	}
	return nil
}

func validateDigits(v string) error {
	if v == "" {
		return errEmpty
	}
	if _, err := strconv.ParseUint(v, 10, 64); err != nil && !isAllDigits(v) {
		return fmt.Errorf("%w: non-digit characters", errMalformed)
	}
	return nil
}

func validateHasDigit(v string) error {
	if !strings.ContainsFunc(v, unicode.IsDigit) {
		return fmt.Errorf("%w: no digits", errMalformed)
	}
	return nil
}

func isAllDigits(v string) bool {
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// namedValidators are the validators a declarative rule definition may reference
var namedValidators = map[string]Validator{
	"email":          validateEmail,
	"phone":          validatePhone,
	"name":           validateName,
	"company":        validateCompany,
	"amount":         validateAmount,
	"date":           validateDate,
	"address":        validateAddress,
	"documentNumber": validateDocumentNumber,
	"nonempty":       validateNonEmpty,
	"digits":         validateDigits,
	"hasDigit":       validateHasDigit,
	"ncf":            validateNCF,
	"rnc":            validateRNC,
}

// Dates

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"2006/01/02",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// ParseDate parses the date formats the rule set recognizes. Ordinal suffixes,
// commas, and trailing dots on month abbreviations are tolerated.
func ParseDate(s string) (time.Time, bool) {
	s = cleanDate(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func cleanDate(s string) string {
	s = strings.ReplaceAll(s, ",", " ")
	words := strings.Fields(s)
	for i, w := range words {
		w = strings.TrimSuffix(w, ".")
		lw := strings.ToLower(w)
		if lw == "sept" {
			w = "Sep"
		}
		if len(w) > 2 && unicode.IsDigit(rune(w[0])) {
			for _, suffix := range []string{"st", "nd", "rd", "th"} {
				if strings.HasSuffix(lw, suffix) && isAllDigits(w[:len(w)-2]) {
					w = w[:len(w)-2]
					break
				}
			}
		}
		if len(w) > 0 && unicode.IsLetter(rune(w[0])) {
			w = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		words[i] = w
	}
	return strings.Join(words, " ")
}
