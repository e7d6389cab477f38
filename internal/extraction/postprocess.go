package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
)

// postProcessor formats values for output. A Caser is stateful, so each
// invocation builds its own.
type postProcessor struct {
	title      cases.Caser
	dateLayout string
}

func newPostProcessor(dateLayout string) *postProcessor {
	return &postProcessor{
		title:      cases.Title(language.English, cases.NoLower),
		dateLayout: dateLayout,
	}
}

func (p *postProcessor) fieldResult(field string, fr models.FieldResult) models.FieldResult {
	out := make([]models.Candidate, 0, len(fr.Candidates))
	seen := make(map[string]bool, len(fr.Candidates))
	for _, c := range fr.Candidates {
		c.Confidence = rules.Clamp(c.Confidence)
		c.Value = p.value(field, c.Value)
		if c.Value == "" {
			continue
		}
		key := strings.ToLower(c.Value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return models.FieldResult{Candidates: out}
}

// value normalizes one value by field kind; unparseable values pass through trimmed
func (p *postProcessor) value(field, v string) string {
	v = strings.TrimSpace(v)
	switch field {
	case models.FieldEmail:
		return strings.ToLower(v)
	case models.FieldPhone:
		return FormatPhone(v)
	case models.FieldAmount:
		return FormatAmount(v)
	case models.FieldDate:
		if t, ok := rules.ParseDate(v); ok {
			return t.Format(p.dateLayout)
		}
		return v
	case models.FieldName, models.FieldCompany:
		return p.title.String(strings.Join(strings.Fields(v), " "))
	default:
		return v
	}
}

// FormatPhone renders ten-digit numbers as (XXX) XXX-XXXX
func FormatPhone(v string) string {
	digits := rules.Normalize(models.FieldPhone, v)
	if len(digits) != 10 {
		return strings.TrimSpace(v)
	}
	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
}

// FormatAmount renders a numeric amount as $X.XX
func FormatAmount(v string) string {
	d, err := decimal.NewFromString(rules.Normalize(models.FieldAmount, v))
	if err != nil {
		return strings.TrimSpace(v)
	}
	return "$" + d.StringFixed(2)
}
