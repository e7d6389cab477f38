package rules

import (
	"regexp"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// Validator accepts a normalized value or returns the reason it was rejected
type Validator func(value string) error

// PatternRule is a named set of regexps for one field. When a pattern has capture
// groups the first non-empty group is the value, otherwise the whole match.
type PatternRule struct {
	Name       string
	Patterns   []*regexp.Regexp
	Validators []Validator
	Priority   int // smaller is higher priority
}

// DefaultPriority is used for rules registered without one
const DefaultPriority = 2

var ncfPattern = `\b((?:B0[124]|B1[456]|E3[1-9]|E4[0-5])\d{8,13})\b`

// DefaultRules returns the built-in rule set keyed by field
func DefaultRules() map[string][]PatternRule {
	return map[string][]PatternRule{
		models.FieldEmail: {
			{
				Name:     "email_standard",
				Patterns: compile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}`),
				Priority: 1,
			},
		},
		models.FieldPhone: {
			{
				Name:     "phone_labeled",
				Patterns: compile(`(?i)\b(?:phone|tel|telephone|mobile|cell|fax)\.?[ \t]*(?:no\.?|number|#)?[ \t]*[:\-]?[ \t]*(\+?\(?\d[\d \t().-]{7,}\d)`),
				Priority: 1,
			},
			{
				Name:     "phone_us",
				Patterns: compile(`(?:\+?1[ .-]?)?\(?\b\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`),
				Priority: 2,
			},
			{
				Name:     "phone_international",
				Patterns: compile(`\+\d{1,3}[ .-]?\d{2,4}[ .-]?\d{3,4}[ .-]?\d{3,4}\b`),
				Priority: 2,
			},
		},
		models.FieldName: {
			{
				Name:     "name_labeled",
				Patterns: compile(`\b(?:Name|Full Name|Attn|Attention|Contact|Customer|Client|Bill To|Ship To|From)[ \t]*[:\-][ \t]*([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){1,2})`),
				Priority: 1,
			},
			{
				Name:     "name_salutation",
				Patterns: compile(`\b(?:Dear|Mr\.?|Mrs\.?|Ms\.?|Dr\.?)[ \t]+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){0,2})`),
				Priority: 2,
			},
			{
				Name:     "name_signature",
				Patterns: compile(`(?m)^(?:Regards|Sincerely|Thanks|Thank you|Best regards|Best),?[ \t]*\r?\n[ \t]*([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){1,2})[ \t]*$`),
				Priority: 3,
			},
		},
		models.FieldCompany: {
			{
				Name:     "company_suffix",
				Patterns: compile(`\b([A-Z][A-Za-z0-9&'.-]*(?:[ \t]+[A-Z&][A-Za-z0-9&'.-]*){0,3}[ \t]+(?:Inc|LLC|Ltd|Limited|Corp|Corporation|Company|Co|GmbH|PLC|LLP|SRL))\b`),
				Priority: 1,
			},
			{
				Name:     "company_labeled",
				Patterns: compile(`(?i)\b(?:company|employer|organization|organisation|vendor|supplier|business name)[ \t]*[:\-][ \t]*([^\n\r,;]{2,80})`),
				Priority: 2,
			},
		},
		models.FieldAmount: {
			{
				Name:     "amount_labeled",
				Patterns: compile(`(?i)\b(?:total|amount|balance|grand total|subtotal|sum)\b[^\d\n$€£]{0,25}([$€£][ \t]?\d+(?:,\d{3})*(?:\.\d{2})?|\d+(?:,\d{3})*\.\d{2})`),
				Priority: 1,
			},
			{
				Name: "amount_currency",
				Patterns: compile(
					`([$€£][ \t]?\d+(?:,\d{3})*(?:\.\d{2})?)`,
					`\b(\d+(?:,\d{3})*(?:\.\d{2})?)[ \t]?(?:USD|EUR|GBP|DOP)\b`,
				),
				Priority: 2,
			},
		},
		models.FieldDate: {
			{
				Name:     "date_iso",
				Patterns: compile(`\b(\d{4}-\d{2}-\d{2})\b`),
				Priority: 1,
			},
			{
				Name: "date_long",
				Patterns: compile(
					`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?[ \t]+\d{1,2}(?:st|nd|rd|th)?,?[ \t]+\d{4})\b`,
					`(?i)\b(\d{1,2}(?:st|nd|rd|th)?[ \t]+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?[ \t]+\d{4})\b`,
				),
				Priority: 1,
			},
			{
				Name:     "date_numeric",
				Patterns: compile(`\b(\d{1,2}/\d{1,2}/(?:\d{4}|\d{2}))\b`),
				Priority: 2,
			},
		},
		models.FieldAddress: {
			{
				Name:     "address_street",
				Patterns: compile(`\b(\d{1,6}[ \t]+(?:[A-Z0-9][A-Za-z0-9.'-]*[ \t]+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Parkway|Pkwy|Highway|Hwy|Terrace|Circle|Cir)\b\.?(?:,?[ \t]+(?:Suite|Ste|Apt|Unit)[ \t]*[A-Za-z0-9-]+)?(?:,[ \t]*[A-Z][A-Za-z]+(?:[ \t]+[A-Z][A-Za-z]+)*)?(?:,[ \t]*[A-Z]{2}[ \t]+\d{5}(?:-\d{4})?)?)`),
				Priority: 1,
			},
			{
				Name:     "address_labeled",
				Patterns: compile(`(?i)\b(?:address|addr|location|billing address|shipping address)[ \t]*[:\-][ \t]*([^\n\r]{8,120})`),
				Priority: 2,
			},
		},
		models.FieldDocumentNumber: {
			{
				Name:     "document_labeled",
				Patterns: compile(`(?i)\b(?:invoice|inv|document|doc|reference|ref|order|po|receipt|account|acct)\b\.?[ \t]*(?:no\.?|number|num|#|id)?[ \t]*[:#]?[ \t]*([A-Z0-9][A-Z0-9/-]{2,23})`),
				Priority: 1,
			},
			{
				Name:       "document_ncf",
				Patterns:   compile(ncfPattern),
				Validators: []Validator{validateNCF},
				Priority:   1,
			},
		},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}
