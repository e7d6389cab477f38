package models

import (
	"time"
)

// Field names understood by the built-in rule set
const (
	FieldEmail          = "email"
	FieldPhone          = "phone"
	FieldName           = "name"
	FieldCompany        = "company"
	FieldAmount         = "amount"
	FieldDate           = "date"
	FieldAddress        = "address"
	FieldDocumentNumber = "documentNumber"
)

// Source identifies which stage produced a candidate
type Source string

const (
	SourceRules    Source = "rules"
	SourceFallback Source = "fallback"
	SourceUser     Source = "user"
)

// Extraction methods reported in metadata
const (
	MethodRules         = "rules"
	MethodRulesFallback = "rules+fallback"
)

// Candidate is one extracted value for a field
type Candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`         // 0-1
	Position   *int    `json:"position,omitempty"` // Byte offset of the value in the source text
	Context    string  `json:"context,omitempty"`  // Text window around the match
	Source     Source  `json:"source"`
}

// FieldResult is the ranked, deduplicated candidate list for one field
type FieldResult struct {
	Candidates []Candidate `json:"candidates"`
}

// Best returns the top candidate, if any
func (r FieldResult) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Severity of a review recommendation
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities high → low
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}

// ReviewItem is a per-field recommendation for manual review
type ReviewItem struct {
	Field        string   `json:"field"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	Value        string   `json:"value,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Summary describes extraction coverage and what needs review
type Summary struct {
	ExtractionRate    float64      `json:"extractionRate"`
	AverageConfidence float64      `json:"averageConfidence"`
	FieldsFound       int          `json:"fieldsFound"`
	TotalFields       int          `json:"totalFields"`
	RecommendedReview []ReviewItem `json:"recommendedReview"`
}

// Metadata describes how a result was produced
type Metadata struct {
	SessionID        string    `json:"sessionId"`
	Method           string    `json:"method"` // "rules" or "rules+fallback"
	FallbackUsed     bool      `json:"fallbackUsed"`
	FallbackProvider string    `json:"fallbackProvider,omitempty"`
	FallbackError    string    `json:"fallbackError,omitempty"`
	GapFields        []string  `json:"gapFields,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	CompletedAt      time.Time `json:"completedAt"`
	RulesDuration    float64   `json:"rulesDuration"`              // seconds
	FallbackDuration float64   `json:"fallbackDuration,omitempty"` // seconds
}

// ExtractionResult is the output of one extraction invocation
type ExtractionResult struct {
	ExtractedFields map[string]FieldResult `json:"extractedFields"`
	Metadata        Metadata               `json:"metadata"`
	Summary         Summary                `json:"summary"`
}

// Flatten returns the best value per field, skipping fields without candidates.
// Downstream submission only ever uses candidates[0].
func (r *ExtractionResult) Flatten() map[string]string {
	out := make(map[string]string, len(r.ExtractedFields))
	for field, res := range r.ExtractedFields {
		if best, ok := res.Best(); ok {
			out[field] = best.Value
		}
	}
	return out
}

// Document is the text form of an uploaded document
type Document struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// ExtractRequest is the JSON body accepted by the extract endpoint
type ExtractRequest struct {
	Text                string   `json:"text"`
	Filename            string   `json:"filename,omitempty"`
	Fields              []string `json:"fields,omitempty"`
	SessionID           string   `json:"sessionId,omitempty"`
	FallbackEnabled     *bool    `json:"fallbackEnabled,omitempty"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
}

// ExtractResponse is the envelope returned to API callers
type ExtractResponse struct {
	Success bool              `json:"success"`
	Result  *ExtractionResult `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`

	Flattened     map[string]string `json:"flattened,omitempty"`
	TotalDuration float64           `json:"totalDuration"` // seconds
}

// BatchItem is the per-document outcome of a batch run
type BatchItem struct {
	Filename string            `json:"filename"`
	Success  bool              `json:"success"`
	Result   *ExtractionResult `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// BatchResponse is returned by the batch endpoint
type BatchResponse struct {
	Success   bool        `json:"success"`
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}
