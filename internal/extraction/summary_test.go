package extraction

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

func TestSummarize(t *testing.T) {
	results := map[string]models.FieldResult{
		"email": {Candidates: []models.Candidate{
			rulesCandidate("a@x.com", 0.9),
			rulesCandidate("b@x.com", 0.8),
			rulesCandidate("c@x.com", 0.7),
			rulesCandidate("d@x.com", 0.65),
			rulesCandidate("e@x.com", 0.61),
		}},
		"phone": {Candidates: []models.Candidate{rulesCandidate("(555) 123-4567", 0.4)}},
		"name":  {},
		"date":  {Candidates: []models.Candidate{rulesCandidate("1/15/2024", 0.8), rulesCandidate("2/1/2024", 0.6)}},
	}
	fields := []string{"email", "phone", "name", "date", "amount"}

	s := Summarize(fields, results)

	if s.TotalFields != 5 || s.FieldsFound != 3 {
		t.Errorf("found %d of %d, want 3 of 5", s.FieldsFound, s.TotalFields)
	}
	if math.Abs(s.ExtractionRate-0.6) > 1e-9 {
		t.Errorf("ExtractionRate = %v, want 0.6", s.ExtractionRate)
	}
	if math.Abs(s.AverageConfidence-0.7) > 1e-9 {
		t.Errorf("AverageConfidence = %v, want 0.7", s.AverageConfidence)
	}

	want := []models.ReviewItem{
		{Field: "name", Severity: models.SeverityHigh, Message: msgManualEntry},
		{Field: "amount", Severity: models.SeverityHigh, Message: msgManualEntry},
		{Field: "phone", Severity: models.SeverityMedium, Message: msgPleaseVerify, Value: "(555) 123-4567"},
		{Field: "email", Severity: models.SeverityLow, Message: msgMultipleMatches, Value: "a@x.com",
			Alternatives: []string{"b@x.com", "c@x.com", "d@x.com"}},
	}
	if diff := cmp.Diff(want, s.RecommendedReview); diff != "" {
		t.Errorf("review mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_IgnoresUnrequestedFields(t *testing.T) {
	results := map[string]models.FieldResult{
		"email": {Candidates: []models.Candidate{rulesCandidate("a@x.com", 0.9)}},
		"phone": {Candidates: []models.Candidate{rulesCandidate("(555) 123-4567", 0.3)}},
	}
	s := Summarize([]string{"email", "name"}, results)
	if s.TotalFields != 2 || s.FieldsFound != 1 {
		t.Errorf("found %d of %d, want 1 of 2", s.FieldsFound, s.TotalFields)
	}
	if math.Abs(s.ExtractionRate-0.5) > 1e-9 {
		t.Errorf("ExtractionRate = %v, want 0.5", s.ExtractionRate)
	}
	if math.Abs(s.AverageConfidence-0.9) > 1e-9 {
		t.Errorf("AverageConfidence = %v, want 0.9", s.AverageConfidence)
	}
}

func TestSummarize_NothingRequested(t *testing.T) {
	s := Summarize(nil, nil)
	if s.ExtractionRate != 0 || s.AverageConfidence != 0 || len(s.RecommendedReview) != 0 {
		t.Errorf("empty summary = %+v", s)
	}
}

func TestPostProcess(t *testing.T) {
	pp := newPostProcessor("1/2/2006")
	tests := []struct {
		field, in, want string
	}{
		{models.FieldPhone, "5551234567", "(555) 123-4567"},
		{models.FieldPhone, "555.123.4567", "(555) 123-4567"},
		{models.FieldPhone, "+44 20 7946 0958", "+44 20 7946 0958"},
		{models.FieldEmail, " Jane@Example.COM ", "jane@example.com"},
		{models.FieldAmount, "1234.5", "$1234.50"},
		{models.FieldAmount, "$1,234.56", "$1234.56"},
		{models.FieldAmount, "about twelve", "about twelve"},
		{models.FieldDate, "2024-01-15", "1/15/2024"},
		{models.FieldDate, "March 3rd, 2024", "3/3/2024"},
		{models.FieldDate, "sometime soon", "sometime soon"},
		{models.FieldName, "jane  smith", "Jane Smith"},
		{models.FieldName, "JANE SMITH", "JANE SMITH"},
		{models.FieldName, "john o'Brien", "John O'Brien"},
		{models.FieldCompany, "acme widgets inc", "Acme Widgets Inc"},
		{models.FieldCompany, "ACME LLC", "ACME LLC"},
		{models.FieldCompany, "IBM Corp", "IBM Corp"},
		{models.FieldDocumentNumber, " INV-001 ", "INV-001"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.in, func(t *testing.T) {
			if got := pp.value(tt.field, tt.in); got != tt.want {
				t.Errorf("value(%s, %q) = %q, want %q", tt.field, tt.in, got, tt.want)
			}
		})
	}
}

func TestPostProcess_DedupesAfterNormalizing(t *testing.T) {
	pp := newPostProcessor("1/2/2006")
	fr := models.FieldResult{Candidates: []models.Candidate{
		rulesCandidate("5551234567", 0.9),
		fallbackCandidate("(555) 123-4567"),
		{Value: "5559876543", Confidence: 1.4, Source: models.SourceFallback},
	}}

	got := pp.fieldResult(models.FieldPhone, fr).Candidates
	if len(got) != 2 {
		t.Fatalf("candidates = %+v, want 2 after dedupe", got)
	}
	if got[0].Source != models.SourceRules {
		t.Error("first occurrence should be kept")
	}
	if got[1].Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", got[1].Confidence)
	}
}
