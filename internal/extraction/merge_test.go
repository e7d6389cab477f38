package extraction

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

func rulesCandidate(v string, c float64) models.Candidate {
	return models.Candidate{Value: v, Confidence: c, Source: models.SourceRules}
}

func TestMerge_GapFieldUnionRankedAndCapped(t *testing.T) {
	results := map[string]models.FieldResult{
		"name": {Candidates: []models.Candidate{rulesCandidate("Jane Smith", 0.55), rulesCandidate("J Smith", 0.3)}},
	}
	fallback := map[string][]models.Candidate{
		"name": {fallbackCandidate("Jane Smith"), fallbackCandidate("Janet Smith"), fallbackCandidate("Jane Smyth")},
	}

	Merge(results, fallback, []string{"name"}, []string{"name"}, 3, false)

	got := results["name"].Candidates
	want := []models.Candidate{
		fallbackCandidate("Jane Smith"),
		fallbackCandidate("Janet Smith"),
		fallbackCandidate("Jane Smyth"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_RulesWinTies(t *testing.T) {
	results := map[string]models.FieldResult{
		"amount": {Candidates: []models.Candidate{rulesCandidate("99.00", 0.7)}},
	}
	fallback := map[string][]models.Candidate{
		"amount": {fallbackCandidate("120.00")},
	}

	Merge(results, fallback, []string{"amount"}, []string{"amount"}, 3, false)

	got := results["amount"].Candidates
	if len(got) != 2 || got[0].Source != models.SourceRules {
		t.Errorf("candidates = %+v, want rules candidate first on a tie", got)
	}
}

func TestMerge_NonGapUntouched(t *testing.T) {
	strong := []models.Candidate{rulesCandidate("a@x.com", 0.9), rulesCandidate("b@x.com", 0.8)}
	results := map[string]models.FieldResult{"email": {Candidates: strong}}
	fallback := map[string][]models.Candidate{"email": {fallbackCandidate("c@x.com")}}

	Merge(results, fallback, []string{"email"}, nil, 3, false)
	if diff := cmp.Diff(strong, results["email"].Candidates); diff != "" {
		t.Errorf("non-gap field changed (-want +got):\n%s", diff)
	}

	Merge(results, fallback, []string{"email"}, nil, 1, true)
	if n := len(results["email"].Candidates); n != 3 {
		t.Errorf("kept non-gap merge should not truncate rules candidates, got %d", n)
	}
}

func TestMerge_UnrequestedFallbackFieldsIgnored(t *testing.T) {
	results := map[string]models.FieldResult{"email": {}}
	fallback := map[string][]models.Candidate{"company": {fallbackCandidate("Acme")}}

	Merge(results, fallback, []string{"email"}, []string{"email"}, 3, true)
	if _, ok := results["company"]; ok {
		t.Error("unrequested field added by merge")
	}
}

func TestDetectGaps(t *testing.T) {
	results := map[string]models.FieldResult{
		"email": {Candidates: []models.Candidate{rulesCandidate("a@x.com", 0.8)}},
		"phone": {Candidates: []models.Candidate{rulesCandidate("5551234567", 0.59)}},
		"name":  {},
	}
	got := DetectGaps([]string{"name", "email", "phone", "date"}, results, 0.6)
	want := []string{"name", "phone", "date"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gaps mismatch (-want +got):\n%s", diff)
	}
}
