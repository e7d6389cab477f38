package extraction

import (
	"sort"

	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
)

// Review thresholds
const (
	lowConfidence      = 0.5
	ambiguousSecond    = 0.6
	maxAlternatives    = 3
	msgManualEntry     = "manual entry required"
	msgPleaseVerify    = "please verify"
	msgMultipleMatches = "multiple similar matches"
)

// Summarize computes coverage and review recommendations over the requested fields
func Summarize(fields []string, results map[string]models.FieldResult) models.Summary {
	requested := make(map[string]models.FieldResult, len(fields))
	for _, field := range fields {
		requested[field] = results[field]
	}
	stats := rules.ComputeStats(requested)

	s := models.Summary{
		TotalFields:       stats.TotalFields,
		FieldsFound:       stats.ExtractedFields,
		ExtractionRate:    stats.ExtractionRate,
		AverageConfidence: stats.AverageConfidence,
		RecommendedReview: []models.ReviewItem{},
	}

	for _, field := range fields {
		cands := results[field].Candidates
		if len(cands) == 0 {
			s.RecommendedReview = append(s.RecommendedReview, models.ReviewItem{
				Field:    field,
				Severity: models.SeverityHigh,
				Message:  msgManualEntry,
			})
			continue
		}

		best := cands[0]

		if best.Confidence < lowConfidence {
			s.RecommendedReview = append(s.RecommendedReview, models.ReviewItem{
				Field:    field,
				Severity: models.SeverityMedium,
				Message:  msgPleaseVerify,
				Value:    best.Value,
			})
		}
		if len(cands) >= 2 && cands[1].Confidence > ambiguousSecond {
			alts := make([]string, 0, maxAlternatives)
			for _, c := range cands[1:] {
				if len(alts) == maxAlternatives {
					break
				}
				alts = append(alts, c.Value)
			}
			s.RecommendedReview = append(s.RecommendedReview, models.ReviewItem{
				Field:        field,
				Severity:     models.SeverityLow,
				Message:      msgMultipleMatches,
				Value:        best.Value,
				Alternatives: alts,
			})
		}
	}

	sort.SliceStable(s.RecommendedReview, func(i, j int) bool {
		return s.RecommendedReview[i].Severity.Rank() < s.RecommendedReview[j].Severity.Rank()
	})
	return s
}
