package extraction

import (
	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
)

// Merge folds fallback candidates into results in place. Gap fields get the union
// of rules and fallback candidates, ranked and capped at mergeCap. Fallback values
// for other requested fields are discarded unless keepNonGap is set, in which case
// they are appended without truncation so no rules candidate is lost.
func Merge(results map[string]models.FieldResult, fallback map[string][]models.Candidate, fields, gaps []string, mergeCap int, keepNonGap bool) {
	isGap := make(map[string]bool, len(gaps))
	for _, g := range gaps {
		isGap[g] = true
	}

	for _, field := range fields {
		extra := fallback[field]
		if len(extra) == 0 {
			continue
		}
		current := results[field].Candidates

		combined := make([]models.Candidate, 0, len(current)+len(extra))
		combined = append(combined, current...)
		for _, c := range extra {
			c.Source = models.SourceFallback
			c.Confidence = rules.Clamp(c.Confidence)
			combined = append(combined, c)
		}

		switch {
		case isGap[field]:
			results[field] = models.FieldResult{Candidates: rules.Rank(field, combined, mergeCap)}
		case keepNonGap:
			results[field] = models.FieldResult{Candidates: rules.Rank(field, combined, 0)}
		}
	}
}
