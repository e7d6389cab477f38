// Package rules is the deterministic pattern matcher that runs before any fallback.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidRule  = errors.New("invalid rule")
)

// Scoring constants
const (
	BaseConfidence     = 0.5
	MaxComplexityBonus = 0.2
	KeywordBonus       = 0.15
	MaxPriority        = 3
	PriorityStep       = 0.05

	// MaxCandidates bounds a rules FieldResult
	MaxCandidates = 5

	contextRadius = 20
)

// Stats summarizes one rules run
type Stats struct {
	TotalFields       int     `json:"totalFields"`
	ExtractedFields   int     `json:"extractedFields"`
	ExtractionRate    float64 `json:"extractionRate"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// Health reports the size of the registry
type Health struct {
	TotalRules  int `json:"totalRules"`
	CustomRules int `json:"customRules"`
}

// Engine applies the rule registry to text. Registration and extraction may
// run concurrently.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string][]PatternRule
	custom map[string]struct{}
	logger *slog.Logger
}

// NewEngine returns an engine loaded with DefaultRules
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rules:  DefaultRules(),
		custom: make(map[string]struct{}),
		logger: logger,
	}
	for field := range e.rules {
		sortRules(e.rules[field])
	}
	return e
}

func sortRules(rs []PatternRule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority < rs[j].Priority
		}
		return rs[i].Name < rs[j].Name
	})
}

// AddCustomRule registers a rule for field, replacing any rule of the same name.
// A new field name becomes requestable.
func (e *Engine) AddCustomRule(field string, rule PatternRule) error {
	field = strings.TrimSpace(field)
	if field == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: empty rule name", ErrInvalidRule)
	}
	if len(rule.Patterns) == 0 {
		return fmt.Errorf("%w: rule %q has no patterns", ErrInvalidRule, rule.Name)
	}
	for _, p := range rule.Patterns {
		if p == nil {
			return fmt.Errorf("%w: rule %q has a nil pattern", ErrInvalidRule, rule.Name)
		}
	}
	if rule.Priority <= 0 {
		rule.Priority = DefaultPriority
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.rules[field]
	next := make([]PatternRule, 0, len(existing)+1)
	for _, r := range existing {
		if r.Name != rule.Name {
			next = append(next, r)
		}
	}
	next = append(next, rule)
	sortRules(next)
	e.rules[field] = next
	e.custom[field+"/"+rule.Name] = struct{}{}

	e.logger.Info("rules.custom.added", "field", field, "rule", rule.Name, "priority", rule.Priority)
	return nil
}

// Fields lists the registered field names, sorted
func (e *Engine) Fields() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fields := make([]string, 0, len(e.rules))
	for f := range e.rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// HasField reports whether field has at least one registered rule
func (e *Engine) HasField(field string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.rules[field]
	return ok
}

// Health reports rule counts
func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := Health{CustomRules: len(e.custom)}
	for _, rs := range e.rules {
		h.TotalRules += len(rs)
	}
	return h
}

// ExtractFields runs the rules for the requested fields, or every registered
// field when none are given. The result has an entry for every requested field.
func (e *Engine) ExtractFields(ctx context.Context, text string, fields []string) (map[string]models.FieldResult, error) {
	e.mu.RLock()
	if len(fields) == 0 {
		fields = make([]string, 0, len(e.rules))
		for f := range e.rules {
			fields = append(fields, f)
		}
		sort.Strings(fields)
	}
	snapshot := make(map[string][]PatternRule, len(fields))
	for _, f := range fields {
		rs, ok := e.rules[f]
		if !ok {
			e.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		snapshot[f] = rs
	}
	e.mu.RUnlock()

	names := make([]string, 0, len(snapshot))
	for f := range snapshot {
		names = append(names, f)
	}
	sort.Strings(names)

	found := make([][]models.Candidate, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, field := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found[i] = e.extractField(text, field, snapshot[field])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make(map[string]models.FieldResult, len(names))
	for i, field := range names {
		results[field] = models.FieldResult{Candidates: found[i]}
	}
	return results, nil
}

func (e *Engine) extractField(text, field string, rules []PatternRule) []models.Candidate {
	kind := KindFor(field)
	var cands []models.Candidate

	for _, rule := range rules {
		for _, re := range rule.Patterns {
			for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
				start, end := valueSpan(m)
				value := kind.Normalize(text[start:end])
				if value == "" {
					continue
				}
				if err := e.validate(value, kind.Validators, rule.Validators); err != nil {
					e.logger.Debug("rules.candidate.rejected",
						"field", field, "rule", rule.Name, "value", value, "error", err)
					continue
				}

				before, after := surrounding(text, m[0], m[1], start, end)
				pos := start
				cands = append(cands, models.Candidate{
					Value:      value,
					Confidence: Score(re, rule.Priority, hasKeyword(before+" "+after, kind.Keywords)),
					Position:   &pos,
					Context:    strings.Join(strings.Fields(before+text[start:end]+after), " "),
					Source:     models.SourceRules,
				})
			}
		}
	}
	return Rank(field, cands, MaxCandidates)
}

// validate runs every validator; a panicking validator counts as a rejection
func (e *Engine) validate(value string, groups ...[]Validator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panic: %v", r)
		}
	}()
	for _, validators := range groups {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// valueSpan picks the first non-empty capture group, else the whole match
func valueSpan(m []int) (int, int) {
	for i := 2; i+1 < len(m); i += 2 {
		if m[i] >= 0 && m[i+1] > m[i] {
			return m[i], m[i+1]
		}
	}
	return m[0], m[1]
}

// surrounding returns the text around the value inside a window of contextRadius
// characters on either side of the full match. The value itself is excluded.
func surrounding(text string, matchStart, matchEnd, valueStart, valueEnd int) (string, string) {
	lo := matchStart
	for i := 0; i < contextRadius && lo > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:lo])
		lo -= size
	}
	hi := matchEnd
	for i := 0; i < contextRadius && hi < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[hi:])
		hi += size
	}
	return text[lo:valueStart], text[valueEnd:hi]
}

// hasKeyword matches keywords as whole words; multi-word keywords match a run of words
func hasKeyword(window string, keywords []string) bool {
	w := " " + strings.Join(words(window), " ") + " "
	for _, k := range keywords {
		kw := words(k)
		if len(kw) > 0 && strings.Contains(w, " "+strings.Join(kw, " ")+" ") {
			return true
		}
	}
	return false
}

// words lowercases s and splits it on anything that is not a letter or digit
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score computes a rule match confidence, clamped to [0,1]
func Score(pattern *regexp.Regexp, priority int, keyword bool) float64 {
	c := BaseConfidence
	c += math.Min(MaxComplexityBonus, float64(len(pattern.String()))/200)
	if keyword {
		c += KeywordBonus
	}
	c += float64(max(0, MaxPriority-priority)) * PriorityStep
	return Clamp(c)
}

// Clamp bounds a confidence to [0,1]
func Clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Rank deduplicates candidates by case-insensitive normalized value, keeping the
// highest confidence and the earliest on ties, then sorts descending and truncates.
// A limit of zero or less keeps everything.
func Rank(field string, cands []models.Candidate, limit int) []models.Candidate {
	out := make([]models.Candidate, 0, len(cands))
	index := make(map[string]int, len(cands))
	for _, c := range cands {
		key := DedupKey(field, c.Value)
		if i, ok := index[key]; ok {
			if c.Confidence > out[i].Confidence {
				out[i] = c
			}
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeStats summarizes a rules result
func ComputeStats(results map[string]models.FieldResult) Stats {
	s := Stats{TotalFields: len(results)}
	var sum float64
	for _, r := range results {
		if best, ok := r.Best(); ok {
			s.ExtractedFields++
			sum += best.Confidence
		}
	}
	if s.TotalFields > 0 {
		s.ExtractionRate = float64(s.ExtractedFields) / float64(s.TotalFields)
	}
	if s.ExtractedFields > 0 {
		s.AverageConfidence = sum / float64(s.ExtractedFields)
	}
	return s
}
