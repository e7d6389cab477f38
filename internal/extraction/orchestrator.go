// Package extraction runs the rules → gap detection → fallback → post-process pipeline.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/facturaIA/field-extraction-service/internal/ai"
	"github.com/facturaIA/field-extraction-service/internal/cost"
	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
)

// ErrInvalidInput marks invocations that are structurally invalid
var ErrInvalidInput = errors.New("invalid input")

// Health states
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Settings are the orchestrator defaults and merge policy
type Settings struct {
	ConfidenceThreshold float64
	FallbackEnabled     bool
	PerRequestCostCap   float64
	DailyCostCap        float64

	// MergeCap bounds a gap field after merge
	MergeCap int
	// KeepNonGapFallback merges fallback candidates for fields that were not gaps
	KeepNonGapFallback bool
	// DateLayout renders normalized dates
	DateLayout string
}

// DefaultSettings mirrors the documented pipeline defaults
func DefaultSettings() Settings {
	return Settings{
		ConfidenceThreshold: 0.6,
		FallbackEnabled:     true,
		PerRequestCostCap:   0.05,
		MergeCap:            3,
		DateLayout:          "1/2/2006",
	}
}

// SettingsFromConfig reads settings from the service configuration
func SettingsFromConfig(cfg *models.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	if cfg.Extraction.ConfidenceThreshold > 0 {
		s.ConfidenceThreshold = cfg.Extraction.ConfidenceThreshold
	}
	s.FallbackEnabled = cfg.Extraction.FallbackOn()
	if cfg.Cost.PerRequestCap > 0 {
		s.PerRequestCostCap = cfg.Cost.PerRequestCap
	}
	s.DailyCostCap = cfg.Cost.DailyCap
	if cfg.Extraction.MergeCap > 0 {
		s.MergeCap = cfg.Extraction.MergeCap
	}
	s.KeepNonGapFallback = cfg.Extraction.KeepNonGapFallback
	if cfg.Extraction.DateLayout != "" {
		s.DateLayout = cfg.Extraction.DateLayout
	}
	return s
}

// Options parameterize one invocation
type Options struct {
	SessionID           string
	FallbackEnabled     bool
	ConfidenceThreshold float64
	Fields              []string
	PerRequestCostCap   float64
	DailyCostCap        float64
}

// Health is the service health surface
type Health struct {
	Rules    rules.Health     `json:"rules"`
	Fallback *ai.HealthStatus `json:"fallback,omitempty"`
	Overall  string           `json:"overall"`
}

// Orchestrator owns the rules engine, the optional fallback backend, and the ledger
type Orchestrator struct {
	engine   *rules.Engine
	backend  ai.Backend
	ledger   *cost.Ledger
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an orchestrator. backend and ledger may be nil.
func New(engine *rules.Engine, backend ai.Backend, ledger *cost.Ledger, settings Settings, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MergeCap <= 0 {
		settings.MergeCap = DefaultSettings().MergeCap
	}
	if settings.DateLayout == "" {
		settings.DateLayout = DefaultSettings().DateLayout
	}
	return &Orchestrator{
		engine:   engine,
		backend:  backend,
		ledger:   ledger,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Engine returns the rules engine
func (o *Orchestrator) Engine() *rules.Engine {
	return o.engine
}

// DefaultOptions returns options populated from the settings
func (o *Orchestrator) DefaultOptions() Options {
	return Options{
		FallbackEnabled:     o.settings.FallbackEnabled,
		ConfidenceThreshold: o.settings.ConfidenceThreshold,
		PerRequestCostCap:   o.settings.PerRequestCostCap,
		DailyCostCap:        o.settings.DailyCostCap,
	}
}

func validateInput(text string, opts Options) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidInput)
	}
	if t := opts.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: confidence threshold %v outside [0,1]", ErrInvalidInput, t)
	}
	return nil
}

// Extract runs the full pipeline. Recoverable fallback conditions are reported in
// the result metadata; only structurally invalid invocations return an error.
func (o *Orchestrator) Extract(ctx context.Context, text string, opts Options) (*models.ExtractionResult, error) {
	if err := validateInput(text, opts); err != nil {
		return nil, err
	}
	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fields := uniqueFields(opts.Fields)
	if len(fields) == 0 {
		fields = o.engine.Fields()
	}

	meta := models.Metadata{
		SessionID: sessionID,
		Method:    models.MethodRules,
		StartedAt: o.now(),
	}

	// Phase 1: rules
	rulesStart := time.Now()
	results, err := o.engine.ExtractFields(ctx, text, fields)
	if err != nil {
		return nil, err
	}
	meta.RulesDuration = time.Since(rulesStart).Seconds()

	stats := rules.ComputeStats(results)
	o.logger.Debug("extract.rules.done",
		"session_id", sessionID,
		"fields", len(fields),
		"extracted", stats.ExtractedFields,
		"avg_confidence", stats.AverageConfidence,
		"duration", meta.RulesDuration,
	)

	// Phase 2: gaps
	gaps := DetectGaps(fields, results, opts.ConfidenceThreshold)
	meta.GapFields = gaps

	// Phase 3: gated fallback
	if opts.FallbackEnabled && len(gaps) > 0 && o.backend != nil {
		o.runFallback(ctx, text, fields, gaps, sessionID, opts, results, &meta)
	}

	// Phase 4: post-process
	pp := newPostProcessor(o.settings.DateLayout)
	for field, fr := range results {
		results[field] = pp.fieldResult(field, fr)
	}

	meta.CompletedAt = o.now()
	result := &models.ExtractionResult{
		ExtractedFields: results,
		Metadata:        meta,
		Summary:         Summarize(fields, results),
	}

	o.logger.Info("extract.done",
		"session_id", sessionID,
		"method", meta.Method,
		"fields_found", result.Summary.FieldsFound,
		"total_fields", result.Summary.TotalFields,
		"gap_fields", len(gaps),
		"fallback_error", meta.FallbackError,
	)
	return result, nil
}

func (o *Orchestrator) runFallback(ctx context.Context, text string, fields, gaps []string, sessionID string, opts Options, results map[string]models.FieldResult, meta *models.Metadata) {
	if o.ledger != nil {
		decision := o.ledger.CanMakeRequest(sessionID, opts.PerRequestCostCap, opts.DailyCostCap)
		if !decision.Allowed {
			meta.FallbackError = decision.Err().Error()
			o.logger.Warn("extract.fallback.denied",
				"session_id", sessionID,
				"reason", decision.Reason,
				"daily_total", decision.DailyTotal,
			)
			return
		}
	}

	meta.FallbackProvider = o.backend.Name()
	start := time.Now()
	fallback, err := o.backend.ExtractFields(ctx, text, gaps, sessionID)
	meta.FallbackDuration = time.Since(start).Seconds()
	if err != nil {
		meta.FallbackError = err.Error()
		o.logger.Warn("extract.fallback.failed",
			"session_id", sessionID,
			"provider", meta.FallbackProvider,
			"error", err,
		)
		return
	}

	meta.FallbackUsed = true
	meta.Method = models.MethodRulesFallback
	Merge(results, fallback, fields, gaps, o.settings.MergeCap, o.settings.KeepNonGapFallback)
}

// HealthCheck reports rule counts and backend availability
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	h := Health{Rules: o.engine.Health(), Overall: StatusHealthy}
	if o.backend == nil {
		return h
	}
	status := o.backend.Health(ctx)
	h.Fallback = &status
	if !status.Available {
		h.Overall = StatusDegraded
	}
	return h
}

// DetectGaps returns, in requested order, the fields with no candidates or whose
// best candidate is below threshold.
func DetectGaps(fields []string, results map[string]models.FieldResult, threshold float64) []string {
	var gaps []string
	for _, f := range fields {
		best, ok := results[f].Best()
		if !ok || best.Confidence < threshold {
			gaps = append(gaps, f)
		}
	}
	return gaps
}

func uniqueFields(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
