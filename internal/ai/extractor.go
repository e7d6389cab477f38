// Package ai is the generative-model fallback used for fields the rules miss.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/facturaIA/field-extraction-service/internal/cost"
	"github.com/facturaIA/field-extraction-service/internal/models"
)

// FallbackConfidence is assigned to every candidate a model returns
const FallbackConfidence = 0.7

// DefaultMaxInputTokens bounds the document text sent in a prompt
const DefaultMaxInputTokens = 3000

// Extractor implements Backend on top of a Provider
type Extractor struct {
	provider       Provider
	ledger         *cost.Ledger
	maxInputTokens int
	logger         *slog.Logger
}

// NewExtractor creates a new fallback extractor. A nil ledger disables spend tracking.
func NewExtractor(provider Provider, ledger *cost.Ledger, maxInputTokens int, logger *slog.Logger) *Extractor {
	if maxInputTokens <= 0 {
		maxInputTokens = DefaultMaxInputTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		provider:       provider,
		ledger:         ledger,
		maxInputTokens: maxInputTokens,
		logger:         logger,
	}
}

// Name returns the provider name
func (e *Extractor) Name() string {
	return e.provider.Name()
}

// Health delegates to the provider
func (e *Extractor) Health(ctx context.Context) HealthStatus {
	return e.provider.Health(ctx)
}

// ExtractFields makes one model call for all fields and parses its JSON answer.
// An answer that cannot be decoded yields an empty result, not an error.
func (e *Extractor) ExtractFields(ctx context.Context, text string, fields []string, sessionID string) (map[string][]models.Candidate, error) {
	if len(fields) == 0 {
		return map[string][]models.Candidate{}, nil
	}

	startTime := time.Now()
	prompt := BuildPrompt(cost.TruncateToTokenLimit(text, e.maxInputTokens), fields)

	completion, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("fallback.call.failed",
			"provider", e.provider.Name(),
			"session_id", sessionID,
			"error", err,
		)
		return nil, fmt.Errorf("%s completion failed: %w", e.provider.Name(), err)
	}

	// Providers that do not report usage are charged on the estimate
	if completion.TokensIn <= 0 {
		completion.TokensIn = cost.EstimateTokens(prompt)
	}
	if completion.TokensOut <= 0 {
		completion.TokensOut = cost.EstimateTokens(completion.Text)
	}

	if e.ledger != nil {
		track := e.ledger.TrackRequest(sessionID, completion.Model, completion.TokensIn, completion.TokensOut)
		e.logger.Info("fallback.call.done",
			"provider", e.provider.Name(),
			"model", completion.Model,
			"session_id", sessionID,
			"tokens_in", completion.TokensIn,
			"tokens_out", completion.TokensOut,
			"request_cost", track.RequestCost,
			"duration", time.Since(startTime).Seconds(),
		)
	}

	if strings.TrimSpace(completion.Text) == "" {
		return nil, ErrEmptyResponse
	}

	candidates, ok := ParseResponse(completion.Text, fields)
	if !ok {
		e.logger.Warn("fallback.response.unparseable",
			"provider", e.provider.Name(),
			"session_id", sessionID,
			"response_length", len(completion.Text),
		)
	}
	return candidates, nil
}

var fieldDescriptions = map[string]string{
	models.FieldEmail:          "email address of the sender or contact person",
	models.FieldPhone:          "telephone number including area code",
	models.FieldName:           "full name of the person the document is from or addressed to",
	models.FieldCompany:        "name of the company or organization",
	models.FieldAmount:         "total monetary amount, digits with an optional decimal point",
	models.FieldDate:           "main date of the document",
	models.FieldAddress:        "postal or street address",
	models.FieldDocumentNumber: "invoice, order, reference or fiscal document number",
}

// BuildPrompt creates the extraction prompt. Fields are listed in the order given.
func BuildPrompt(text string, fields []string) string {
	var b strings.Builder
	b.WriteString("Extract the following fields from the document text below.\n")
	b.WriteString("Return ONLY a valid JSON object (no markdown, no comments) whose keys are exactly the field names listed.\n")
	b.WriteString("Each value must be a string copied from the text, or null when the field does not appear. Never invent values.\n\n")
	b.WriteString("Fields:\n")
	for _, f := range fields {
		desc, ok := fieldDescriptions[f]
		if !ok {
			desc = fmt.Sprintf("value labeled %q or equivalent", f)
		}
		fmt.Fprintf(&b, "- %s: %s\n", f, desc)
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(text)
	return b.String()
}

// ParseResponse decodes the JSON object in a model answer. Only requested fields
// with non-empty string values (or arrays of strings) are kept. The bool is false
// when no JSON object could be decoded.
func ParseResponse(response string, fields []string) (map[string][]models.Candidate, bool) {
	out := make(map[string][]models.Candidate)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return out, false
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return out, false
	}

	for _, field := range fields {
		msg, ok := raw[field]
		if !ok {
			continue
		}
		for _, value := range stringValues(msg) {
			out[field] = append(out[field], models.Candidate{
				Value:      value,
				Confidence: FallbackConfidence,
				Source:     models.SourceFallback,
			})
		}
	}
	return out, true
}

func stringValues(msg json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(msg, &list); err != nil {
		return nil
	}
	var values []string
	for _, item := range list {
		var v string
		if json.Unmarshal(item, &v) == nil {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	}
	return values
}
