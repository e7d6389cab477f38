package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// GeminiProvider uses Google Gemini
type GeminiProvider struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	logger    *slog.Logger
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, cfg models.GeminiConfig, logger *slog.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key not configured", ErrProviderUnavailable)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: creating Gemini client: %v", ErrProviderUnavailable, err)
	}

	name := cfg.Model
	if name == "" {
		name = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(name)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	return &GeminiProvider{
		client:    client,
		model:     model,
		modelName: name,
		logger:    logger,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete generates JSON content for the prompt
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Completion{}, fmt.Errorf("Gemini request failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	c := Completion{Text: text.String(), Model: p.modelName}
	if resp.UsageMetadata != nil {
		c.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		c.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return c, nil
}

// Health fetches model metadata without generating
func (p *GeminiProvider) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Provider: p.Name(), Model: p.modelName}
	if _, err := p.model.Info(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	return status
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
