package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

var (
	// ErrProviderUnavailable is returned when a provider cannot be built or reached
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrEmptyResponse is returned when a provider answers with no text
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Completion is one generated answer plus its usage
type Completion struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// HealthStatus reports whether a backend can serve requests
type HealthStatus struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Provider is a generative model transport
type Provider interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
	Health(ctx context.Context) HealthStatus
	Name() string
}

// Backend extracts candidate values for fields the rules could not resolve
type Backend interface {
	ExtractFields(ctx context.Context, text string, fields []string, sessionID string) (map[string][]models.Candidate, error)
	Health(ctx context.Context) HealthStatus
	Name() string
}

// NewProvider builds the provider named by cfg.DefaultProvider. "none" yields a
// nil provider and no error.
func NewProvider(ctx context.Context, cfg models.AIConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.DefaultProvider {
	case "none", "":
		return nil, nil
	case "ollama":
		return NewOllamaProvider(cfg.Ollama, cfg.Timeout, logger), nil
	case "openai":
		p, err := NewOpenAIProvider(cfg.OpenAI, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gemini":
		p, err := NewGeminiProvider(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrProviderUnavailable, cfg.DefaultProvider)
	}
}
