package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

func TestOllamaProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Stream || req.Format != "json" || req.Model != "test-model" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":             "test-model",
			"response":          `{"email":"a@b.com"}`,
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        15,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(models.OllamaConfig{BaseURL: server.URL, Model: "test-model"}, time.Second, discardLogger())
	c, err := p.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if c.Text != `{"email":"a@b.com"}` {
		t.Errorf("unexpected text: %s", c.Text)
	}
	if c.Model != "local/test-model" {
		t.Errorf("model = %s, want local/test-model", c.Model)
	}
	if c.TokensIn != 120 || c.TokensOut != 15 {
		t.Errorf("tokens = %d/%d, want 120/15", c.TokensIn, c.TokensOut)
	}
}

func TestOllamaProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewOllamaProvider(models.OllamaConfig{BaseURL: server.URL, Model: "test"}, time.Second, discardLogger())
	if _, err := p.Complete(context.Background(), "prompt"); err == nil {
		t.Error("should error on 500")
	}
}

func TestOllamaProvider_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("health must not generate, got path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"mistral:7b"}]}`))
	}))
	defer server.Close()

	ok := NewOllamaProvider(models.OllamaConfig{BaseURL: server.URL, Model: "llama3.2"}, time.Second, discardLogger())
	if h := ok.Health(context.Background()); !h.Available {
		t.Errorf("pulled model should be available: %+v", h)
	}

	missing := NewOllamaProvider(models.OllamaConfig{BaseURL: server.URL, Model: "phi3"}, time.Second, discardLogger())
	if h := missing.Health(context.Background()); h.Available || h.Error == "" {
		t.Errorf("missing model should be unavailable: %+v", h)
	}
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider(models.OllamaConfig{}, 0, nil)
	if p.baseURL != "http://localhost:11434" {
		t.Error("should default to localhost")
	}
	if p.model != "llama3.2" {
		t.Error("should default to llama3.2")
	}
}

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if rf, _ := req["response_format"].(map[string]any); rf["type"] != "json_object" {
				t.Errorf("response_format = %v, want json_object", req["response_format"])
			}
			w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1,
				"model": "gpt-4o-mini-2024-07-18",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"phone\":\"555-123-4567\"}"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 200, "completion_tokens": 12, "total_tokens": 212}
			}`))
		case "/v1/models/gpt-4o-mini":
			w.Write([]byte(`{"id": "gpt-4o-mini", "object": "model", "created": 1, "owned_by": "openai"}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(models.OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini"}, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	c, err := p.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != `{"phone":"555-123-4567"}` || c.Model != "gpt-4o-mini-2024-07-18" {
		t.Errorf("completion = %+v", c)
	}
	if c.TokensIn != 200 || c.TokensOut != 12 {
		t.Errorf("tokens = %d/%d, want 200/12", c.TokensIn, c.TokensOut)
	}

	if h := p.Health(context.Background()); !h.Available {
		t.Errorf("health = %+v, want available", h)
	}
}
