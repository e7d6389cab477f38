package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

// LoginResponse represents the successful login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Authenticator exchanges client API keys for tokens
type Authenticator struct {
	secret  []byte
	ttl     time.Duration
	clients map[string][]byte
	logger  *slog.Logger
}

func NewAuthenticator(cfg models.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	clients := make(map[string][]byte, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.ID] = []byte(c.KeyHash)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(cfg.Secret), ttl: ttl, clients: clients, logger: logger}
}

// Middleware wraps next with bearer token checks
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return JWTMiddleware(a.secret, next)
}

// HashKey produces the bcrypt hash stored in config for an API key
func HashKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks an API key against the configured hash
func (a *Authenticator) Verify(clientID, apiKey string) bool {
	hash, ok := a.clients[clientID]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil
}

// LoginHandler handles client authentication
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(LoginResponse{Error: "invalid request body"})
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(LoginResponse{Error: "clientId and apiKey are required"})
		return
	}

	if !a.Verify(req.ClientID, req.APIKey) {
		a.logger.Warn("auth.login.rejected", "client_id", req.ClientID)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(LoginResponse{Error: "invalid credentials"})
		return
	}

	token, err := GenerateToken(a.secret, req.ClientID, a.ttl)
	if err != nil {
		a.logger.Error("auth.token.failed", "client_id", req.ClientID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(LoginResponse{Error: "failed to generate token"})
		return
	}

	a.logger.Info("auth.login.ok", "client_id", req.ClientID)
	json.NewEncoder(w).Encode(LoginResponse{
		Success:   true,
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: time.Now().Add(a.ttl).UTC().Format(time.RFC3339),
	})
}
