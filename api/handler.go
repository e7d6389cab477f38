package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/facturaIA/field-extraction-service/internal/auth"
	"github.com/facturaIA/field-extraction-service/internal/batch"
	"github.com/facturaIA/field-extraction-service/internal/cost"
	"github.com/facturaIA/field-extraction-service/internal/documents"
	"github.com/facturaIA/field-extraction-service/internal/extraction"
	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
)

const (
	MaxUploadSize      = 10 * 1024 * 1024 // 10MB
	MaxBatchUploadSize = 50 * 1024 * 1024
	MaxRuleSize        = 64 * 1024
	Version            = "1.0.0"
)

// Archiver stores uploaded source documents
type Archiver interface {
	Archive(ctx context.Context, session, filename string, reader io.Reader, size int64, contentType string) (string, error)
}

// Handler handles HTTP requests for field extraction
type Handler struct {
	config       *models.Config
	orchestrator *extraction.Orchestrator
	batch        *batch.Runner
	ledger       *cost.Ledger
	archive      Archiver
	logger       *slog.Logger
}

// NewHandler creates a new API handler. ledger may be nil.
func NewHandler(config *models.Config, orchestrator *extraction.Orchestrator, runner *batch.Runner, ledger *cost.Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:       config,
		orchestrator: orchestrator,
		batch:        runner,
		ledger:       ledger,
		logger:       logger,
	}
}

// WithArchive enables archiving of uploaded documents
func (h *Handler) WithArchive(a Archiver) *Handler {
	h.archive = a
	return h
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Extraction
	router.HandleFunc("/api/extract", h.Extract).Methods("POST")
	router.HandleFunc("/api/extract/batch", h.ExtractBatch).Methods("POST")

	// Rules
	router.HandleFunc("/api/rules", h.ListRules).Methods("GET")
	router.HandleFunc("/api/rules", h.AddRule).Methods("POST")

	// Fallback spend
	router.HandleFunc("/api/usage/{sessionId}", h.GetUsage).Methods("GET")
	router.HandleFunc("/api/usage/{sessionId}", h.ResetUsage).Methods("DELETE")
	router.HandleFunc("/api/usage", h.ResetAllUsage).Methods("DELETE")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Pipeline  extraction.Health `json:"pipeline"`
	Storage   ServiceStatus     `json:"storage"`
	AI        map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports rule counts and fallback backend availability. It answers 200
// even when degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	pipeline := h.orchestrator.HealthCheck(ctx)

	response := HealthResponse{
		Status:    pipeline.Overall,
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Pipeline: pipeline,
		Storage:  h.checkStorage(),
		AI: map[string]string{
			"defaultProvider": h.config.AI.DefaultProvider,
		},
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) checkStorage() ServiceStatus {
	if h.archive == nil {
		return ServiceStatus{Available: false, Error: "archive not configured"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

// Extract handles a JSON text request or a single multipart file upload
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	start := time.Now()

	var req models.ExtractRequest
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
			return
		}
		if err := readFormOptions(r, &req); err != nil {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' field)")
			return
		}
		defer file.Close()

		req.SessionID = h.sessionID(r, req.SessionID)
		doc, err := h.loadUpload(r.Context(), req.SessionID, file, header)
		if err != nil {
			h.sendError(w, statusFor(err), err.Error())
			return
		}
		req.Text = doc.Text
		req.Filename = doc.Filename
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := h.options(r, req)
	result, err := h.orchestrator.Extract(r.Context(), req.Text, opts)
	if err != nil {
		h.logger.Warn("api.extract.failed", "session_id", opts.SessionID, "error", err)
		h.sendError(w, statusFor(err), err.Error())
		return
	}

	json.NewEncoder(w).Encode(models.ExtractResponse{
		Success:       true,
		Result:        result,
		Flattened:     result.Flatten(),
		TotalDuration: time.Since(start).Seconds(),
	})
}

// ExtractBatch handles a multipart upload of several files under "files"
func (h *Handler) ExtractBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "Files too large or invalid form data")
		return
	}
	var req models.ExtractRequest
	if err := readFormOptions(r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.sendError(w, http.StatusBadRequest, "No files provided (use 'files' field)")
		return
	}

	opts := h.options(r, req)
	items := make([]models.BatchItem, len(headers))
	var docs []models.Document
	var positions []int
	for i, fh := range headers {
		doc, err := h.openUpload(r.Context(), opts.SessionID, fh)
		if err != nil {
			items[i] = models.BatchItem{Filename: fh.Filename, Error: err.Error()}
			continue
		}
		docs = append(docs, doc)
		positions = append(positions, i)
	}

	ran := h.batch.Run(r.Context(), docs, opts)
	for k, item := range ran.Items {
		items[positions[k]] = item
	}

	resp := models.BatchResponse{Items: items}
	for _, it := range items {
		if it.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.Success = resp.Failed == 0
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) openUpload(ctx context.Context, session string, fh *multipart.FileHeader) (models.Document, error) {
	file, err := fh.Open()
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()
	return h.loadUpload(ctx, session, file, fh)
}

// loadUpload converts an upload to text and archives the original when configured.
// Archive failures are logged and never fail the request.
func (h *Handler) loadUpload(ctx context.Context, session string, file io.Reader, header *multipart.FileHeader) (models.Document, error) {
	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read upload: %w", err)
	}
	contentType := documents.DetectContentType(header.Filename, header.Header.Get("Content-Type"))

	doc, err := documents.FromUpload(header.Filename, contentType, bytes.NewReader(data))
	if err != nil {
		return models.Document{}, err
	}

	if h.archive != nil {
		path, err := h.archive.Archive(ctx, session, header.Filename, bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			h.logger.Warn("api.archive.failed", "filename", header.Filename, "error", err)
		} else {
			h.logger.Info("api.archive.stored", "path", path)
		}
	}
	return doc, nil
}

// RulesResponse lists registered rules
type RulesResponse struct {
	Success     bool                   `json:"success"`
	Fields      []string               `json:"fields"`
	Validators  []string               `json:"validators"`
	Definitions []rules.RuleDefinition `json:"definitions"`
	Health      rules.Health           `json:"health"`
}

// ListRules returns every registered rule
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	engine := h.orchestrator.Engine()
	json.NewEncoder(w).Encode(RulesResponse{
		Success:     true,
		Fields:      engine.Fields(),
		Validators:  rules.ValidatorNames(),
		Definitions: engine.Definitions(),
		Health:      engine.Health(),
	})
}

// AddRule registers a custom rule definition
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRuleSize))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	def, err := rules.ParseDefinition(data)
	if err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}
	if err := h.orchestrator.Engine().AddDefinition(def); err != nil {
		h.sendError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"rule":    def,
	})
}

// UsageResponse is the spend snapshot of a session
type UsageResponse struct {
	Success bool               `json:"success"`
	Found   bool               `json:"found"`
	Session cost.SessionLedger `json:"session"`
	Daily   cost.DailyLedger   `json:"daily"`
}

// GetUsage returns the ledger for one session plus today's total
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "cost tracking not configured")
		return
	}

	id := mux.Vars(r)["sessionId"]
	session, found := h.ledger.Session(id)
	json.NewEncoder(w).Encode(UsageResponse{
		Success: true,
		Found:   found,
		Session: session,
		Daily:   h.ledger.Daily(),
	})
}

// ResetUsage clears one session
func (h *Handler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "cost tracking not configured")
		return
	}
	id := mux.Vars(r)["sessionId"]
	h.ledger.Reset(id)
	json.NewEncoder(w).Encode(map[string]any{"success": true, "sessionId": id})
}

// ResetAllUsage clears every session and the daily total
func (h *Handler) ResetAllUsage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ledger == nil {
		h.sendError(w, http.StatusServiceUnavailable, "cost tracking not configured")
		return
	}
	h.ledger.ResetAll()
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// options merges request overrides onto the configured defaults
func (h *Handler) options(r *http.Request, req models.ExtractRequest) extraction.Options {
	opts := h.orchestrator.DefaultOptions()
	opts.SessionID = h.sessionID(r, req.SessionID)
	opts.Fields = req.Fields
	if req.FallbackEnabled != nil {
		opts.FallbackEnabled = *req.FallbackEnabled
	}
	if req.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	return opts
}

// sessionID resolves the session: request field, then token subject, then a new id
func (h *Handler) sessionID(r *http.Request, requested string) string {
	if requested != "" {
		return requested
	}
	if claims, err := auth.GetClaimsFromContext(r.Context()); err == nil && claims.Subject != "" {
		return claims.Subject
	}
	return uuid.NewString()
}

func readFormOptions(r *http.Request, req *models.ExtractRequest) error {
	req.SessionID = r.FormValue("sessionId")
	if v := r.FormValue("fields"); v != "" {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				req.Fields = append(req.Fields, f)
			}
		}
	}
	if v := r.FormValue("fallbackEnabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid fallbackEnabled %q", v)
		}
		req.FallbackEnabled = &b
	}
	if v := r.FormValue("confidenceThreshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid confidenceThreshold %q", v)
		}
		req.ConfidenceThreshold = &f
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, extraction.ErrInvalidInput),
		errors.Is(err, rules.ErrUnknownField),
		errors.Is(err, rules.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, documents.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ExtractResponse{
		Success: false,
		Error:   message,
	})
}
