package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facturaIA/field-extraction-service/api"
	"github.com/facturaIA/field-extraction-service/internal/ai"
	"github.com/facturaIA/field-extraction-service/internal/auth"
	"github.com/facturaIA/field-extraction-service/internal/batch"
	"github.com/facturaIA/field-extraction-service/internal/cost"
	"github.com/facturaIA/field-extraction-service/internal/extraction"
	"github.com/facturaIA/field-extraction-service/internal/models"
	"github.com/facturaIA/field-extraction-service/internal/rules"
	"github.com/facturaIA/field-extraction-service/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an API key for auth.clients and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := auth.HashKey(*hashKey)
		if err != nil {
			log.Fatalf("Failed to hash key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load configuration
	config, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cost ledger
	loc, err := config.Cost.Location()
	if err != nil {
		log.Fatalf("Failed to load cost timezone: %v", err)
	}
	ledger := cost.NewLedger(
		cost.WithPrices(cost.NewPriceTable(cost.PricesFromConfig(config.Cost.Pricing))),
		cost.WithLocation(loc),
		cost.WithLogger(logger),
	)

	// Rules engine
	engine := rules.NewEngine(logger)
	if config.RulesFile != "" {
		n, err := engine.LoadDefinitions(config.RulesFile)
		if err != nil {
			log.Fatalf("Failed to load rules file: %v", err)
		}
		logger.Info("rules.file.loaded", "path", config.RulesFile, "rules", n)
	}

	// Fallback backend
	var backend ai.Backend
	provider, err := ai.NewProvider(ctx, config.AI, logger)
	switch {
	case err != nil:
		logger.Warn("fallback.provider.unavailable", "provider", config.AI.DefaultProvider, "error", err)
	case provider != nil:
		backend = ai.NewExtractor(provider, ledger, config.Extraction.MaxInputTokens, logger)
		if closer, ok := provider.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}

	orchestrator := extraction.New(engine, backend, ledger, extraction.SettingsFromConfig(config), logger)
	runner := batch.NewRunner(orchestrator, config.Batch.Concurrency, logger)
	handler := api.NewHandler(config, orchestrator, runner, ledger, logger)

	// Source document archive
	store, err := storage.NewStore(ctx, config.Storage)
	switch {
	case errors.Is(err, storage.ErrDisabled):
	case err != nil:
		logger.Warn("storage.unavailable", "error", err)
	default:
		handler.WithArchive(store)
		logger.Info("storage.ready", "bucket", store.Bucket())
	}

	router := handler.SetupRoutes()

	var root http.Handler = router
	if config.Auth.Enabled {
		authenticator := auth.NewAuthenticator(config.Auth, logger)
		router.HandleFunc("/api/login", authenticator.LoginHandler).Methods("POST")
		// skips /health and /api/login
		root = authenticator.Middleware(router)
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server.start",
		"addr", addr,
		"version", api.Version,
		"provider", config.AI.DefaultProvider,
		"fallback", backend != nil,
		"auth", config.Auth.Enabled,
		"storage", store != nil,
		"fields", engine.Fields(),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Fatalf("Server failed: %v", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.failed", "error", err)
	}
	logger.Info("server.stopped")
}
