// Package batch runs extraction over many documents with bounded concurrency.
package batch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/field-extraction-service/internal/extraction"
	"github.com/facturaIA/field-extraction-service/internal/models"
)

// DefaultConcurrency is used when the configured value is not positive
const DefaultConcurrency = 4

// Extractor is the single-document operation a batch fans out
type Extractor interface {
	Extract(ctx context.Context, text string, opts extraction.Options) (*models.ExtractionResult, error)
}

// Runner processes documents in parallel, isolating failures per document
type Runner struct {
	extractor   Extractor
	concurrency int
	logger      *slog.Logger
}

func NewRunner(extractor Extractor, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{extractor: extractor, concurrency: concurrency, logger: logger}
}

// Run extracts every document with the same options. Items come back in input order;
// a failed document never aborts the others.
func (r *Runner) Run(ctx context.Context, docs []models.Document, opts extraction.Options) models.BatchResponse {
	start := time.Now()
	items := make([]models.BatchItem, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			item := models.BatchItem{Filename: doc.Filename}
			if err := gctx.Err(); err != nil {
				item.Error = err.Error()
				items[i] = item
				return nil
			}

			res, err := r.extractor.Extract(gctx, doc.Text, opts)
			if err != nil {
				r.logger.Warn("batch.item.failed", "filename", doc.Filename, "error", err)
				item.Error = err.Error()
			} else {
				item.Success = true
				item.Result = res
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	resp := models.BatchResponse{Items: items}
	for _, it := range items {
		if it.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	resp.Success = resp.Failed == 0

	r.logger.Info("batch.done",
		"documents", len(docs),
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp
}
