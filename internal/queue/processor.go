package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"pdf-rag-server/internal/logger"
	"pdf-rag-server/models"
)

// Extractor is the document-to-text engine: path in, ordered chunks out.
type Extractor interface {
	Load(ctx context.Context, filePath, source string) ([]models.DocumentChunk, error)
}

// DocumentStore is the slice of the vector store the worker needs.
type DocumentStore interface {
	AddDocuments(ctx context.Context, chunks []models.DocumentChunk) error
}

// TaskProcessor consumes ingestion jobs: extract text from the referenced
// file, push the chunks to the vector store, then best-effort delete the
// source file.
type TaskProcessor struct {
	extractor Extractor
	store     DocumentStore

	// bounds each extraction/store call so a hung collaborator cannot
	// block the job past the task timeout
	stepTimeout time.Duration
}

func NewTaskProcessor(extractor Extractor, store DocumentStore) *TaskProcessor {
	return &TaskProcessor{
		extractor:   extractor,
		store:       store,
		stepTimeout: 5 * time.Minute,
	}
}

// HandleIngestPDF processes one job. A malformed or unknown-version payload
// and a corrupt file are terminal failures; a store failure is left to the
// broker's retry policy, with the file kept on disk so a retry still has its
// input. Ingestion success is "chunks are queryable", so a failed file
// deletion only logs a warning.
func (p *TaskProcessor) HandleIngestPDF(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logger.Error("Malformed ingest payload", "error", err.Error())
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.Version != IngestPayloadVersion {
		logger.Error("Unsupported ingest payload version", "version", payload.Version)
		return fmt.Errorf("payload version %d not supported: %w", payload.Version, asynq.SkipRetry)
	}

	logger.Info("Processing PDF ingestion job",
		"filename", payload.FileName,
		"path", payload.FilePath)

	extractCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	chunks, err := p.extractor.Load(extractCtx, payload.FilePath, payload.FileName)
	cancel()
	if err != nil {
		// File stays on disk for operator inspection
		logger.Error("PDF extraction failed",
			"filename", payload.FileName,
			"error", err.Error())
		return fmt.Errorf("extract %s: %v: %w", payload.FileName, err, asynq.SkipRetry)
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	err = p.store.AddDocuments(storeCtx, chunks)
	cancel()
	if err != nil {
		// No cleanup on storage failure so a broker retry keeps its input
		logger.Error("Failed to add documents to vector store",
			"filename", payload.FileName,
			"chunks", len(chunks),
			"error", err.Error())
		return fmt.Errorf("store documents for %s: %w", payload.FileName, err)
	}

	if err := os.Remove(payload.FilePath); err != nil {
		logger.Warn("Failed to remove PDF file after processing",
			"filename", payload.FileName,
			"path", payload.FilePath,
			"error", err.Error())
	}

	// The broker only hands out a result writer for tasks it delivered
	if w := t.ResultWriter(); w != nil {
		result, _ := json.Marshal(IngestResult{ChunksStored: len(chunks)})
		if _, err := w.Write(result); err != nil {
			logger.Warn("Failed to record ingestion result",
				"filename", payload.FileName,
				"error", err.Error())
		}
	}

	logger.Info("PDF ingestion completed",
		"filename", payload.FileName,
		"chunks_stored", len(chunks))
	return nil
}
