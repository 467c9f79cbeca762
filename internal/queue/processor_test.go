package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"pdf-rag-server/models"
)

type fakeExtractor struct {
	chunks []models.DocumentChunk
	err    error
	calls  int
}

func (f *fakeExtractor) Load(ctx context.Context, filePath, source string) ([]models.DocumentChunk, error) {
	f.calls++
	return f.chunks, f.err
}

type fakeStore struct {
	added [][]models.DocumentChunk
	err   error
}

func (f *fakeStore) AddDocuments(ctx context.Context, chunks []models.DocumentChunk) error {
	f.added = append(f.added, chunks)
	return f.err
}

func writeTempUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "123-abc-test.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func ingestTask(t *testing.T, filePath, fileName string) *asynq.Task {
	t.Helper()
	task, err := NewIngestTask(filePath, fileName)
	if err != nil {
		t.Fatalf("NewIngestTask: %v", err)
	}
	return task
}

func TestHandleIngestPDF_Success(t *testing.T) {
	path := writeTempUpload(t)
	chunks := []models.DocumentChunk{
		{Text: "page one", Metadata: models.ChunkMetadata{Source: "123-abc-test.pdf", Page: 1, TotalPages: 2}},
		{Text: "page two", Metadata: models.ChunkMetadata{Source: "123-abc-test.pdf", Page: 2, TotalPages: 2}},
	}
	extractor := &fakeExtractor{chunks: chunks}
	store := &fakeStore{}
	p := NewTaskProcessor(extractor, store)

	err := p.HandleIngestPDF(context.Background(), ingestTask(t, path, "123-abc-test.pdf"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(store.added) != 1 || len(store.added[0]) != 2 {
		t.Fatalf("expected 2 chunks stored, got %v", store.added)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected source file to be deleted after success")
	}
}

func TestHandleIngestPDF_MalformedPayload(t *testing.T) {
	p := NewTaskProcessor(&fakeExtractor{}, &fakeStore{})
	task := asynq.NewTask(TaskIngestPDF, []byte("not json"))

	err := p.HandleIngestPDF(context.Background(), task)
	if err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed payload must be terminal, got %v", err)
	}
}

func TestHandleIngestPDF_UnknownVersion(t *testing.T) {
	p := NewTaskProcessor(&fakeExtractor{}, &fakeStore{})
	payload, _ := json.Marshal(IngestPayload{Version: 99, FilePath: "/tmp/x", FileName: "x"})
	task := asynq.NewTask(TaskIngestPDF, payload)

	err := p.HandleIngestPDF(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("unknown payload version must be terminal, got %v", err)
	}
}

func TestHandleIngestPDF_ExtractionFailureKeepsFile(t *testing.T) {
	path := writeTempUpload(t)
	extractor := &fakeExtractor{err: fmt.Errorf("corrupt pdf")}
	store := &fakeStore{}
	p := NewTaskProcessor(extractor, store)

	err := p.HandleIngestPDF(context.Background(), ingestTask(t, path, filepath.Base(path)))
	if err == nil {
		t.Fatalf("expected extraction failure to fail the job")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("extraction failure must be terminal, got %v", err)
	}
	if len(store.added) != 0 {
		t.Fatalf("no chunks should reach the store on extraction failure")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("source file must remain on disk for inspection: %v", statErr)
	}
}

func TestHandleIngestPDF_StoreFailureKeepsFile(t *testing.T) {
	path := writeTempUpload(t)
	extractor := &fakeExtractor{chunks: []models.DocumentChunk{{Text: "x"}}}
	store := &fakeStore{err: fmt.Errorf("qdrant unreachable")}
	p := NewTaskProcessor(extractor, store)

	err := p.HandleIngestPDF(context.Background(), ingestTask(t, path, filepath.Base(path)))
	if err == nil {
		t.Fatalf("expected store failure to fail the job")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("store failure should be retryable by the broker, got terminal error")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("source file must remain on disk so a retry has its input: %v", statErr)
	}
}

func TestHandleIngestPDF_DeleteFailureDoesNotFailJob(t *testing.T) {
	// Point the job at a path that never existed; the post-storage delete
	// fails but ingestion already succeeded.
	extractor := &fakeExtractor{chunks: []models.DocumentChunk{{Text: "x"}}}
	store := &fakeStore{}
	p := NewTaskProcessor(extractor, store)

	err := p.HandleIngestPDF(context.Background(), ingestTask(t, "/nonexistent/upload.pdf", "upload.pdf"))
	if err != nil {
		t.Fatalf("file deletion failure must not fail the job, got %v", err)
	}
}
