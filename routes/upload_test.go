package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"pdf-rag-server/internal/config"
)

type fakeEnqueuer struct {
	err       error
	filePaths []string
	fileNames []string
	// file existence observed at enqueue time
	existedAtEnqueue []bool
}

func (f *fakeEnqueuer) EnqueueIngest(filePath, fileName string) (*asynq.TaskInfo, error) {
	f.filePaths = append(f.filePaths, filePath)
	f.fileNames = append(f.fileNames, fileName)
	_, statErr := os.Stat(filePath)
	f.existedAtEnqueue = append(f.existedAtEnqueue, statErr == nil)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type fakeDeleter struct {
	err     error
	sources []string
}

func (f *fakeDeleter) DeleteBySource(ctx context.Context, source string) error {
	f.sources = append(f.sources, source)
	return f.err
}

func uploadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		UploadDir:   t.TempDir(),
		MaxFileSize: 1 << 20,
	}
}

func newUploadRouter(cfg *config.Config, enq Enqueuer, del SourceDeleter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupUploadRoutes(router, cfg, enq, del)
	return router
}

func multipartPDF(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write(content)
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestUpload_NoFile(t *testing.T) {
	enq := &fakeEnqueuer{}
	router := newUploadRouter(uploadTestConfig(t), enq, &fakeDeleter{})

	req := httptest.NewRequest(http.MethodPost, "/upload/pdf", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(enq.filePaths) != 0 {
		t.Fatalf("nothing should be enqueued without a file")
	}
}

func TestUpload_InvalidMagicHeader(t *testing.T) {
	enq := &fakeEnqueuer{}
	router := newUploadRouter(uploadTestConfig(t), enq, &fakeDeleter{})

	body, ct := multipartPDF(t, "pdf", "notes.pdf", []byte("plain text, not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/upload/pdf", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(enq.filePaths) != 0 {
		t.Fatalf("invalid files must not be enqueued")
	}
}

func TestUpload_Success(t *testing.T) {
	cfg := uploadTestConfig(t)
	enq := &fakeEnqueuer{}
	router := newUploadRouter(cfg, enq, &fakeDeleter{})

	body, ct := multipartPDF(t, "pdf", "invoice.pdf", []byte("%PDF-1.4 fake content"))
	req := httptest.NewRequest(http.MethodPost, "/upload/pdf", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}

	var resp struct {
		Message  string `json:"message"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Filename == "" {
		t.Fatalf("response must include the generated filename")
	}
	if !strings.HasSuffix(resp.Filename, "-invoice.pdf") {
		t.Fatalf("generated name should end with the original filename, got %q", resp.Filename)
	}

	if len(enq.filePaths) != 1 {
		t.Fatalf("expected exactly one enqueued job, got %d", len(enq.filePaths))
	}
	if !enq.existedAtEnqueue[0] {
		t.Fatalf("file must exist on disk at enqueue time")
	}
	if enq.fileNames[0] != resp.Filename {
		t.Fatalf("job file name %q != response filename %q", enq.fileNames[0], resp.Filename)
	}
}

func TestUpload_UniqueGeneratedNames(t *testing.T) {
	cfg := uploadTestConfig(t)
	enq := &fakeEnqueuer{}
	router := newUploadRouter(cfg, enq, &fakeDeleter{})

	for i := 0; i < 3; i++ {
		body, ct := multipartPDF(t, "pdf", "invoice.pdf", []byte("%PDF-1.4 fake content"))
		req := httptest.NewRequest(http.MethodPost, "/upload/pdf", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("upload %d failed with status %d", i, w.Code)
		}
	}

	seen := make(map[string]bool)
	for _, name := range enq.fileNames {
		if seen[name] {
			t.Fatalf("generated name %q is not unique", name)
		}
		seen[name] = true
	}
}

func TestUpload_EnqueueFailureLeavesFile(t *testing.T) {
	cfg := uploadTestConfig(t)
	enq := &fakeEnqueuer{err: fmt.Errorf("broker unreachable")}
	router := newUploadRouter(cfg, enq, &fakeDeleter{})

	body, ct := multipartPDF(t, "pdf", "invoice.pdf", []byte("%PDF-1.4 fake content"))
	req := httptest.NewRequest(http.MethodPost, "/upload/pdf", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// The orphaned file is an accepted failure mode; the janitor sweeps it
	if _, err := os.Stat(enq.filePaths[0]); err != nil {
		t.Fatalf("orphaned file should remain on disk after enqueue failure: %v", err)
	}
}

func TestDeleteBySource_Success(t *testing.T) {
	del := &fakeDeleter{}
	router := newUploadRouter(uploadTestConfig(t), &fakeEnqueuer{}, del)

	req := httptest.NewRequest(http.MethodDelete, "/upload/pdf/1693-abc-invoice.pdf", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(del.sources) != 1 || del.sources[0] != "1693-abc-invoice.pdf" {
		t.Fatalf("unexpected delete calls: %v", del.sources)
	}

	var resp struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Source != "1693-abc-invoice.pdf" {
		t.Fatalf("response source = %q", resp.Source)
	}
}

func TestDeleteBySource_MissingSource(t *testing.T) {
	del := &fakeDeleter{}
	router := newUploadRouter(uploadTestConfig(t), &fakeEnqueuer{}, del)

	req := httptest.NewRequest(http.MethodDelete, "/upload/pdf", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(del.sources) != 0 {
		t.Fatalf("store must not be called without a source")
	}

	var resp struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.ErrorCode != "missing_source" {
		t.Fatalf("error_code = %q, want missing_source", resp.ErrorCode)
	}
}

func TestDeleteBySource_StoreError(t *testing.T) {
	del := &fakeDeleter{err: fmt.Errorf("store unreachable")}
	router := newUploadRouter(uploadTestConfig(t), &fakeEnqueuer{}, del)

	req := httptest.NewRequest(http.MethodDelete, "/upload/pdf/some-source.pdf", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
