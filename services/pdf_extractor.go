package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"pdf-rag-server/models"
)

// PDFExtractor turns an uploaded PDF into an ordered sequence of document
// chunks, one per page, each carrying the upload's generated name as source.
type PDFExtractor struct {
	maxFileSize int64
}

func NewPDFExtractor(maxFileSize int64) *PDFExtractor {
	if maxFileSize <= 0 {
		maxFileSize = 200 << 20 // safety cap to avoid OOM on in-memory extraction
	}
	return &PDFExtractor{maxFileSize: maxFileSize}
}

// Load reads the PDF at filePath and returns its page chunks. Fails on
// unreadable or corrupt input; the caller decides what to do with the file.
func (e *PDFExtractor) Load(ctx context.Context, filePath, source string) ([]models.DocumentChunk, error) {
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return nil, fmt.Errorf("context deadline exceeded before extraction")
		}
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > e.maxFileSize {
		return nil, fmt.Errorf("pdf too large for in-memory extraction")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	chunks, err := e.extractPages(content, source)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", filePath)
	}

	fmt.Printf("Extracted %d chunks from %s in %s\n", len(chunks), source, time.Since(start))
	return chunks, nil
}

func (e *PDFExtractor) extractPages(content []byte, source string) ([]models.DocumentChunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	pages := reader.NumPage()
	chunks := make([]models.DocumentChunk, 0, pages)

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// A single unreadable page should not discard the rest
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		chunks = append(chunks, models.DocumentChunk{
			Text: text,
			Metadata: models.ChunkMetadata{
				Source:     source,
				Page:       i,
				TotalPages: pages,
			},
		})
	}

	return chunks, nil
}
