package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pdf-rag-server/models"
)

// Embedder turns text into a vector. Satisfied by ai.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is a minimal REST client to Qdrant. It assumes cosine distance and
// creates the collection if missing. Adds are not idempotent: re-adding the
// same file produces duplicate chunks unless the caller deletes by source
// first.
type Store struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	embedder   Embedder
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewStore(cfg Config, embedder Embedder) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection if it does not exist. An existing
// collection is left untouched, so the call is safe on every restart.
func (s *Store) EnsureCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", s.url, s.collection)

	resp, err := s.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant GET %s failed: %s", url, resp.Status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	resp, err = s.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	// A concurrent creator can win the race; Qdrant answers 409 and the
	// collection exists either way.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

// AddDocuments embeds every chunk and upserts {vector, text, metadata} points.
func (s *Store) AddDocuments(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("embed chunk (source=%s page=%d): %w", chunk.Metadata.Source, chunk.Metadata.Page, err)
		}
		points = append(points, map[string]any{
			"id":     uuid.NewString(),
			"vector": vec,
			"payload": map[string]any{
				"text":        chunk.Text,
				"source":      chunk.Metadata.Source,
				"page":        chunk.Metadata.Page,
				"total_pages": chunk.Metadata.TotalPages,
			},
		})
	}
	body := map[string]any{"points": points}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body)
}

// SearchSimilar embeds the query and returns the k nearest chunks,
// nearest-first. Returns fewer than k if the store holds fewer matches.
func (s *Store) SearchSimilar(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 2
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	req := map[string]any{
		"vector":       vec,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}

	results := make([]models.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := models.ScoredChunk{Score: r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			chunk.Text = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			chunk.Metadata.Source = v
		}
		if v, ok := r.Payload["page"].(float64); ok {
			chunk.Metadata.Page = int(v)
		}
		if v, ok := r.Payload["total_pages"].(float64); ok {
			chunk.Metadata.TotalPages = int(v)
		}
		results = append(results, chunk)
	}
	return results, nil
}

// DeleteBySource removes every point whose source payload exactly equals the
// given value. Matching zero points is not an error.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "source",
					"match": map[string]any{"value": source},
				},
			},
		},
	}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

func (s *Store) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	return s.client.Do(req)
}

func (s *Store) putJSON(ctx context.Context, url string, body any) error {
	resp, err := s.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *Store) postJSON(ctx context.Context, url string, body any, out any) error {
	resp, err := s.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
