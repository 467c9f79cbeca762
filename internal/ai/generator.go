package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"pdf-rag-server/models"
)

const systemPromptTemplate = `You are a helpful AI assistant who answers the user query based on the available context from PDF File.
Context:
%s`

// ResponseGenerator wraps the chat model: given a user query and retrieved
// context chunks it produces a single grounded textual answer. Calls are rate
// limited and guarded by a circuit breaker; transient failures are retried a
// bounded number of times.
type ResponseGenerator struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	maxRetries  int
}

func NewResponseGenerator(ctx context.Context, apiKey, model string) (*ResponseGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ChatModel",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// Modest request rate; the hosted model enforces the hard limits
	rateLimiter := rate.NewLimiter(rate.Limit(0.15), 2)

	return &ResponseGenerator{
		client:      client,
		model:       model,
		breaker:     breaker,
		rateLimiter: rateLimiter,
		maxRetries:  2,
	}, nil
}

// Generate sends the grounding instruction plus the user query to the chat
// model and returns its textual reply verbatim.
func (g *ResponseGenerator) Generate(ctx context.Context, query string, contextChunks []models.ScoredChunk) (string, error) {
	tracer := otel.Tracer("response-generator")
	ctx, span := tracer.Start(ctx, "chat.generate")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chat.context_chunks", len(contextChunks)),
		attribute.String("chat.model", g.model),
	)

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("chat.rate_limited", true))
		return "", err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.GenerativeModel(g.model)
		model.SetTemperature(0)
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(BuildSystemPrompt(contextChunks))},
		}

		var resp *genai.GenerateContentResponse
		callErr := retryTransient(ctx, g.maxRetries, 500*time.Millisecond, func() error {
			var err error
			resp, err = model.GenerateContent(ctx, genai.Text(query))
			return err
		})
		if callErr != nil {
			return nil, callErr
		}
		return resp, nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("chat.error", true))
		return "", err
	}

	answer := extractText(result.(*genai.GenerateContentResponse))
	if answer == "" {
		span.SetAttributes(attribute.Bool("chat.empty_response", true))
		return "", fmt.Errorf("chat model returned no text candidates")
	}

	span.SetAttributes(attribute.Bool("chat.success", true))
	return answer, nil
}

// Close releases the underlying API client.
func (g *ResponseGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// BuildSystemPrompt embeds the serialized retrieval results into the grounding
// instruction sent as the system message.
func BuildSystemPrompt(contextChunks []models.ScoredChunk) string {
	serialized, err := json.Marshal(contextChunks)
	if err != nil {
		serialized = []byte("[]")
	}
	return fmt.Sprintf(systemPromptTemplate, serialized)
}

// retryTransient runs fn up to maxRetries+1 times with a growing backoff
// between attempts. It stops early when ctx is done and never sleeps after
// the final attempt.
func retryTransient(ctx context.Context, maxRetries int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == maxRetries {
			break
		}
		time.Sleep(time.Duration(attempt+1) * backoff)
	}
	return lastErr
}

func extractText(resp *genai.GenerateContentResponse) string {
	var out string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out += string(text)
			}
		}
	}
	return out
}
