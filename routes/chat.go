package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdf-rag-server/internal/config"
	"pdf-rag-server/internal/logger"
	"pdf-rag-server/models"
	"pdf-rag-server/utils"
)

// Retriever finds the k chunks most similar to a query. Satisfied by
// vectorstore.Store.
type Retriever interface {
	SearchSimilar(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
}

// Generator produces a grounded answer from a query and retrieved context.
// Satisfied by ai.ResponseGenerator.
type Generator interface {
	Generate(ctx context.Context, query string, contextChunks []models.ScoredChunk) (string, error)
}

// SetupChatRoutes wires the retrieval + generation endpoint.
func SetupChatRoutes(router *gin.Engine, cfg *config.Config, retriever Retriever, generator Generator) {
	router.GET("/chat", HandleChatQuery(cfg, retriever, generator))
}

// HandleChatQuery retrieves the top-k similar chunks for the message and asks
// the chat model for an answer grounded in them. Failures in either step
// yield a generic 500 with no partial results.
func HandleChatQuery(cfg *config.Config, retriever Retriever, generator Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userQuery := c.Query("message")
		if userQuery == "" {
			utils.RespondWithBadRequest(c, "missing_message", "Message parameter is required")
			return
		}

		logger.Info("Chat query received", "query", userQuery)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		docs, err := retriever.SearchSimilar(ctx, userQuery, cfg.RetrievalTopK)
		if err != nil {
			logger.Error("Vector search failed", "query", userQuery, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to process chat query")
			return
		}

		answer, err := generator.Generate(ctx, userQuery, docs)
		if err != nil {
			logger.Error("Answer generation failed", "query", userQuery, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to process chat query")
			return
		}

		logger.Info("Chat response generated",
			"query", userQuery,
			"docs_found", len(docs))

		c.JSON(http.StatusOK, gin.H{
			"message": answer,
			"docs":    docs,
		})
	}
}
