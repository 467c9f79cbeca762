package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"pdf-rag-server/internal/config"
	"pdf-rag-server/internal/logger"
	"pdf-rag-server/utils"
)

// Enqueuer submits ingestion jobs to the broker. Satisfied by queue.Client.
type Enqueuer interface {
	EnqueueIngest(filePath, fileName string) (*asynq.TaskInfo, error)
}

// SourceDeleter removes stored chunks by their source metadata. Satisfied by
// vectorstore.Store.
type SourceDeleter interface {
	DeleteBySource(ctx context.Context, source string) error
}

// SetupUploadRoutes wires the PDF upload and delete-by-source endpoints.
// The bare delete path answers 400 itself; the router would otherwise 404 it
// since :source never matches an empty segment.
func SetupUploadRoutes(router *gin.Engine, cfg *config.Config, enqueuer Enqueuer, deleter SourceDeleter) {
	router.POST("/upload/pdf", HandlePDFUpload(cfg, enqueuer))
	router.DELETE("/upload/pdf", func(c *gin.Context) {
		utils.RespondWithBadRequest(c, "missing_source", "Source identifier is required")
	})
	router.DELETE("/upload/pdf/:source", HandlePDFDelete(deleter))
}

// HandlePDFUpload accepts a multipart PDF, persists it under a
// collision-resistant generated name, and enqueues an ingestion job.
func HandlePDFUpload(cfg *config.Config, enqueuer Enqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("pdf")
		if err != nil {
			utils.RespondWithBadRequest(c, "no_file", "No PDF file provided")
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "file_too_large", "File size exceeds maximum limit")
			return
		}

		ct := header.Header.Get("Content-Type")
		if !strings.Contains(ct, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			utils.RespondWithBadRequest(c, "invalid_file_type", "Only PDF files are allowed")
			return
		}

		// Basic PDF header validation without loading the whole file
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil {
			utils.RespondWithBadRequest(c, "invalid_file", "Cannot read file header")
			return
		}
		if string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithBadRequest(c, "invalid_pdf", "File does not appear to be a valid PDF")
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving")
			return
		}

		if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
			logger.Error("Failed to create upload directory", "dir", cfg.UploadDir, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to create upload directory")
			return
		}

		// Timestamp plus random suffix plus original name: practically unique
		// without any coordination step, and traceable back to the upload.
		generatedName := fmt.Sprintf("%d-%s-%s",
			time.Now().UnixMilli(),
			uuid.NewString(),
			filepath.Base(header.Filename))
		filePath := filepath.Join(cfg.UploadDir, generatedName)

		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			logger.Error("Failed to open destination file", "path", filePath, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to save file")
			return
		}
		defer dst.Close()
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize)); err != nil {
			logger.Error("Failed to write uploaded file", "path", filePath, "error", err.Error())
			utils.RespondWithInternalError(c, "Failed to save file")
			return
		}

		info, err := enqueuer.EnqueueIngest(filePath, generatedName)
		if err != nil {
			// The saved file is intentionally left behind; the janitor
			// sweeps orphans later.
			logger.Error("Failed to enqueue ingestion job",
				"filename", generatedName,
				"path", filePath,
				"error", err.Error())
			utils.RespondWithInternalError(c, "Failed to queue file for processing")
			return
		}

		logger.Info("PDF upload accepted",
			"filename", generatedName,
			"original_name", header.Filename,
			"task_id", info.ID)

		c.JSON(http.StatusOK, gin.H{
			"message":  "File uploaded successfully",
			"filename": generatedName,
		})
	}
}

// HandlePDFDelete removes every stored chunk whose source matches the path
// parameter. Deleting nothing is not an error.
func HandlePDFDelete(deleter SourceDeleter) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.Param("source")

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		if err := deleter.DeleteBySource(ctx, source); err != nil {
			logger.Error("Failed to delete documents by source",
				"source", source,
				"error", err.Error())
			utils.RespondWithInternalError(c, "Failed to delete documents")
			return
		}

		logger.Info("Documents deleted by source", "source", source)

		c.JSON(http.StatusOK, gin.H{
			"message": "Documents deleted",
			"source":  source,
		})
	}
}
