package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf-rag-server/internal/app"
	"pdf-rag-server/internal/config"
	"pdf-rag-server/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	application, err := app.NewApp(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal("Failed to initialize application:", err)
	}

	errCh, err := application.Start()
	if err != nil {
		log.Fatal("Failed to start application:", err)
	}

	// Wait for interrupt signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Signal received, shutting down gracefully", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	application.Stop(shutdownCtx)
}
