package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/http/handlers"
	"github.com/phambaophuc/brushset-converter/internal/http/routes"
	"github.com/phambaophuc/brushset-converter/internal/services/converter"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP conversion service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	gateway := verification.New(cfg.Marketplace, logger)
	if !gateway.Enabled() {
		logger.Warn("Order verification is disabled")
	}
	svc := converter.NewServiceFromConfig(cfg, gateway, logger)

	brushsetHandler := handlers.NewBrushsetHandler(svc, gateway, logger, cfg)
	router := routes.NewRouter(brushsetHandler, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler:      router.SetupRoutes(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", server.Addr),
			zap.String("staging_backend", cfg.Staging.Backend),
			zap.String("batch_policy", cfg.Conversion.BatchPolicy),
			zap.Int("workers", cfg.Conversion.Workers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed to start", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
