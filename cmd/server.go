package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/behzadon/rulebook/internal/api"
	"github.com/behzadon/rulebook/internal/auth"
	"github.com/behzadon/rulebook/internal/logging"
	"github.com/behzadon/rulebook/internal/tracing"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the rulebook HTTP server",
	Long:  `Start the HTTP API that records polls and applies their outcome to the rulebook.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg := GetConfig()

		zapLogger, err := newZapLogger(cfg)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer syncLogger(zapLogger)

		logger := logging.NewLogger(zapLogger)

		shutdownTracing, err := tracing.Setup(cfg.Tracing, cfg.Server.Env, os.Stdout, zapLogger)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to flush traces", err)
			}
		}()

		a, err := buildApp(ctx, cfg, zapLogger)
		if err != nil {
			return err
		}
		defer a.Close()

		jwtManager, err := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.TokenDuration)
		if err != nil {
			return fmt.Errorf("create jwt manager: %w", err)
		}

		var limiterClient api.RedisClient
		if a.redis != nil {
			limiterClient = a.redis
		} else {
			logger.Warn("Redis is disabled, apply requests are not rate limited")
		}
		rateLimiter := api.NewRateLimiter(limiterClient, api.DefaultApplyLimit, api.DefaultApplyWindow, zapLogger)
		handler := api.NewHandler(a.service, rateLimiter, zapLogger)

		if cfg.Server.Env != "development" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.Use(logger.GinLogger())
		handler.RegisterRoutes(engine, jwtManager, cfg.Metrics.Enabled)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("Starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("storage", cfg.Storage.Driver),
				zap.String("events", cfg.Events.Driver),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("Failed to start server", err)
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", err)
			return fmt.Errorf("server shutdown: %w", err)
		}

		logger.Info("Server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
