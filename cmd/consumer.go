package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/behzadon/rulebook/internal/events"
	"github.com/behzadon/rulebook/internal/logging"
	"github.com/behzadon/rulebook/internal/service"
	"github.com/behzadon/rulebook/internal/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Consume poll events from RabbitMQ",
	Long: `Start the consumer that reads poll.seen, poll.tally and
poll.apply_requested events published by the chat transport. Outcomes of
apply requests are published back as rulebook.outcome events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
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

		consumer, err := events.NewRabbitMQConsumer(cfg.RabbitMQ, service.NewEventHandler(a.service), zapLogger)
		if err != nil {
			return fmt.Errorf("create RabbitMQ consumer: %w", err)
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error("Failed to close RabbitMQ consumer", err)
			}
		}()

		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}

		logger.Info("Poll event consumer started", zap.String("queue", cfg.RabbitMQ.Queue))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down poll event consumer...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(consumerCmd)
}
