package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyeh/medicare-lookup/internal/calc"
	"github.com/gyeh/medicare-lookup/internal/cloud"
	"github.com/gyeh/medicare-lookup/internal/config"
	"github.com/gyeh/medicare-lookup/internal/report"
	"github.com/gyeh/medicare-lookup/internal/server"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(rf *rootFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the physician lookup HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rf.load(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := buildServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return runServer(ctx, e, ":"+cfg.Port, logger)
		},
	}

	cmd.Flags().StringVar(&port, "port", "8000", "Listen port (overrides PORT)")

	return cmd
}

func buildServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*echo.Echo, error) {
	smtp := cfg.SMTP()
	if !smtp.Configured() {
		logger.Warn().Msg("SMTP not configured, report delivery will fail")
	}

	var archive report.Archiver
	if cfg.ReportBucket != "" {
		s3Client, err := cloud.NewS3Client(ctx, cfg.ReportBucket, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("creating report archive: %w", err)
		}
		archive = s3Client
		logger.Info().Str("bucket", cfg.ReportBucket).Msg("archiving reports to S3")
	}

	return server.New(server.Options{
		Resolver:    newResolver(cfg, logger),
		Store:       calc.NewMemoryStore(),
		Reports:     report.NewService(report.NewSMTPSender(smtp), archive, logger),
		Logger:      logger,
		BulkWorkers: cfg.BulkWorkers,
		CORSOrigins: cfg.CORSOrigins,
	}), nil
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, e *echo.Echo, addr string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
