// Package main is the entry point for the RecheckWorker Lambda function.
//
// EventBridge invokes it on a schedule. Each invocation lists the Pro profiles
// whose next billing date is near or past and re-resolves them, so canceled
// and past-due subscriptions expire without the user returning.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"invoicely/internal/app"
	"invoicely/internal/config"
	"invoicely/internal/entitlement"
)

// runner is the slice of entitlement.Rechecker the handler needs.
type runner interface {
	Run(ctx context.Context) (*entitlement.RecheckReport, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("RecheckWorker Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	deps, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		logger.Error("failed to assemble dependencies", "error", err)
		os.Exit(1)
	}

	logger.Info("RecheckWorker Lambda initialized",
		"window", cfg.Entitlement.RecheckWindow,
		"concurrency", cfg.Entitlement.RecheckConcurrency,
		"batch_limit", cfg.Entitlement.RecheckBatchLimit,
	)

	lambda.Start(newHandler(deps.Rechecker(), logger))
}

// newHandler wraps Rechecker.Run for the scheduled event. Only a failure to
// list due profiles fails the invocation; per-user failures are reported.
func newHandler(r runner, logger *slog.Logger) func(ctx context.Context, ev events.CloudWatchEvent) (*entitlement.RecheckReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev events.CloudWatchEvent) (*entitlement.RecheckReport, error) {
		logger.InfoContext(ctx, "RecheckWorker invoked",
			"event_id", ev.ID,
			"scheduled_at", ev.Time,
		)

		report, err := r.Run(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "recheck failed", "error", err)
			return nil, fmt.Errorf("recheck failed: %w", err)
		}

		logger.InfoContext(ctx, "recheck complete",
			"due", report.Due,
			"resolved", report.Resolved,
			"failed", report.Failed,
		)
		return report, nil
	}
}
