package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"voice-tutor/handler"
	"voice-tutor/internal/app"
	"voice-tutor/internal/config"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- Pipeline ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	// ---- Handler ----
	h, err := handler.NewHandler(a.Service, a.Store, a.Projector)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
