// Package main provides the AWS Lambda entry point, invoked by an EventBridge
// schedule.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/raphaelgruber/kbsync/internal/app"
	"github.com/raphaelgruber/kbsync/internal/config"
)

func main() {
	cfg, err := config.Load()
	logger := config.SetupLambdaLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Built once per execution environment and reused across warm invocations
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	h := &handler{runner: a, logger: logger}
	lambda.Start(h.Handle)
}
