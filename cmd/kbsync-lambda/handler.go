package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/raphaelgruber/kbsync/internal/reconcile"
)

// failureMessage is returned to the caller instead of internal error details.
const failureMessage = "Failed to reconcile knowledge base ingestion jobs"

// Response is the result of one scheduled invocation.
type Response struct {
	Success bool               `json:"success"`
	Summary *reconcile.Summary `json:"summary,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type runner interface {
	RunOnce(ctx context.Context) (reconcile.Summary, error)
}

type handler struct {
	runner runner
	logger *slog.Logger
}

// Handle runs one reconciliation per EventBridge schedule event. Failures are
// reported in the Response so the invocation itself is not retried.
func (h *handler) Handle(ctx context.Context, event events.CloudWatchEvent) (Response, error) {
	h.logger.Info("scheduled invocation",
		"event_id", event.ID,
		"source", event.Source,
		"time", event.Time)

	summary, err := h.runner.RunOnce(ctx)
	if err != nil {
		h.logger.Error("reconciliation failed", "error", err)
		return Response{Success: false, Error: failureMessage}, nil
	}
	return Response{Success: true, Summary: &summary}, nil
}
