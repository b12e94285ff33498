package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// MaxBatchSize is the largest number of datums sent to a sink in one call.
const MaxBatchSize = 20

// Sink receives batches of metric data.
type Sink interface {
	Send(ctx context.Context, datums []Datum) error
}

// Publisher turns run reports into datums and hands them to a sink.
// Sink failures are logged and never returned.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher. A nil sink disables publishing.
func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Publish sends the report's datums in batches of at most MaxBatchSize.
func (p *Publisher) Publish(ctx context.Context, report RunReport) {
	if p == nil || p.sink == nil {
		return
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = p.now().UTC()
	}

	datums := report.Datums()
	var sent int
	for _, batch := range Batch(datums, MaxBatchSize) {
		if err := p.sink.Send(ctx, batch); err != nil {
			p.logger.Error("failed to publish metrics", "count", len(batch), "error", err)
			continue
		}
		sent += len(batch)
	}

	p.logger.Debug("published run metrics", "datums", sent, "success_rate", report.SuccessRate())
}

// PublishFailure emits a single MonitoringErrors datum for an aborted run.
func (p *Publisher) PublishFailure(ctx context.Context, cause error) {
	if p == nil || p.sink == nil {
		return
	}

	datum := Datum{
		Name:      MetricMonitoringErrors,
		Value:     1,
		Unit:      UnitCount,
		Timestamp: p.now().UTC(),
	}
	if err := p.sink.Send(ctx, []Datum{datum}); err != nil {
		p.logger.Error("failed to publish monitoring error metric", "cause", cause, "error", err)
	}
}

// Batch splits datums into consecutive slices of at most size elements.
func Batch(datums []Datum, size int) [][]Datum {
	if size <= 0 || len(datums) == 0 {
		return nil
	}
	batches := make([][]Datum, 0, (len(datums)+size-1)/size)
	for start := 0; start < len(datums); start += size {
		end := min(start+size, len(datums))
		batches = append(batches, datums[start:end])
	}
	return batches
}

// MultiSink sends every batch to all of its sinks.
type MultiSink []Sink

// Send forwards the batch to each sink and joins their errors.
func (m MultiSink) Send(ctx context.Context, datums []Datum) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, datums); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
