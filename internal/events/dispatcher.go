package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cca-admission-api/pkg/jobs"
)

// Dispatcher decouples event emission from request handling: services hand
// events over after their transaction commits and a worker queue delivers
// them, so a slow broker never blocks an admission request.
type Dispatcher struct {
	queue  *jobs.Queue
	sink   Publisher
	logger *zap.Logger
}

// DispatcherConfig tunes the underlying worker queue.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// NewDispatcher wires a worker queue in front of the given sink.
func NewDispatcher(sink Publisher, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{sink: sink, logger: logger}
	d.queue = jobs.NewQueue("domain-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return d
}

// Start launches delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains workers and closes the sink.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
	if err := d.sink.Close(); err != nil {
		d.logger.Warn("failed to close event sink", zap.Error(err))
	}
}

// Publish enqueues an event for asynchronous delivery. Delivery failures are
// retried by the queue and finally logged; they are never surfaced to the
// caller, whose transaction has already committed.
func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := d.queue.Enqueue(jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}); err != nil {
		d.logger.Warn("failed to enqueue domain event", zap.String("type", string(event.Type)), zap.Error(err))
		return err
	}
	return nil
}

// Close implements Publisher.
func (d *Dispatcher) Close() error {
	d.Stop()
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload type for job %s", job.ID)
	}
	return d.sink.Publish(ctx, event)
}
