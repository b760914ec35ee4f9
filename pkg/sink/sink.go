// Package sink delivers emitted batches to their destinations through the
// execution engine.
package sink

import (
	"context"
	"errors"

	"github.com/ssargent/bulkline/pkg/batch"
	"github.com/ssargent/bulkline/pkg/dispatch"
	"github.com/ssargent/bulkline/pkg/metrics"
	"go.uber.org/zap"
)

// Sink writes batches somewhere. Write may be called from several engine
// workers at once when the sink's lane has more than one worker.
type Sink interface {
	Name() string
	Write(ctx context.Context, b batch.Batch) error
	Close() error
}

// Submitter is the part of the execution engine the subscriber needs
type Submitter interface {
	Submit(lane string, task dispatch.Task) error
}

// Subscriber hands every emitted batch to each sink as an engine task on a
// lane named after the sink.
type Subscriber struct {
	engine  Submitter
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSubscriber creates a subscriber fanning batches out to sinks
func NewSubscriber(engine Submitter, sinks []Sink, logger *zap.Logger, m *metrics.Metrics) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{engine: engine, sinks: sinks, logger: logger, metrics: m}
}

// Update implements batch.Subscriber
func (s *Subscriber) Update(b batch.Batch) {
	for _, sk := range s.sinks {
		sk := sk
		err := s.engine.Submit(sk.Name(), func(ctx context.Context) error {
			err := sk.Write(ctx, b)
			s.metrics.SinkWrite(sk.Name(), err == nil)
			return err
		})
		if err != nil {
			s.metrics.SinkWrite(sk.Name(), false)
			s.logger.Warn("batch_dropped",
				zap.String("sink", sk.Name()),
				zap.String("batch", b.ID.String()),
				zap.Int("records", b.Len()),
				zap.Error(err),
			)
		}
	}
}

// Sinks returns the configured sinks
func (s *Subscriber) Sinks() []Sink {
	return s.sinks
}

// CloseAll closes every sink and joins their errors
func CloseAll(sinks []Sink) error {
	var errs []error
	for _, sk := range sinks {
		if err := sk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
