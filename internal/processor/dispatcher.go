package processor

import (
	"context"
	"fmt"
	"time"

	"ingest-connector/internal/delivery"
	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/metrics"
	"ingest-connector/internal/payload"
	"ingest-connector/internal/util"
)

// Sender delivers one payload. *delivery.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, p *payload.Payload) delivery.ImportResult
}

// staged is a payload waiting in the current batch.
type staged struct {
	row     int
	payload *payload.Payload
}

// DispatcherConfig wires a Dispatcher to its collaborators.
type DispatcherConfig struct {
	Connector string
	BatchSize int
	Sender    Sender
	Audit     etlio.AuditWriter
	Result    *ExecutionResult
	Metrics   *metrics.Recorder
}

// Dispatcher batches payloads and delivers each one sequentially, writing one
// audit row per payload in dispatch order. Delivery failures are recorded and
// never stop the batch.
type Dispatcher struct {
	connector string
	batchSize int
	sender    Sender
	audit     etlio.AuditWriter
	result    *ExecutionResult
	metrics   *metrics.Recorder
	batch     []staged
	flushes   int
}

// NewDispatcher validates cfg and returns a Dispatcher with an empty batch.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("dispatcher requires a sender")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("dispatcher requires an audit writer")
	}
	result := cfg.Result
	if result == nil {
		result = NewExecutionResult()
	}
	return &Dispatcher{
		connector: cfg.Connector,
		batchSize: cfg.BatchSize,
		sender:    cfg.Sender,
		audit:     cfg.Audit,
		result:    result,
		metrics:   cfg.Metrics,
		batch:     make([]staged, 0, cfg.BatchSize),
	}, nil
}

// Add stages p and reports whether the batch has reached the flush threshold.
func (d *Dispatcher) Add(row int, p *payload.Payload) bool {
	d.batch = append(d.batch, staged{row: row, payload: p})
	return len(d.batch) >= d.batchSize
}

// Pending returns the number of staged payloads.
func (d *Dispatcher) Pending() int { return len(d.batch) }

// Flushes returns how many batches have been flushed.
func (d *Dispatcher) Flushes() int { return d.flushes }

// Result returns the accumulator the dispatcher records outcomes into.
func (d *Dispatcher) Result() *ExecutionResult { return d.result }

// Flush sends every staged payload in order and clears the batch.
// Cancellation is checked before each send; remaining payloads are then dropped
// and ErrCancelled is returned. A send interrupted by cancellation is still
// audited as a failure.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if len(d.batch) == 0 {
		return nil
	}
	batch := d.batch
	d.batch = make([]staged, 0, d.batchSize)
	d.flushes++
	d.metrics.BatchFlushed(d.connector)
	logging.Logf(logging.Debug, "%s: flushing batch #%d (%d payloads)", d.connector, d.flushes, len(batch))

	for i, s := range batch {
		if err := ctx.Err(); err != nil {
			logging.Logf(logging.Warning, "%s: cancelled with %d payloads left in batch #%d", d.connector, len(batch)-i, d.flushes)
			return cancelled(err)
		}

		start := time.Now()
		res := d.sender.Send(ctx, s.payload)
		d.metrics.ObserveDelivery(d.connector, time.Since(start))

		status := etlio.StatusFailure
		if res.Success {
			status = etlio.StatusSuccess
			d.result.RecordSuccess()
		} else {
			d.result.RecordFailure()
			logging.Logf(logging.Warning, "%s: delivery failed for row %d (%s): %s", d.connector, s.row, res.HTTPStatus, util.Snippet(res.ResponseText))
		}
		d.metrics.Dispatched(d.connector, status)
		logging.Logf(logging.Info, "Row %d → %s", s.row, res.HTTPStatus)

		row := etlio.AuditRow{
			RowNumber:   s.row,
			UniqueValue: s.payload.FirstUniqueValue(),
			Status:      status,
			HTTPStatus:  res.HTTPStatus,
			Remarks:     res.ResponseText,
		}
		if err := d.audit.WriteRow(row); err != nil {
			logging.Logf(logging.Error, "%s: failed to write audit row for row %d: %v", d.connector, s.row, err)
		}
	}
	return nil
}
