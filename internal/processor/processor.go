package processor

import (
	"context"
	"errors"
	"fmt"
	stdio "io"

	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/logging"
	"ingest-connector/internal/metrics"
	"ingest-connector/internal/payload"
)

// State is a phase of a connector run.
type State int

const (
	StateInit State = iota
	StateReading
	StateAggregating
	StateBuilding
	StateDispatching
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReading:
		return "Reading"
	case StateAggregating:
		return "Aggregating"
	case StateBuilding:
		return "Building"
	case StateDispatching:
		return "Dispatching"
	case StateCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunConfig describes one connector run.
type RunConfig struct {
	Connector string
	ID        string
	// Errors receives build-time diagnostics. Defaults to the process logger.
	Errors  logging.Sink
	Metrics *metrics.Recorder
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Run owns the ExecutionResult and state of one connector invocation. A run may
// process several sources (files, sheets) before it is completed.
type Run struct {
	connector    string
	id           string
	errors       logging.Sink
	metrics      *metrics.Recorder
	onTransition func(from, to State)
	result       *ExecutionResult
	state        State
}

// NewRun starts a run in the Init state.
func NewRun(cfg RunConfig) *Run {
	sink := cfg.Errors
	if sink == nil {
		sink = logging.Default()
	}
	return &Run{
		connector:    cfg.Connector,
		id:           cfg.ID,
		errors:       sink,
		metrics:      cfg.Metrics,
		onTransition: cfg.OnTransition,
		result:       NewExecutionResult(),
		state:        StateInit,
	}
}

// State returns the current phase.
func (r *Run) State() State { return r.state }

// Result returns the run's accumulator.
func (r *Run) Result() *ExecutionResult { return r.result }

func (r *Run) enter(s State) {
	if r.state == s || r.state == StateCompleted {
		return
	}
	from := r.state
	r.state = s
	logging.Logf(logging.Debug, "%s [%s]: %s -> %s", r.connector, r.id, from, s)
	if r.onTransition != nil {
		r.onTransition(from, s)
	}
}

// Complete moves the run to its terminal state exactly once and returns the result.
// ctxErr marks the result as cancelled when it is a context error.
func (r *Run) Complete(ctxErr error) *ExecutionResult {
	if r.state != StateCompleted {
		r.enter(StateCompleted)
		r.result.Complete(ctxErr)
		logging.Logf(logging.Info, "%s [%s] completed: %s in %s", r.connector, r.id, r.result, r.result.Duration())
	}
	return r.result
}

// Source is one record stream and the components that turn it into deliveries.
type Source struct {
	Name      string
	Reader    etlio.RecordReader
	Builder   *payload.Builder
	Filter    *RecordFilter
	Sender    Sender
	Audit     etlio.AuditWriter
	BatchSize int
}

func (r *Run) newDispatcher(src Source) (*Dispatcher, error) {
	return NewDispatcher(DispatcherConfig{
		Connector: r.connector,
		BatchSize: src.BatchSize,
		Sender:    src.Sender,
		Audit:     src.Audit,
		Result:    r.result,
		Metrics:   r.metrics,
	})
}

// reject records a build-time failure on the error channel. It never aborts the run.
func (r *Run) reject(row int, err error, reason string) {
	var be *payload.BuildError
	msg := fmt.Sprintf("Row %d: %v", row, err)
	if errors.As(err, &be) {
		msg = be.Error()
	}
	r.errors.Log(logging.Error, msg)
	r.result.RecordRejected()
	r.metrics.Rejected(r.connector, reason)
}

// readRecord fetches the next record, translating reader errors.
func (r *Run) readRecord(ctx context.Context, src Source) (etlio.Record, error) {
	r.enter(StateReading)
	rec, err := src.Reader.Next(ctx)
	if err == nil || errors.Is(err, stdio.EOF) {
		return rec, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, cancelled(ctxErr)
	}
	return nil, fmt.Errorf("failed to read source '%s': %w", src.Name, err)
}

// rowNumber prefers the reader's physical row and falls back to the 1-based ordinal.
func rowNumber(rec etlio.Record, ordinal int) int {
	if rn, ok := rec.(etlio.RowNumbered); ok && rn.RowNumber() > 0 {
		return rn.RowNumber()
	}
	return ordinal
}

// admit applies the source filter to rec. Records the filter cannot evaluate are
// rejected; records it excludes are counted as filtered.
func (r *Run) admit(src Source, rec etlio.Record, row int) bool {
	if src.Filter == nil {
		return true
	}
	keep, err := src.Filter.Match(rec)
	if err != nil {
		r.reject(row, err, "filter")
		return false
	}
	if !keep {
		r.result.RecordFiltered()
		logging.Logf(logging.Debug, "Row %d skipped by filter.", row)
	}
	return keep
}

// abortSource handles a read failure: payloads already staged are still
// delivered and audited before readErr is returned. Cancellation is passed through.
func (r *Run) abortSource(ctx context.Context, d *Dispatcher, name string, count int, readErr error) error {
	if errors.Is(readErr, ErrCancelled) {
		return readErr
	}
	logging.Logf(logging.Warning, "%s: source '%s' failed after %d records, flushing %d staged payloads", r.connector, name, count, d.Pending())
	if err := r.flushRemaining(ctx, d, name, count); err != nil {
		return errors.Join(readErr, err)
	}
	return readErr
}

// Process streams src record by record: filter, build, batch and dispatch.
// Build failures are isolated per record. A read failure flushes the staged
// batch before returning. On cancellation it returns ErrCancelled without
// flushing the partial batch.
func (r *Run) Process(ctx context.Context, src Source) error {
	d, err := r.newDispatcher(src)
	if err != nil {
		return err
	}
	logging.Logf(logging.Info, "%s: processing source '%s'", r.connector, src.Name)

	ordinal := 0
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		rec, err := r.readRecord(ctx, src)
		if errors.Is(err, stdio.EOF) {
			break
		}
		if err != nil {
			return r.abortSource(ctx, d, src.Name, ordinal, err)
		}
		ordinal++
		row := rowNumber(rec, ordinal)
		if !r.admit(src, rec, row) {
			continue
		}

		r.enter(StateBuilding)
		p, berr := src.Builder.Build(rec, row)
		if berr != nil {
			r.reject(row, berr, payload.Reason(berr))
			continue
		}
		if d.Add(row, p) {
			r.enter(StateDispatching)
			if err := d.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return r.flushRemaining(ctx, d, src.Name, ordinal)
}

// ProcessAggregated reads all of src, groups rows with agg and dispatches one
// payload per group. Audit rows use the group ordinal as their row number.
func (r *Run) ProcessAggregated(ctx context.Context, src Source, agg *payload.Aggregator) error {
	d, err := r.newDispatcher(src)
	if err != nil {
		return err
	}
	logging.Logf(logging.Info, "%s: aggregating source '%s'", r.connector, src.Name)

	ordinal := 0
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		rec, err := r.readRecord(ctx, src)
		if errors.Is(err, stdio.EOF) {
			break
		}
		if err != nil {
			// Groups are incomplete until the source is exhausted, so none are sent.
			if !errors.Is(err, ErrCancelled) {
				r.errors.Log(logging.Error, fmt.Sprintf("Source '%s' failed after %d rows; %d groups were not sent: %v", src.Name, ordinal, agg.Groups(), err))
			}
			return err
		}
		ordinal++
		if !r.admit(src, rec, rowNumber(rec, ordinal)) {
			continue
		}
		r.enter(StateAggregating)
		agg.Add(rec)
	}
	logging.Logf(logging.Info, "%s: source '%s' grouped %d rows into %d payloads", r.connector, src.Name, agg.Rows(), agg.Groups())

	r.enter(StateBuilding)
	outcomes := agg.Build()
	for _, o := range outcomes {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		if o.Err != nil {
			r.reject(o.Ordinal, o.Err, payload.Reason(o.Err))
			continue
		}
		if d.Add(o.Ordinal, o.Payload) {
			r.enter(StateDispatching)
			if err := d.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return r.flushRemaining(ctx, d, src.Name, len(outcomes))
}

func (r *Run) flushRemaining(ctx context.Context, d *Dispatcher, name string, count int) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	if d.Pending() > 0 {
		r.enter(StateDispatching)
		if err := d.Flush(ctx); err != nil {
			return err
		}
	}
	logging.Logf(logging.Info, "%s: source '%s' finished (%d records, %d batches)", r.connector, name, count, d.Flushes())
	return nil
}
