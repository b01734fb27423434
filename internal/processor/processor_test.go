package processor

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"sync"
	"testing"

	"ingest-connector/internal/delivery"
	etlio "ingest-connector/internal/io"
	"ingest-connector/internal/mapping"
	"ingest-connector/internal/metrics"
	"ingest-connector/internal/payload"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type sliceReader struct {
	records []etlio.Record
	pos     int
	err     error // returned once records are exhausted, instead of EOF
	closed  bool
}

func newSliceReader(rows ...etlio.MapRecord) *sliceReader {
	r := &sliceReader{}
	for _, row := range rows {
		r.records = append(r.records, row)
	}
	return r
}

func (r *sliceReader) Next(ctx context.Context) (etlio.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pos >= len(r.records) {
		if r.err != nil {
			return nil, r.err
		}
		return nil, stdio.EOF
	}
	r.pos++
	return r.records[r.pos-1], nil
}

func (r *sliceReader) Close() error { r.closed = true; return nil }

type numberedRecord struct {
	etlio.MapRecord
	row int
}

func (n numberedRecord) RowNumber() int { return n.row }

type fakeSender struct {
	mu      sync.Mutex
	sent    []*payload.Payload
	respond func(n int, p *payload.Payload) delivery.ImportResult
	onSend  func(n int)
}

func (s *fakeSender) Send(ctx context.Context, p *payload.Payload) delivery.ImportResult {
	s.mu.Lock()
	s.sent = append(s.sent, p)
	n := len(s.sent)
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend(n)
	}
	if s.respond != nil {
		return s.respond(n, p)
	}
	return delivery.ImportResult{Success: true, HTTPStatus: "200", ResponseText: "ok"}
}

type memoryAudit struct {
	rows   []etlio.AuditRow
	closed bool
	err    error
}

func (a *memoryAudit) WriteRow(row etlio.AuditRow) error {
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, row)
	return nil
}

func (a *memoryAudit) Close() error { a.closed = true; return nil }

type memorySink struct{ lines []string }

func (s *memorySink) Log(level int, msg string) { s.lines = append(s.lines, msg) }
func (s *memorySink) Close() error              { return nil }

// --- Helpers ---

func goldenBuilder(t *testing.T) *payload.Builder {
	t.Helper()
	set, err := mapping.New(mapping.Golden, []mapping.FieldMapping{
		{Selector: "id", Key: "customer_id", IsUnique: true},
		{Selector: "name", Key: "name", DataType: mapping.TypeString},
		{Selector: "amount", Key: "amount", DataType: mapping.TypeNumber},
	})
	require.NoError(t, err)
	return payload.NewBuilder(set, payload.Options{})
}

func newTestRun(sink *memorySink, states *[]State) *Run {
	return NewRun(RunConfig{
		Connector: "CSV_GOLDEN_RECORD",
		ID:        "test",
		Errors:    sink,
		OnTransition: func(from, to State) {
			if states != nil {
				*states = append(*states, to)
			}
		},
	})
}

func rowsOf(n int) []etlio.MapRecord {
	out := make([]etlio.MapRecord, n)
	for i := range out {
		out[i] = etlio.MapRecord{"id": fmt.Sprintf("%d", i+1), "name": fmt.Sprintf("n%d", i+1)}
	}
	return out
}

// --- Tests ---

func TestProcessTwoRowsBatchOne(t *testing.T) {
	sender := &fakeSender{}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, nil)

	err := run.Process(context.Background(), Source{
		Name:      "customers.csv",
		Reader:    newSliceReader(etlio.MapRecord{"id": "1", "name": "Alice"}, etlio.MapRecord{"id": "2", "name": "Bob"}),
		Builder:   goldenBuilder(t),
		Sender:    sender,
		Audit:     audit,
		BatchSize: 1,
	})
	require.NoError(t, err)
	res := run.Complete(nil).Snapshot()

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, sender.sent, 2)
	require.Len(t, audit.rows, 2)
	assert.Equal(t, 1, audit.rows[0].RowNumber)
	assert.Equal(t, "1", audit.rows[0].UniqueValue)
	assert.Equal(t, etlio.StatusSuccess, audit.rows[0].Status)
	assert.Equal(t, "200", audit.rows[0].HTTPStatus)
	assert.Equal(t, "2", audit.rows[1].UniqueValue)
}

func TestProcessBlankFieldIsOmitted(t *testing.T) {
	sender := &fakeSender{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(context.Background(), Source{
		Reader:    newSliceReader(etlio.MapRecord{"id": "1", "name": "Alice"}, etlio.MapRecord{"id": "2", "name": ""}),
		Builder:   goldenBuilder(t),
		Sender:    sender,
		Audit:     &memoryAudit{},
		BatchSize: 1,
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Len(t, sender.sent[0].Fields, 1)
	assert.Empty(t, sender.sent[1].Fields)
	assert.Equal(t, 2, run.Result().Succeeded())
}

func TestProcessBatchThreshold(t *testing.T) {
	testCases := []struct {
		batchSize   int
		records     int
		wantFlushes int
	}{
		{batchSize: 3, records: 7, wantFlushes: 3},
		{batchSize: 3, records: 6, wantFlushes: 2},
		{batchSize: 10, records: 4, wantFlushes: 1},
		{batchSize: 1, records: 5, wantFlushes: 5},
		{batchSize: 5, records: 0, wantFlushes: 0},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("N=%d M=%d", tc.batchSize, tc.records), func(t *testing.T) {
			var batchSizes []int
			sender := &fakeSender{}
			audit := &memoryAudit{}
			d, err := NewDispatcher(DispatcherConfig{Connector: "x", BatchSize: tc.batchSize, Sender: sender, Audit: audit})
			require.NoError(t, err)

			b := goldenBuilder(t)
			ctx := context.Background()
			for i, rec := range rowsOf(tc.records) {
				p, err := b.Build(rec, i+1)
				require.NoError(t, err)
				if d.Add(i+1, p) {
					batchSizes = append(batchSizes, d.Pending())
					require.NoError(t, d.Flush(ctx))
				}
			}
			if d.Pending() > 0 {
				batchSizes = append(batchSizes, d.Pending())
				require.NoError(t, d.Flush(ctx))
			}

			assert.Equal(t, tc.wantFlushes, d.Flushes())
			assert.Len(t, batchSizes, tc.wantFlushes)
			for _, n := range batchSizes {
				assert.LessOrEqual(t, n, tc.batchSize)
			}
			if tc.records > 0 {
				last := tc.records % tc.batchSize
				if last == 0 {
					last = tc.batchSize
				}
				assert.Equal(t, last, batchSizes[len(batchSizes)-1])
			}
			assert.Len(t, sender.sent, tc.records)
			assert.Len(t, audit.rows, tc.records, "audit rows equal dispatched payloads")
		})
	}
}

func TestProcessIsolatesBuildFailures(t *testing.T) {
	sink := &memorySink{}
	audit := &memoryAudit{}
	rec := metrics.NewRecorder()
	run := NewRun(RunConfig{Connector: "CSV_GOLDEN_RECORD", Errors: sink, Metrics: rec})

	reader := &sliceReader{records: []etlio.Record{
		numberedRecord{etlio.MapRecord{"id": "1", "amount": "10"}, 2},
		numberedRecord{etlio.MapRecord{"id": "2", "amount": "abc"}, 3},
		numberedRecord{etlio.MapRecord{"name": "no id"}, 4},
		numberedRecord{etlio.MapRecord{"id": "4", "amount": "1,250.75"}, 5},
	}}
	err := run.Process(context.Background(), Source{
		Reader: reader, Builder: goldenBuilder(t), Sender: &fakeSender{}, Audit: audit, BatchSize: 2,
	})
	require.NoError(t, err)

	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Rejected)
	require.Len(t, audit.rows, 2)
	assert.Equal(t, 2, audit.rows[0].RowNumber, "physical row numbers are used")
	assert.Equal(t, 5, audit.rows[1].RowNumber)

	require.Len(t, sink.lines, 2)
	assert.Contains(t, sink.lines[0], "Row 3, Column 'amount', Value 'abc' invalid")
	assert.Contains(t, sink.lines[1], "Row 4 missing unique identifiers")
	series, err := testutil.GatherAndCount(rec.Registry(), "ingest_records_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series, "one series per rejection reason")
}

func TestProcessDeliveryFailuresDoNotStopTheRun(t *testing.T) {
	sender := &fakeSender{respond: func(n int, p *payload.Payload) delivery.ImportResult {
		switch n {
		case 2:
			return delivery.ImportResult{Success: false, HTTPStatus: "500", ResponseText: `{"error":"boom"}`}
		case 3:
			return delivery.ImportResult{Success: false, HTTPStatus: delivery.HTTPStatusException, ResponseText: "connection refused"}
		}
		return delivery.ImportResult{Success: true, HTTPStatus: "201"}
	}}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(context.Background(), Source{
		Reader: newSliceReader(rowsOf(5)...), Builder: goldenBuilder(t), Sender: sender, Audit: audit, BatchSize: 2,
	})
	require.NoError(t, err)

	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 2, res.Failed)

	require.Len(t, audit.rows, 5)
	for i, row := range audit.rows {
		assert.Equal(t, i+1, row.RowNumber, "audit order matches dispatch order")
	}
	assert.Equal(t, etlio.StatusFailure, audit.rows[1].Status)
	assert.Equal(t, "500", audit.rows[1].HTTPStatus)
	assert.Equal(t, `{"error":"boom"}`, audit.rows[1].Remarks)
	assert.Equal(t, "EXCEPTION", audit.rows[2].HTTPStatus)
}

func TestProcessAuditWriteErrorIsLogged(t *testing.T) {
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(context.Background(), Source{
		Reader: newSliceReader(rowsOf(2)...), Builder: goldenBuilder(t), Sender: &fakeSender{},
		Audit: &memoryAudit{err: errors.New("disk full")}, BatchSize: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, run.Result().Succeeded())
}

func TestProcessCancellationStopsWithoutFlushing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &fakeSender{onSend: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(ctx, Source{
		Reader: newSliceReader(rowsOf(10)...), Builder: goldenBuilder(t), Sender: sender, Audit: audit, BatchSize: 4,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, sender.sent, 3, "remaining payloads of the batch are not sent")
	assert.Len(t, audit.rows, 3, "the in-flight send is still audited")
	res := run.Complete(ctx.Err()).Snapshot()
	assert.True(t, res.Cancelled)
	assert.Equal(t, 3, res.Total)
}

func TestProcessCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := &fakeSender{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(ctx, Source{
		Reader: newSliceReader(rowsOf(3)...), Builder: goldenBuilder(t), Sender: sender, Audit: &memoryAudit{}, BatchSize: 1,
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, sender.sent)
}

func TestProcessReaderErrorFlushesStagedBatch(t *testing.T) {
	reader := newSliceReader(rowsOf(3)...)
	reader.err = errors.New("connection reset")
	sender := &fakeSender{}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(context.Background(), Source{
		Name: "q", Reader: reader, Builder: goldenBuilder(t), Sender: sender, Audit: audit, BatchSize: 10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read source 'q': connection reset")
	assert.NotErrorIs(t, err, ErrCancelled)

	assert.Len(t, sender.sent, 3, "payloads built before the failure are delivered")
	assert.Len(t, audit.rows, 3)
	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Succeeded)
}

func TestProcessReaderErrorWithNothingStaged(t *testing.T) {
	reader := newSliceReader()
	reader.err = errors.New("malformed line")
	sender := &fakeSender{}
	run := newTestRun(&memorySink{}, nil)
	err := run.Process(context.Background(), Source{
		Name: "broken.csv", Reader: reader, Builder: goldenBuilder(t), Sender: sender, Audit: &memoryAudit{}, BatchSize: 5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read source 'broken.csv'")
	assert.Empty(t, sender.sent)
}

func TestProcessWithFilter(t *testing.T) {
	filter, err := NewRecordFilter(`amount > 10`)
	require.NoError(t, err)
	sink := &memorySink{}
	sender := &fakeSender{}
	run := newTestRun(sink, nil)
	err = run.Process(context.Background(), Source{
		Reader: newSliceReader(
			etlio.MapRecord{"id": "1", "amount": "5"},
			etlio.MapRecord{"id": "2", "amount": "50"},
			etlio.MapRecord{"id": "3", "amount": "n/a"},
		),
		Builder: goldenBuilder(t), Filter: filter, Sender: sender, Audit: &memoryAudit{}, BatchSize: 10,
	})
	require.NoError(t, err)

	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Rejected, "evaluation errors are rejections")
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "2", sender.sent[0].FirstUniqueValue())
	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "Row 3: filter evaluation failed")
}

func TestProcessAggregated(t *testing.T) {
	set, err := mapping.New(mapping.Golden, []mapping.FieldMapping{
		{Selector: "Customer", Key: "customer_id", IsUnique: true},
		{Selector: "Product", Key: "Product", DataType: mapping.TypeString},
		{Selector: "Qty", Key: "Qty", DataType: mapping.TypeString},
	})
	require.NoError(t, err)

	var states []State
	sender := &fakeSender{}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, &states)
	err = run.ProcessAggregated(context.Background(), Source{
		Name: "Orders",
		Reader: newSliceReader(
			etlio.MapRecord{"Customer": "A", "Product": "p1", "Qty": "1"},
			etlio.MapRecord{"Customer": "B", "Product": "p2", "Qty": "2"},
			etlio.MapRecord{"Customer": "A", "Product": "p3", "Qty": "3"},
			etlio.MapRecord{"Customer": "B", "Product": "p4"},
		),
		Sender: sender, Audit: audit, BatchSize: 100,
	}, payload.NewAggregator(set, "OrderLines", payload.Options{}))
	require.NoError(t, err)
	run.Complete(nil)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "A", sender.sent[0].FirstUniqueValue())
	require.Len(t, sender.sent[0].Fields, 1)
	assert.Equal(t, payload.KindJSON, sender.sent[0].Fields[0].Kind)
	assert.JSONEq(t, `[{"Product":"p1","Qty":"1"},{"Product":"p3","Qty":"3"}]`, sender.sent[0].Fields[0].Text)
	assert.JSONEq(t, `[{"Product":"p2","Qty":"2"},{"Product":"p4"}]`, sender.sent[1].Fields[0].Text)

	require.Len(t, audit.rows, 2)
	assert.Equal(t, 1, audit.rows[0].RowNumber, "group ordinal is the row number")
	assert.Equal(t, 2, audit.rows[1].RowNumber)

	assert.Equal(t, []State{StateReading, StateAggregating, StateBuilding, StateDispatching, StateCompleted}, dedupeStates(states))
}

func TestRunStateMachine(t *testing.T) {
	var states []State
	run := newTestRun(&memorySink{}, &states)
	assert.Equal(t, StateInit, run.State())

	err := run.Process(context.Background(), Source{
		Reader: newSliceReader(rowsOf(3)...), Builder: goldenBuilder(t), Sender: &fakeSender{}, Audit: &memoryAudit{}, BatchSize: 2,
	})
	require.NoError(t, err)
	first := run.Complete(nil)
	second := run.Complete(nil)
	assert.Same(t, first, second)
	assert.Equal(t, StateCompleted, run.State())

	require.NotEmpty(t, states)
	assert.Equal(t, StateReading, states[0])
	assert.Equal(t, StateCompleted, states[len(states)-1])
	completed := 0
	for _, s := range states {
		if s == StateCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "terminal state is reached exactly once")
	assert.Contains(t, states, StateBuilding)
	assert.Contains(t, states, StateDispatching)
	assert.Equal(t, "Dispatching", StateDispatching.String())
}

func TestRunCompletesWithoutSources(t *testing.T) {
	run := newTestRun(&memorySink{}, nil)
	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 0, res.Total)
	assert.False(t, res.Completed.IsZero())
	assert.False(t, res.Cancelled)
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{BatchSize: 0, Sender: &fakeSender{}, Audit: &memoryAudit{}})
	assert.Error(t, err)
	_, err = NewDispatcher(DispatcherConfig{BatchSize: 1, Audit: &memoryAudit{}})
	assert.Error(t, err)
	_, err = NewDispatcher(DispatcherConfig{BatchSize: 1, Sender: &fakeSender{}})
	assert.Error(t, err)

	d, err := NewDispatcher(DispatcherConfig{BatchSize: 1, Sender: &fakeSender{}, Audit: &memoryAudit{}})
	require.NoError(t, err)
	assert.NotNil(t, d.Result())
	assert.NoError(t, d.Flush(context.Background()), "empty flush is a no-op")
	assert.Equal(t, 0, d.Flushes())
}

func TestExecutionResult(t *testing.T) {
	r := NewExecutionResult()
	r.RecordSuccess()
	r.RecordSuccess()
	r.RecordFailure()
	r.RecordRejected()
	r.RecordFiltered()
	r.Complete(context.DeadlineExceeded)
	r.Complete(nil)

	assert.Equal(t, 3, r.Total())
	assert.Equal(t, 2, r.Succeeded())
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, 1, r.Rejected())
	assert.Equal(t, 1, r.Filtered())
	assert.True(t, r.Snapshot().Cancelled, "first Complete wins")
	assert.GreaterOrEqual(t, r.Duration().Nanoseconds(), int64(0))
	assert.Equal(t, "total=3 succeeded=2 failed=1 rejected=1 filtered=1 cancelled=true", r.String())
}

func dedupeStates(states []State) []State {
	var out []State
	seen := make(map[State]bool)
	for _, s := range states {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func orderLineSet(t *testing.T) *mapping.Set {
	t.Helper()
	set, err := mapping.New(mapping.Golden, []mapping.FieldMapping{
		{Selector: "id", Key: "customer_id", IsUnique: true},
		{Selector: "sku", Key: "sku", DataType: mapping.TypeString},
	})
	require.NoError(t, err)
	return set
}

func TestProcessAggregatedAppliesFilter(t *testing.T) {
	filter, err := NewRecordFilter(`sku == "keep"`)
	require.NoError(t, err)
	sender := &fakeSender{}
	audit := &memoryAudit{}
	run := newTestRun(&memorySink{}, nil)
	err = run.ProcessAggregated(context.Background(), Source{
		Name: "Orders",
		Reader: newSliceReader(
			etlio.MapRecord{"id": "1", "sku": "keep"},
			etlio.MapRecord{"id": "2", "sku": "drop"},
			etlio.MapRecord{"id": "1", "sku": "keep"},
		),
		Filter: filter, Sender: sender, Audit: audit, BatchSize: 100,
	}, payload.NewAggregator(orderLineSet(t), "lines", payload.Options{}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "1", sender.sent[0].FirstUniqueValue())
	assert.JSONEq(t, `[{"sku":"keep"},{"sku":"keep"}]`, sender.sent[0].Fields[0].Text)
	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Succeeded)
}

func TestProcessAggregatedFilterErrorsAreRejections(t *testing.T) {
	filter, err := NewRecordFilter(`qty > 1`)
	require.NoError(t, err)
	sink := &memorySink{}
	sender := &fakeSender{}
	run := newTestRun(sink, nil)
	err = run.ProcessAggregated(context.Background(), Source{
		Name: "Orders",
		Reader: newSliceReader(
			etlio.MapRecord{"id": "1", "sku": "a", "qty": "5"},
			etlio.MapRecord{"id": "2", "sku": "b", "qty": "n/a"},
		),
		Filter: filter, Sender: sender, Audit: &memoryAudit{}, BatchSize: 100,
	}, payload.NewAggregator(orderLineSet(t), "lines", payload.Options{}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	res := run.Complete(nil).Snapshot()
	assert.Equal(t, 1, res.Rejected)
	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "Row 2: filter evaluation failed")
}

func TestProcessAggregatedReaderErrorSendsNothing(t *testing.T) {
	reader := newSliceReader(etlio.MapRecord{"id": "1", "sku": "a"})
	reader.err = errors.New("zip: checksum error")
	sink := &memorySink{}
	sender := &fakeSender{}
	run := newTestRun(sink, nil)
	err := run.ProcessAggregated(context.Background(), Source{
		Name: "Orders", Reader: reader, Sender: sender, Audit: &memoryAudit{}, BatchSize: 100,
	}, payload.NewAggregator(orderLineSet(t), "lines", payload.Options{}))
	require.Error(t, err)
	assert.Empty(t, sender.sent)
	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "1 groups were not sent")
}
