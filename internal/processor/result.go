package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is returned when a run stops because its context was cancelled.
// It wraps the context error, so errors.Is(err, context.Canceled) also holds.
var ErrCancelled = errors.New("run cancelled")

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// ExecutionResult accumulates the counts of one connector run. It is owned by a
// single run; the mutex only guards readers such as a progress reporter.
type ExecutionResult struct {
	mu        sync.Mutex
	total     int
	succeeded int
	failed    int
	rejected  int
	filtered  int
	started   time.Time
	completed time.Time
	cancelled bool
}

// NewExecutionResult starts a result clock.
func NewExecutionResult() *ExecutionResult {
	return &ExecutionResult{started: time.Now()}
}

// RecordSuccess counts one payload delivered with a 2xx status.
func (r *ExecutionResult) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.succeeded++
}

// RecordFailure counts one payload whose delivery failed.
func (r *ExecutionResult) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.failed++
}

// RecordRejected counts one record dropped before dispatch. Rejections are not part of Total.
func (r *ExecutionResult) RecordRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

// RecordFiltered counts one record skipped by the record filter.
func (r *ExecutionResult) RecordFiltered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filtered++
}

// Complete stamps the end of the run. Only the first call has an effect.
func (r *ExecutionResult) Complete(ctxErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.completed.IsZero() {
		return
	}
	r.completed = time.Now()
	r.cancelled = errors.Is(ctxErr, context.Canceled) || errors.Is(ctxErr, context.DeadlineExceeded)
}

// Snapshot is a point-in-time copy of an ExecutionResult.
type Snapshot struct {
	Total     int
	Succeeded int
	Failed    int
	Rejected  int
	Filtered  int
	Started   time.Time
	Completed time.Time
	Cancelled bool
}

// Snapshot returns the current counts.
func (r *ExecutionResult) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Total:     r.total,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Rejected:  r.rejected,
		Filtered:  r.filtered,
		Started:   r.started,
		Completed: r.completed,
		Cancelled: r.cancelled,
	}
}

func (r *ExecutionResult) Total() int     { return r.Snapshot().Total }
func (r *ExecutionResult) Succeeded() int { return r.Snapshot().Succeeded }
func (r *ExecutionResult) Failed() int    { return r.Snapshot().Failed }
func (r *ExecutionResult) Rejected() int  { return r.Snapshot().Rejected }
func (r *ExecutionResult) Filtered() int  { return r.Snapshot().Filtered }

// Duration is the elapsed run time, measured to now while the run is in progress.
func (r *ExecutionResult) Duration() time.Duration {
	s := r.Snapshot()
	if s.Completed.IsZero() {
		return time.Since(s.Started)
	}
	return s.Completed.Sub(s.Started)
}

func (r *ExecutionResult) String() string {
	s := r.Snapshot()
	return fmt.Sprintf("total=%d succeeded=%d failed=%d rejected=%d filtered=%d cancelled=%t",
		s.Total, s.Succeeded, s.Failed, s.Rejected, s.Filtered, s.Cancelled)
}
