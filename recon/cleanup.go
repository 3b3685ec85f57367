package recon

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/mmdatafocus/eventrecon/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCleanupWorkers = 10
	defaultCleanupTimeout = 5 * time.Minute
)

type CleanupResult struct {
	Branch  int           `json:"branch"`
	Removed int64         `json:"removed"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// CleanupSweeper deletes event-log rows made redundant by a successful sibling, one task per branch.
type CleanupSweeper struct {
	EventLogs   EventLogOpener
	MaxWorkers  int
	TaskTimeout time.Duration
	Logger      *logrus.Logger
}

// Sweep runs one task per branch on at most MaxWorkers goroutines. Each task opens its own
// connection and deletes inside its own transaction. Results arrive in completion order; a failing
// branch only affects its own result.
func (s CleanupSweeper) Sweep(ctx context.Context, branches []int) []CleanupResult {
	if len(branches) == 0 {
		return nil
	}
	workers := s.MaxWorkers
	if workers <= 0 {
		workers = defaultCleanupWorkers
	}
	if workers > len(branches) {
		workers = len(branches)
	}

	results := make(chan CleanupResult, len(branches))
	var g errgroup.Group
	g.SetLimit(workers)
	for _, branch := range branches {
		g.Go(func() error {
			results <- s.sweepBranch(ctx, branch)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	out := make([]CleanupResult, 0, len(branches))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (s CleanupSweeper) sweepBranch(ctx context.Context, branch int) (res CleanupResult) {
	started := time.Now()
	res.Branch = branch
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			if s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{"field": "CleanupSweeper", "branch": branch, "stack": string(debug.Stack())}).
					Error("cleanup task panicked")
			}
		}
		res.Elapsed = time.Since(started)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	timeout := s.TaskTimeout
	if timeout <= 0 {
		timeout = defaultCleanupTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	taskCtx = appctx.SetBranch(appctx.AllowEventLogDelete(taskCtx), branch)

	taskCtx, span := tracer.Start(taskCtx, "recon.CleanupBranch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("recon.branch", branch)))
	defer span.End()

	log, err := s.EventLogs.Open(taskCtx, branch)
	if err != nil {
		res.Err = fmt.Errorf("open event log %d: %w", branch, err)
		s.logFailure(branch, res.Err)
		span.RecordError(res.Err)
		return res
	}
	defer log.Close()

	removed, err := log.DeleteRedundantErrorRows(taskCtx)
	if err != nil {
		res.Err = fmt.Errorf("delete redundant rows %d: %w", branch, err)
		s.logFailure(branch, res.Err)
		span.RecordError(res.Err)
		return res
	}
	res.Removed = removed
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{"field": "CleanupSweeper", "branch": branch, "removed": removed}).Info("cleanup done")
	}
	return res
}

func (s CleanupSweeper) logFailure(branch int, err error) {
	if s.Logger != nil {
		config.LogError(s.Logger, "CleanupSweeper", "sweepBranch", fmt.Sprintf("branch %d", branch), nil, err)
	}
}

// Failed reports whether the branch task failed. Results read back from the report board only
// carry the Error text.
func (r CleanupResult) Failed() bool {
	return r.Err != nil || r.Error != ""
}

// TotalRemoved sums removed rows over successful branches.
func TotalRemoved(results []CleanupResult) (removed int64, failed int) {
	for _, r := range results {
		if r.Failed() {
			failed++
			continue
		}
		removed += r.Removed
	}
	return removed, failed
}
