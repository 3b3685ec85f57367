package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/mmdatafocus/eventrecon/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/mmdatafocus/eventrecon/recon")

var (
	ErrTrackingUnavailable = errors.New("tracking store unavailable")
	ErrBranchEnumeration   = errors.New("branch enumeration failed")
)

type BranchReport struct {
	Branch         int              `json:"branch"`
	Correlation    CorrelationStats `json:"correlation"`
	Recorded       int              `json:"recorded"`
	Duplicates     int              `json:"duplicates"`
	RecordFailures int              `json:"record_failures"`
	Error          string           `json:"error,omitempty"`
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	CycleId          string            `json:"cycle_id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Branches         []BranchReport    `json:"branches"`
	PreValidation    *ValidationReport `json:"pre_validation,omitempty"`
	PostValidation   *ValidationReport `json:"post_validation,omitempty"`
	Recorded         int               `json:"recorded"`
	Duplicates       int               `json:"duplicates"`
	RecordFailures   int               `json:"record_failures"`
	ResolvedUpstream int               `json:"resolved_upstream"`
	BranchFailures   int               `json:"branch_failures"`
	Error            string            `json:"error,omitempty"`
}

// Cycle is one reconciliation pass: validate, process every branch, validate again.
type Cycle struct {
	Acquire           RuntimeFactory
	Windows           Windows
	Now               func() time.Time
	SkipPreValidation bool
	Board             *ReportBoard
}

func (c *Cycle) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes a full cycle. It returns an error only when the cycle could not run at all: the
// runtime could not be acquired, the tracking store is unreachable or branches could not be listed.
// Branch and record failures are logged, counted in the report and retried next cycle.
func (c *Cycle) Run(ctx context.Context) (report CycleReport, err error) {
	report.CycleId = uuid.NewString()
	report.StartedAt = c.now()
	ctx = appctx.SetCycleId(ctx, report.CycleId)

	ctx, span := tracer.Start(ctx, "recon.Cycle")
	span.SetAttributes(attribute.String("recon.cycle_id", report.CycleId))
	defer func() {
		report.FinishedAt = c.now()
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
		}
		if c.Board != nil {
			c.Board.SaveCycle(ctx, report)
		}
		span.End()
	}()

	rt, err := c.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire runtime: %w", err)
	}
	defer rt.Release()
	logger := rt.logger().WithFields(logrus.Fields{"field": "Cycle", "cycle_id": report.CycleId})

	if err := rt.Tracking.Ping(ctx); err != nil {
		return report, fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
	}

	resolver := StatusResolver{Windows: c.Windows, Now: c.Now}
	validator := &Validator{
		Tracking:  rt.Tracking,
		Authority: rt.Authority,
		EventLogs: rt.EventLogs,
		Resolver:  resolver,
		Notifier:  rt.notifier(),
		Logger:    rt.logger(),
	}

	if !c.SkipPreValidation {
		pre, err := validator.Run(ctx)
		if err != nil {
			return report, validationErr(err)
		}
		report.PreValidation = &pre
	}

	branches, err := rt.Branches.ActiveBranches(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrBranchEnumeration, err)
	}
	logger.WithField("branches", len(branches)).Info("cycle started")

	correlator := Correlator{Resolver: resolver, Logger: rt.logger()}
	recorder := ErrorRecorder{Tracking: rt.Tracking, Notifier: rt.notifier(), Logger: rt.logger()}
	for _, branch := range branches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		br := c.processBranch(ctx, rt, correlator, recorder, branch)
		report.Branches = append(report.Branches, br)
		report.Recorded += br.Recorded
		report.Duplicates += br.Duplicates
		report.RecordFailures += br.RecordFailures
		report.ResolvedUpstream += br.Correlation.ResolvedUpstream
		if br.Error != "" {
			report.BranchFailures++
		}
	}

	post, err := validator.Run(ctx)
	if err != nil {
		return report, validationErr(err)
	}
	report.PostValidation = &post

	logger.WithFields(logrus.Fields{
		"recorded":        report.Recorded,
		"duplicates":      report.Duplicates,
		"record_failures": report.RecordFailures,
		"branch_failures": report.BranchFailures,
		"resolved":        post.Resolved,
	}).Info("cycle finished")

	rt.notifier().Notify(ctx, Notification{
		Type:       NotificationCycleCompleted,
		OccurredAt: c.now(),
		Data:       report,
	})
	return report, nil
}

// Validate runs a single validation pass over the open errors without scanning branches.
func (c *Cycle) Validate(ctx context.Context) (ValidationReport, error) {
	ctx, span := tracer.Start(ctx, "recon.Validate")
	defer span.End()

	rt, err := c.Acquire(ctx)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("acquire runtime: %w", err)
	}
	defer rt.Release()

	if err := rt.Tracking.Ping(ctx); err != nil {
		return ValidationReport{}, fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
	}
	validator := &Validator{
		Tracking:  rt.Tracking,
		Authority: rt.Authority,
		EventLogs: rt.EventLogs,
		Resolver:  StatusResolver{Windows: c.Windows, Now: c.Now},
		Notifier:  rt.notifier(),
		Logger:    rt.logger(),
	}
	report, err := validator.Run(ctx)
	if err != nil {
		return report, validationErr(err)
	}
	return report, nil
}

func validationErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTrackingUnavailable, err)
}

func (c *Cycle) processBranch(ctx context.Context, rt *Runtime, correlator Correlator, recorder ErrorRecorder, branch int) BranchReport {
	br := BranchReport{Branch: branch}
	ctx = appctx.SetBranch(ctx, branch)
	ctx, span := tracer.Start(ctx, "recon.Branch")
	span.SetAttributes(attribute.Int("recon.branch", branch))
	defer span.End()

	abandon := func(funcName string, err error) BranchReport {
		br.Error = err.Error()
		span.RecordError(err)
		config.LogError(rt.logger(), "Cycle", funcName, fmt.Sprintf("branch %d", branch), nil, err)
		return br
	}

	log, err := rt.EventLogs.Open(ctx, branch)
	if err != nil {
		return abandon("OpenEventLog", err)
	}
	defer log.Close()

	since, until := c.Windows.Pending(c.now())
	events, err := log.SelectPendingEvents(ctx, since, until)
	if err != nil {
		return abandon("SelectPendingEvents", err)
	}

	candidates, stats, err := correlator.Correlate(ctx, branch, log, events)
	br.Correlation = stats
	if err != nil {
		return abandon("Correlate", err)
	}

	for _, cand := range candidates {
		switch recorder.Record(ctx, cand) {
		case RecordInserted:
			br.Recorded++
		case RecordDuplicate:
			br.Duplicates++
		default:
			br.RecordFailures++
		}
	}
	return br
}

// CleanupJob runs one sweep over the active branches, or over the given branches when any are passed.
type CleanupJob struct {
	Acquire     RuntimeFactory
	MaxWorkers  int
	TaskTimeout time.Duration
	Board       *ReportBoard
}

func (j *CleanupJob) Run(ctx context.Context, only []int) ([]CleanupResult, error) {
	ctx, span := tracer.Start(ctx, "recon.Cleanup")
	defer span.End()

	rt, err := j.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire runtime: %w", err)
	}
	defer rt.Release()

	branches := only
	if len(branches) == 0 {
		branches, err = rt.Branches.ActiveBranches(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBranchEnumeration, err)
		}
	}

	sweeper := CleanupSweeper{
		EventLogs:   rt.EventLogs,
		MaxWorkers:  j.MaxWorkers,
		TaskTimeout: j.TaskTimeout,
		Logger:      rt.logger(),
	}
	results := sweeper.Sweep(ctx, branches)

	removed, failed := TotalRemoved(results)
	rt.logger().WithFields(logrus.Fields{"field": "Cleanup", "branches": len(branches), "removed": removed, "failed": failed}).
		Info("cleanup sweep finished")
	if j.Board != nil {
		j.Board.SaveCleanup(ctx, results)
	}
	return results, nil
}
