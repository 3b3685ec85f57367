package recon

import (
	"context"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/sirupsen/logrus"
)

type RecordOutcome int

const (
	RecordInserted RecordOutcome = iota
	RecordDuplicate
	RecordFailed
)

func (o RecordOutcome) String() string {
	switch o {
	case RecordInserted:
		return "inserted"
	case RecordDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// ErrorRecorder persists candidates as NOK rows, at most one open row per (branch, coupon number).
type ErrorRecorder struct {
	Tracking Tracking
	Notifier Notifier
	Logger   *logrus.Logger
}

func (r ErrorRecorder) Record(ctx context.Context, c Candidate) RecordOutcome {
	open, err := r.Tracking.CountUnresolved(ctx, c.Branch, c.CouponNumber)
	if err != nil {
		r.logFailure("CountUnresolved", c, err)
		return RecordFailed
	}
	if open > 0 {
		return RecordDuplicate
	}

	row := models.NewOutstandingError(c.Branch, c.Record, c.Event)
	if err := r.Tracking.InsertOutstandingError(ctx, row); err != nil {
		r.logFailure("InsertOutstandingError", c, err)
		return RecordFailed
	}

	if r.Notifier != nil {
		r.Notifier.Notify(ctx, Notification{
			Type:       NotificationErrorRecorded,
			Branch:     c.Branch,
			OccurredAt: time.Now(),
			Data:       row,
		})
	}
	return RecordInserted
}

func (r ErrorRecorder) logFailure(funcName string, c Candidate, err error) {
	if r.Logger == nil {
		return
	}
	config.LogError(r.Logger, "ErrorRecorder", funcName, c.Key.String(), map[string]interface{}{
		"branch":   c.Branch,
		"event_id": c.Event.ID,
		"nr_cupom": c.CouponNumber,
	}, err)
}
