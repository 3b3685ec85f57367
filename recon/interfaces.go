// Package recon reconciles failed business events across the branch event logs, the tracking
// database and the authoritative store.
//
// A cycle validates open errors, scans every active branch for events that never reached success,
// records the ones with no successful sibling and validates again. Cleanup of redundant event-log
// rows runs as a separate recurring job.
package recon

import (
	"context"
	"time"

	"github.com/mmdatafocus/eventrecon/models"
)

// EventLog is one branch's busines_event table.
type EventLog interface {
	SelectPendingEvents(ctx context.Context, since, until time.Time) ([]models.BusinessEvent, error)
	SelectByKeyPattern(ctx context.Context, key models.BusinessKey, since time.Time) ([]models.EventStatus, error)
	DeleteRedundantErrorRows(ctx context.Context) (int64, error)
	Close() error
}

// EventLogOpener connects to a branch's event log. The caller owns and closes the result.
type EventLogOpener interface {
	Open(ctx context.Context, branch int) (EventLog, error)
}

type EventLogOpenerFunc func(ctx context.Context, branch int) (EventLog, error)

func (f EventLogOpenerFunc) Open(ctx context.Context, branch int) (EventLog, error) {
	return f(ctx, branch)
}

// Authority is the system of record. A nil record with a nil error means the order is absent.
type Authority interface {
	GetOrderSubtype(ctx context.Context, orderId int64, branch int) (*models.OrderTypeRecord, error)
	GetPosteriorDeliveryStatus(ctx context.Context, orderId int64) ([]models.PosteriorDelivery, error)
	GetCouponDeliveryStatus(ctx context.Context, branch int, couponNumber int64) ([]models.CouponDelivery, error)
}

type BranchEnumerator interface {
	ActiveBranches(ctx context.Context) ([]int, error)
}

// Tracking is the monitoring database of outstanding errors.
type Tracking interface {
	Ping(ctx context.Context) error
	CountUnresolved(ctx context.Context, branch int, couponNumber *int64) (int64, error)
	InsertOutstandingError(ctx context.Context, row *models.OutstandingError) error
	SelectUnresolved(ctx context.Context, since, until time.Time) ([]models.OutstandingError, error)
	MarkResolvedByCoupon(ctx context.Context, branch int, couponId int64) (int64, error)
	MarkResolvedByOrder(ctx context.Context, branch int, orderId int64) (int64, error)
}
