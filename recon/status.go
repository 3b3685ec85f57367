package recon

import (
	"context"
	"time"

	"github.com/mmdatafocus/eventrecon/models"
)

// StatusResolver answers whether a business key already reached success in an event log.
type StatusResolver struct {
	Windows Windows
	Now     func() time.Time
}

func (r StatusResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Lookup returns every event in the lookback window whose payload carries the key.
func (r StatusResolver) Lookup(ctx context.Context, log EventLog, key models.BusinessKey) ([]models.EventStatus, error) {
	return log.SelectByKeyPattern(ctx, key, r.Windows.StatusSince(r.now()))
}

func (r StatusResolver) HasSuccess(ctx context.Context, log EventLog, key models.BusinessKey) (bool, error) {
	rows, err := r.Lookup(ctx, log, key)
	if err != nil {
		return false, err
	}
	return models.AnySuccess(rows), nil
}
