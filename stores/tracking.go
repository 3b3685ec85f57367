package stores

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/eventrecon/models"
	"gorm.io/gorm"
)

// TrackingStore is the monitoring database holding outstanding errors.
type TrackingStore struct {
	db *gorm.DB
}

func NewTrackingStore(db *gorm.DB) *TrackingStore {
	return &TrackingStore{db: db}
}

func (s *TrackingStore) DB() *gorm.DB {
	return s.db
}

func (s *TrackingStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("tracking store not connected")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CountUnresolved counts rows not yet flagged OK for (branch, couponNumber). A nil coupon number
// matches rows whose nr_cupom is NULL.
func (s *TrackingStore) CountUnresolved(ctx context.Context, branch int, couponNumber *int64) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&models.OutstandingError{}).
		Where("filial = ? AND is_sap <> ?", branch, models.ResolutionResolved)
	if couponNumber == nil {
		q = q.Where("nr_cupom IS NULL")
	} else {
		q = q.Where("nr_cupom = ?", *couponNumber)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (s *TrackingStore) InsertOutstandingError(ctx context.Context, row *models.OutstandingError) error {
	return s.db.WithContext(ctx).Create(row).Error
}

// SelectUnresolved returns rows not yet flagged OK that were inserted in [since, until), oldest first.
func (s *TrackingStore) SelectUnresolved(ctx context.Context, since, until time.Time) ([]models.OutstandingError, error) {
	var rows []models.OutstandingError
	err := s.db.WithContext(ctx).
		Where("is_sap <> ?", models.ResolutionResolved).
		Where("data_inclusao >= ? AND data_inclusao < ?", since, until).
		Order("data_inclusao ASC").
		Find(&rows).Error
	return rows, err
}

func (s *TrackingStore) MarkResolvedByCoupon(ctx context.Context, branch int, couponId int64) (int64, error) {
	return s.markResolved(ctx, "filial = ? AND id_cupom_pg = ?", branch, couponId)
}

func (s *TrackingStore) MarkResolvedByOrder(ctx context.Context, branch int, orderId int64) (int64, error) {
	return s.markResolved(ctx, "filial = ? AND pedido = ?", branch, orderId)
}

func (s *TrackingStore) markResolved(ctx context.Context, where string, branch int, id int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.OutstandingError{}).
		Where(where, branch, id).
		Where("is_sap <> ?", models.ResolutionResolved).
		Update("is_sap", models.ResolutionResolved)
	return res.RowsAffected, res.Error
}

func (s *TrackingStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
