// Package stores holds the SQL side of the three stores the reconciler reads and writes: the
// per-branch event logs, the tracking database and the authoritative store.
package stores

import (
	"context"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"gorm.io/gorm"
)

// EventLogStore reads one branch's busines_event table.
type EventLogStore struct {
	db     *gorm.DB
	branch int
}

func NewEventLogStore(db *gorm.DB, branch int) *EventLogStore {
	return &EventLogStore{db: db, branch: branch}
}

func (s *EventLogStore) Branch() int {
	return s.branch
}

// SelectPendingEvents returns events inserted in [since, until) that have not succeeded, newest first.
func (s *EventLogStore) SelectPendingEvents(ctx context.Context, since, until time.Time) ([]models.BusinessEvent, error) {
	var rows []models.BusinessEvent
	err := s.db.WithContext(ctx).
		Where("dh_inclusao >= ? AND dh_inclusao < ?", since, until).
		Where("LOWER(TRIM(status_execucao)) <> ?", models.StatusSuccess).
		Order("dh_inclusao DESC").
		Find(&rows).Error
	return rows, err
}

// SelectByKeyPattern returns id and status of every event since the given time whose serialized payload
// contains `"<kind>":<value>`. This is a text match, so other fields carrying the same digits match too.
func (s *EventLogStore) SelectByKeyPattern(ctx context.Context, key models.BusinessKey, since time.Time) ([]models.EventStatus, error) {
	var rows []models.EventStatus
	err := s.db.WithContext(ctx).
		Model(&models.BusinessEvent{}).
		Select("id, status_execucao").
		Where("CAST(payload AS TEXT) LIKE ? AND dh_inclusao >= ?", "%"+key.PayloadPattern()+"%", since).
		Order("id").
		Scan(&rows).Error
	return rows, err
}

// DeleteRedundantErrorRows removes non-success events whose coupon key matches a success event's key,
// in one transaction. The context must carry appctx.AllowEventLogDelete or the guard rejects it.
func (s *EventLogStore) DeleteRedundantErrorRows(ctx context.Context) (int64, error) {
	stmt := redundantRowsSQL(s.db.Dialector.Name())
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(stmt)
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *EventLogStore) Close() error {
	config.CloseGorm(s.db)
	return nil
}

// Both shapes carry the coupon id: legacy sales at data.legacyData[0].id_cupom_pg, bank
// correspondents at data.id_cupom_pg. The first half matches on the data-level key alone, the
// second on the shape-aware key.
const redundantRowsPostgres = `
DELETE FROM busines_event
WHERE id IN (
	SELECT erro.id
	FROM busines_event erro
	JOIN (
		SELECT jsonb_extract_path_text(payload::jsonb, 'data', 'id_cupom_pg') AS id_cupom
		FROM busines_event
		WHERE LOWER(TRIM(status_execucao)) = 'sucesso'
		GROUP BY 1
	) sucesso ON jsonb_extract_path_text(erro.payload::jsonb, 'data', 'id_cupom_pg') = sucesso.id_cupom
	WHERE LOWER(TRIM(erro.status_execucao)) <> 'sucesso'

	UNION

	SELECT erro.id
	FROM busines_event erro
	JOIN (
		SELECT CASE
			WHEN jsonb_typeof(payload::jsonb->'data'->'legacyData') = 'array'
				THEN payload::jsonb->'data'->'legacyData'->0->>'id_cupom_pg'
			ELSE payload::jsonb->'data'->>'id_cupom_pg'
		END AS id_cupom
		FROM busines_event
		WHERE LOWER(TRIM(status_execucao)) = 'sucesso'
		GROUP BY 1
	) sucesso ON CASE
			WHEN jsonb_typeof(erro.payload::jsonb->'data'->'legacyData') = 'array'
				THEN erro.payload::jsonb->'data'->'legacyData'->0->>'id_cupom_pg'
			ELSE erro.payload::jsonb->'data'->>'id_cupom_pg'
		END = sucesso.id_cupom
	WHERE LOWER(TRIM(erro.status_execucao)) <> 'sucesso'
)`

// SQLite JSON1 rendition of the same statement, used by scratch databases.
const redundantRowsSQLite = `
DELETE FROM busines_event
WHERE id IN (
	SELECT erro.id
	FROM busines_event erro
	JOIN (
		SELECT DISTINCT CASE
			WHEN json_type(payload, '$.data.legacyData') = 'array'
				THEN json_extract(payload, '$.data.legacyData[0].id_cupom_pg')
			ELSE json_extract(payload, '$.data.id_cupom_pg')
		END AS id_cupom
		FROM busines_event
		WHERE LOWER(TRIM(status_execucao)) = 'sucesso'
	) sucesso ON CASE
			WHEN json_type(erro.payload, '$.data.legacyData') = 'array'
				THEN json_extract(erro.payload, '$.data.legacyData[0].id_cupom_pg')
			ELSE json_extract(erro.payload, '$.data.id_cupom_pg')
		END = sucesso.id_cupom
	WHERE LOWER(TRIM(erro.status_execucao)) <> 'sucesso'

	UNION

	SELECT erro.id
	FROM busines_event erro
	JOIN (
		SELECT DISTINCT json_extract(payload, '$.data.id_cupom_pg') AS id_cupom
		FROM busines_event
		WHERE LOWER(TRIM(status_execucao)) = 'sucesso'
	) sucesso ON json_extract(erro.payload, '$.data.id_cupom_pg') = sucesso.id_cupom
	WHERE LOWER(TRIM(erro.status_execucao)) <> 'sucesso'
)`

func redundantRowsSQL(dialect string) string {
	if dialect == "sqlite" {
		return redundantRowsSQLite
	}
	return redundantRowsPostgres
}
