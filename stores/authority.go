package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mmdatafocus/eventrecon/models"
	"github.com/sirupsen/logrus"
)

const oracleProbe = "SELECT 1 FROM DUAL"

const (
	sqlActiveBranches = `
		SELECT id_emp
		FROM empresa
		WHERE cd_tipo_emp = 'F' AND cd_situacao = 1
		ORDER BY id_emp ASC`

	sqlOrderSubtype = `
		SELECT id_emp, id_pvd_multiplo, cd_modal_ent
		FROM pedido_venda_multiplo
		WHERE st_sit_ped <> 99
		  AND id_pvd_multiplo = :1
		  AND id_emp = :2`

	sqlPosteriorDelivery = `
		SELECT wmb_rowid, id_emp, id_pvd_multiplo, wmb_cd_entrega
		FROM wmb_pedido_venda_ic
		WHERE wmb_cd_entrega = 'S'
		  AND id_pvd_multiplo = :1`

	sqlCouponDelivery = `
		SELECT id_emp, nr_cupom, wmb_cd_entrega, id_pvd, dt_cupom
		FROM wmb_cupom_ic
		WHERE id_emp = :1
		  AND nr_cupom = :2`
)

// Opener returns a fresh handle to the authoritative store.
type Opener func(ctx context.Context) (*sql.DB, error)

// AuthorityStore is the system of record: active branches, order modality and WMB delivery state.
// The handle is probed before each use and reopened once if the probe fails.
type AuthorityStore struct {
	mu     sync.Mutex
	db     *sql.DB
	open   Opener
	probe  string
	logger *logrus.Logger
}

func NewAuthorityStore(open Opener, logger *logrus.Logger) *AuthorityStore {
	return &AuthorityStore{open: open, probe: oracleProbe, logger: logger}
}

// WithProbe replaces the liveness query (non-Oracle databases have no DUAL).
func (a *AuthorityStore) WithProbe(query string) *AuthorityStore {
	a.probe = query
	return a
}

func (a *AuthorityStore) conn(ctx context.Context) (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		var one int
		err := a.db.QueryRowContext(ctx, a.probe).Scan(&one)
		if err == nil {
			return a.db, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"field": "AuthorityStore"}).Warn("liveness probe failed, reconnecting: " + err.Error())
		}
		_ = a.db.Close()
		a.db = nil
	}

	db, err := a.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect authoritative store: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *AuthorityStore) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *AuthorityStore) ListActiveBranches(ctx context.Context) ([]int, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqlActiveBranches)
	if err != nil {
		return nil, fmt.Errorf("list active branches: %w", err)
	}
	defer rows.Close()

	var branches []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		branches = append(branches, id)
	}
	return branches, rows.Err()
}

// GetOrderSubtype returns the live pedido_venda_multiplo row for the order, or nil when there is none.
func (a *AuthorityStore) GetOrderSubtype(ctx context.Context, orderId int64, branch int) (*models.OrderTypeRecord, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		rec      models.OrderTypeRecord
		modality sql.NullString
	)
	err = db.QueryRowContext(ctx, sqlOrderSubtype, orderId, branch).Scan(&rec.Branch, &rec.OrderId, &modality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("order subtype %d/%d: %w", branch, orderId, err)
	}
	rec.Modality = modality.String
	return &rec, nil
}

func (a *AuthorityStore) GetPosteriorDeliveryStatus(ctx context.Context, orderId int64) ([]models.PosteriorDelivery, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqlPosteriorDelivery, orderId)
	if err != nil {
		return nil, fmt.Errorf("posterior delivery %d: %w", orderId, err)
	}
	defer rows.Close()

	var out []models.PosteriorDelivery
	for rows.Next() {
		var (
			d         models.PosteriorDelivery
			rowId     sql.NullString
			delivered sql.NullString
		)
		if err := rows.Scan(&rowId, &d.Branch, &d.OrderId, &delivered); err != nil {
			return nil, err
		}
		d.RowId = rowId.String
		d.Delivered = delivered.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (a *AuthorityStore) GetCouponDeliveryStatus(ctx context.Context, branch int, couponNumber int64) ([]models.CouponDelivery, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqlCouponDelivery, branch, couponNumber)
	if err != nil {
		return nil, fmt.Errorf("coupon delivery %d/%d: %w", branch, couponNumber, err)
	}
	defer rows.Close()

	var out []models.CouponDelivery
	for rows.Next() {
		var (
			d         models.CouponDelivery
			delivered sql.NullString
			child     sql.NullInt64
			date      sql.NullTime
		)
		if err := rows.Scan(&d.Branch, &d.CouponNumber, &delivered, &child, &date); err != nil {
			return nil, err
		}
		d.Delivered = delivered.String
		if child.Valid {
			v := child.Int64
			d.ChildOrderId = &v
		}
		if date.Valid {
			v := date.Time
			d.CouponDate = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
