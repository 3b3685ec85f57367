package stores_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mmdatafocus/eventrecon/stores"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authoritySchema = `
CREATE TABLE empresa (id_emp INTEGER, cd_tipo_emp TEXT, cd_situacao INTEGER);
CREATE TABLE pedido_venda_multiplo (id_emp INTEGER, id_pvd_multiplo INTEGER, cd_modal_ent TEXT, st_sit_ped INTEGER);
CREATE TABLE wmb_pedido_venda_ic (wmb_rowid TEXT, id_emp INTEGER, id_pvd_multiplo INTEGER, wmb_cd_entrega TEXT);
CREATE TABLE wmb_cupom_ic (id_emp INTEGER, nr_cupom INTEGER, wmb_cd_entrega TEXT, id_pvd INTEGER, dt_cupom TIMESTAMP);

INSERT INTO empresa VALUES (31, 'F', 1), (12, 'F', 1), (40, 'F', 0), (50, 'D', 1);
INSERT INTO pedido_venda_multiplo VALUES (12, 42, 'R', 1), (12, 43, 'P', 1), (12, 44, 'R', 99);
INSERT INTO wmb_pedido_venda_ic VALUES ('AAB1', 12, 43, 'S'), ('AAB2', 12, 43, 'N');
INSERT INTO wmb_cupom_ic VALUES (12, 9, 'S', 42, '2024-05-20 10:00:00'), (12, 10, 'N', NULL, NULL);
`

type countingOpener struct {
	path  string
	calls int
	fail  bool
	last  *sql.DB
}

func (o *countingOpener) open(ctx context.Context) (*sql.DB, error) {
	o.calls++
	if o.fail {
		return nil, errors.New("ORA-12541: TNS:no listener")
	}
	db, err := sql.Open("sqlite3", o.path)
	o.last = db
	return db, err
}

func newAuthority(t *testing.T) (*stores.AuthorityStore, *countingOpener) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authority.db")
	seed, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = seed.Exec(authoritySchema)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	opener := &countingOpener{path: path}
	store := stores.NewAuthorityStore(opener.open, logrus.New()).WithProbe("SELECT 1")
	t.Cleanup(func() { _ = store.Close() })
	return store, opener
}

func TestAuthorityListActiveBranches(t *testing.T) {
	store, _ := newAuthority(t)
	branches, err := store.ListActiveBranches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{12, 31}, branches)
}

func TestAuthorityGetOrderSubtype(t *testing.T) {
	store, _ := newAuthority(t)
	ctx := context.Background()

	rec, err := store.GetOrderSubtype(ctx, 42, 12)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "R", rec.Modality)
	assert.Equal(t, int64(42), rec.OrderId)

	rec, err = store.GetOrderSubtype(ctx, 44, 12)
	require.NoError(t, err)
	assert.Nil(t, rec, "cancelled orders (st_sit_ped 99) are absent")

	rec, err = store.GetOrderSubtype(ctx, 42, 31)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAuthorityDeliveryStatus(t *testing.T) {
	store, _ := newAuthority(t)
	ctx := context.Background()

	posterior, err := store.GetPosteriorDeliveryStatus(ctx, 43)
	require.NoError(t, err)
	require.Len(t, posterior, 1)
	assert.Equal(t, "AAB1", posterior[0].RowId)
	assert.Equal(t, "S", posterior[0].Delivered)

	coupons, err := store.GetCouponDeliveryStatus(ctx, 12, 9)
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	require.NotNil(t, coupons[0].ChildOrderId)
	assert.Equal(t, int64(42), *coupons[0].ChildOrderId)
	require.NotNil(t, coupons[0].CouponDate)
	assert.Equal(t, 2024, coupons[0].CouponDate.Year())

	coupons, err = store.GetCouponDeliveryStatus(ctx, 12, 10)
	require.NoError(t, err)
	require.Len(t, coupons, 1)
	assert.Nil(t, coupons[0].ChildOrderId)
	assert.Nil(t, coupons[0].CouponDate)

	coupons, err = store.GetCouponDeliveryStatus(ctx, 12, 11)
	require.NoError(t, err)
	assert.Empty(t, coupons)
}

func TestAuthorityReconnectsOnceAfterDeadProbe(t *testing.T) {
	store, opener := newAuthority(t)
	ctx := context.Background()

	_, err := store.ListActiveBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, opener.calls)

	_, err = store.ListActiveBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, opener.calls, "healthy handle is reused")

	// Kill the pooled handle behind the store's back so the probe fails.
	require.NoError(t, opener.last.Close())
	_, err = store.ListActiveBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, opener.calls)
}

func TestAuthorityConnectFailure(t *testing.T) {
	store, opener := newAuthority(t)
	opener.fail = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := store.GetOrderSubtype(ctx, 42, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TNS")
}
