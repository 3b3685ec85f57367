package recon_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/recon"
	"github.com/mmdatafocus/eventrecon/stores"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openFile(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), config.GormConfig())
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return db
}

// sqliteEnv backs every store with a SQLite file: one per branch event log plus the tracking db.
type sqliteEnv struct {
	dir       string
	tracking  *stores.TrackingStore
	authority *fakeAuthority
	branches  []int
}

func newSQLiteEnv(t *testing.T, branches ...int) *sqliteEnv {
	dir := t.TempDir()
	trackingDB := openFile(t, filepath.Join(dir, "tracking.db"))
	t.Cleanup(func() { config.CloseGorm(trackingDB) })
	if err := models.MigrateTracking(trackingDB); err != nil {
		t.Fatalf("migrate tracking: %v", err)
	}
	for _, b := range branches {
		db := openFile(t, branchPath(dir, b))
		if err := models.MigrateEventLog(db); err != nil {
			t.Fatalf("migrate event log: %v", err)
		}
		config.CloseGorm(db)
	}
	return &sqliteEnv{
		dir:       dir,
		tracking:  stores.NewTrackingStore(trackingDB),
		authority: newFakeAuthority(),
		branches:  branches,
	}
}

func branchPath(dir string, branch int) string {
	return filepath.Join(dir, "branch"+strconv.Itoa(branch)+".db")
}

func (e *sqliteEnv) seed(t *testing.T, branch int, events ...models.BusinessEvent) {
	t.Helper()
	db := openFile(t, branchPath(e.dir, branch))
	defer config.CloseGorm(db)
	for i := range events {
		if err := db.Create(&events[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (e *sqliteEnv) remaining(t *testing.T, branch int) []int64 {
	t.Helper()
	db := openFile(t, branchPath(e.dir, branch))
	defer config.CloseGorm(db)
	var ids []int64
	if err := db.Model(&models.BusinessEvent{}).Order("id").Pluck("id", &ids).Error; err != nil {
		t.Fatalf("pluck: %v", err)
	}
	return ids
}

func (e *sqliteEnv) factory() recon.RuntimeFactory {
	opener := recon.EventLogOpenerFunc(func(ctx context.Context, branch int) (recon.EventLog, error) {
		db, err := gorm.Open(sqlite.Open(branchPath(e.dir, branch)), config.GormConfig())
		if err != nil {
			return nil, err
		}
		if err := db.Use(config.NewEventLogGuardPlugin()); err != nil {
			config.CloseGorm(db)
			return nil, err
		}
		return stores.NewEventLogStore(db, branch), nil
	})
	return func(ctx context.Context) (*recon.Runtime, error) {
		return &recon.Runtime{
			Tracking:  e.tracking,
			Authority: e.authority,
			EventLogs: opener,
			Branches:  fakeBranches{branches: e.branches},
			Logger:    quietLogger(),
		}, nil
	}
}

func TestCycleAndCleanupOnSQLite(t *testing.T) {
	env := newSQLiteEnv(t, 12)
	env.seed(t, 12,
		ev(1, debtCoupon555, "Erro"),
		ev(2, `{"data":{"id_cupom_pg":555}}`, "Erro"),
		ev(3, `{"data":{"legacyData":[{"id_pedido_pg":40,"id_cupom_pg":555}]}}`, "Sucesso"),
		ev(4, saleOrder42, "Erro"),
	)

	cycle := &recon.Cycle{Acquire: env.factory(), Windows: recon.DefaultWindows(), Now: fixedNow}
	report, err := cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	// Coupon 555 already succeeded upstream; only order 42 is outstanding.
	if report.Recorded != 1 || report.ResolvedUpstream != 1 {
		t.Fatalf("first cycle: recorded=%d resolved upstream=%d", report.Recorded, report.ResolvedUpstream)
	}
	open, err := env.tracking.CountUnresolved(context.Background(), 12, i64(7))
	if err != nil || open != 1 {
		t.Fatalf("order 42 should be tracked once: open=%d err=%v", open, err)
	}

	report, err = cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if report.Recorded != 0 || report.Duplicates != 1 {
		t.Fatalf("second cycle: recorded=%d duplicates=%d", report.Recorded, report.Duplicates)
	}

	job := &recon.CleanupJob{Acquire: env.factory(), MaxWorkers: 2}
	results, err := job.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed, failed := recon.TotalRemoved(results); removed != 2 || failed != 0 {
		t.Fatalf("cleanup: removed=%d failed=%d (%+v)", removed, failed, results)
	}
	got := env.remaining(t, 12)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("remaining events: got %v", got)
	}
}

func TestValidationOnSQLiteResolvesDeliveredSale(t *testing.T) {
	env := newSQLiteEnv(t, 12)
	env.seed(t, 12, ev(4, saleOrder42, "Erro"))
	env.authority.subtypes[42] = &models.OrderTypeRecord{Branch: 12, OrderId: 42, Modality: "R"}
	env.authority.coupons[7] = []models.CouponDelivery{{Branch: 12, CouponNumber: 7, Delivered: "S"}}

	cycle := &recon.Cycle{Acquire: env.factory(), Windows: recon.DefaultWindows(), Now: fixedNow}
	report, err := cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.Recorded != 1 || report.PostValidation.StillPending != 1 {
		t.Fatalf("order 42 has no success event yet: %+v", report)
	}

	env.seed(t, 12, ev(5, saleOrder42, "Sucesso"))
	report, err = cycle.Run(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if report.PreValidation.Resolved != 1 {
		t.Fatalf("pre-validation should resolve order 42: %+v", report.PreValidation)
	}
	open, err := env.tracking.CountUnresolved(context.Background(), 12, i64(7))
	if err != nil || open != 0 {
		t.Fatalf("no open rows expected: open=%d err=%v", open, err)
	}
}
