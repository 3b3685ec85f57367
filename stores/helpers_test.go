package stores_test

import (
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), name)), config.GormConfig())
	require.NoError(t, err)
	t.Cleanup(func() { config.CloseGorm(db) })
	return db
}

func int64p(v int64) *int64 { return &v }
