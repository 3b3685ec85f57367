package stores_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/eventrecon/appctx"
	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const pgTestPassword = `te'st pw\1`

// openPostgresEventLog starts a throwaway PostgreSQL container and connects to it the way the
// reconciler connects to a branch: through config.OpenEventLog, guard plugin included.
func openPostgresEventLog(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	name, port := startPostgresContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(name) })

	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	s := config.Settings{
		PGHostTemplate: "127.0.0.%d",
		PGPort:         p,
		PGUser:         "postgres",
		PGPassword:     pgTestPassword,
		PGDatabase:     "loja_test",
		PGSSLMode:      "disable",
	}

	// The image restarts once after initdb, so the first connections may be refused.
	var db *gorm.DB
	deadline := time.Now().Add(60 * time.Second)
	for {
		db, err = config.OpenEventLog(context.Background(), s, 1)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres did not become ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Cleanup(func() { config.CloseGorm(db) })
	return db
}

func TestPostgresEventLogSelectByKeyPattern(t *testing.T) {
	db := openPostgresEventLog(t)
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	seedEvents(t, db,
		event(1, `{"data":{"id_cupom_pg":555}}`, "Erro", now.Add(-time.Hour)),
		event(2, `{"data":{"legacyData":[{"id_pedido_pg":42,"id_cupom_pg":555}]}}`, "Sucesso", now.Add(-time.Hour)),
		event(3, `{"data":{"id_cupom_pg":555}}`, "Sucesso", now.AddDate(0, 0, -40)),
		event(4, `{"data":{"id_cupom_pg":556}}`, "Sucesso", now.Add(-time.Hour)),
	)
	store := stores.NewEventLogStore(db, 1)
	ctx := context.Background()

	rows, err := store.SelectByKeyPattern(ctx, models.BusinessKey{Kind: models.KeyCoupon, Value: 555}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, []models.EventStatus{{ID: 1, Status: "Erro"}, {ID: 2, Status: "Sucesso"}}, rows)

	rows, err = store.SelectByKeyPattern(ctx, models.BusinessKey{Kind: models.KeyOrder, Value: 42}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = store.SelectByKeyPattern(ctx, models.BusinessKey{Kind: models.KeyCoupon, Value: 55}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, rows, 3, "digit prefix matches 555 and 556")

	rows, err = store.SelectByKeyPattern(ctx, models.BusinessKey{Kind: models.KeyOrder, Value: 7}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresEventLogDeleteRedundantErrorRows(t *testing.T) {
	db := openPostgresEventLog(t)
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	seedEvents(t, db,
		event(1, `{"data":{"id_cupom_pg":555,"cb":{"CORRESPONDENTE_BANCARIO":[{"cupomComplemento":{"cupom":555}}]}}}`, "Erro", now),
		event(2, `{"data":{"id_cupom_pg":555}}`, "Erro", now.Add(time.Minute)),
		event(3, `{"data":{"legacyData":[{"id_pedido_pg":42,"id_cupom_pg":555}]}}`, "Sucesso", now),
		event(4, `{"data":{"id_cupom_pg":777}}`, "Erro", now),
		event(5, `{"data":{"legacyData":[{"id_pedido_pg":43,"id_cupom_pg":888}]}}`, "Erro", now),
		event(6, `{"data":{"id_cupom_pg":888}}`, " SUCESSO ", now),
		event(7, `{"data":{}}`, "Erro", now),
		event(8, `{"data":{}}`, "Sucesso", now),
		event(9, `{"data":{"legacyData":null,"id_cupom_pg":999}}`, "Erro", now),
		event(10, `{"data":{"id_cupom_pg":"999"}}`, "Sucesso", now),
	)
	store := stores.NewEventLogStore(db, 1)

	_, err := store.DeleteRedundantErrorRows(context.Background())
	require.ErrorIs(t, err, config.ErrEventLogReadOnly)

	ctx := appctx.AllowEventLogDelete(context.Background())
	removed, err := store.DeleteRedundantErrorRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	var left []int64
	require.NoError(t, db.Model(&models.BusinessEvent{}).Order("id").Pluck("id", &left).Error)
	assert.Equal(t, []int64{3, 4, 6, 7, 8, 10}, left, "success rows and rows without a success sibling stay")

	removed, err = store.DeleteRedundantErrorRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func startPostgresContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("eventrecon-test-postgres-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "POSTGRES_PASSWORD="+pgTestPassword,
		"-e", "POSTGRES_DB=loja_test",
		"-p", "127.0.0.1:0:5432",
		"postgres:16-alpine",
	)
	if err != nil {
		t.Fatalf("start postgres container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "5432/tcp")
	if err != nil {
		_ = dockerRmForce(name)
		t.Fatalf("postgres docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "pg_isready", "-U", "postgres", "-d", "loja_test"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	_ = dockerRmForce(name)
	t.Fatalf("postgres did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
