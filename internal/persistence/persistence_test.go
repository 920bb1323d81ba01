package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ForgeLedger/internal/core"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/sink"
	"ForgeLedger/internal/testutil"
	"ForgeLedger/migrations"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+persistence.SQLite.Table("event_log", table)).Scan(&n))
	return n
}

// ============================================================================
// Migrator
// ============================================================================

func TestMigrator_UpDown(t *testing.T) {
	db := testutil.OpenSQLite(t)
	files, err := migrations.For("sqlite")
	require.NoError(t, err)
	m := persistence.NewMigrator(db, persistence.SQLite, files, zerolog.Nop())
	ctx := context.Background()

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already applied")

	require.NoError(t, m.Down(ctx))
	_, err = db.Exec("SELECT 1 FROM projections_bond_terms")
	assert.Error(t, err, "bond terms rolled back")
	_, err = db.Exec("SELECT 1 FROM projections_balances")
	assert.NoError(t, err, "earlier migrations kept")

	require.NoError(t, m.Down(ctx))
	_, err = db.Exec("SELECT 1 FROM projections_balances")
	assert.Error(t, err, "projections rolled back")

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParseDialect(t *testing.T) {
	d, err := persistence.ParseDialect("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "event_log.operations", d.Table("event_log", "operations"))

	d, err = persistence.ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, "event_log_operations", d.Table("event_log", "operations"))

	_, err = persistence.ParseDialect("oracle")
	assert.Error(t, err)
}

// ============================================================================
// Worker + replay
// ============================================================================

func TestPersistenceWorker_WritesOperationLog(t *testing.T) {
	db := testutil.OpenSQLite(t)
	outputs := testutil.LogScenario(t, db, persistence.SQLite).Outputs
	require.Len(t, outputs, 4)

	journals, notifications := 0, 0
	for _, o := range outputs {
		journals += len(o.Journals)
		notifications += len(o.Notifications)
	}
	assert.Equal(t, 4, count(t, db, "operations"))
	assert.Equal(t, journals, count(t, db, "journal"))
	assert.Equal(t, notifications, count(t, db, "notifications"))

	var kind string
	require.NoError(t, db.QueryRow(
		"SELECT kind FROM event_log_notifications WHERE sequence = 0 ORDER BY position LIMIT 1",
	).Scan(&kind))
	assert.Equal(t, outputs[0].Notifications[0].Notification.Kind().String(), kind)

	var quantity string
	require.NoError(t, db.QueryRow(
		"SELECT quantity FROM event_log_journal WHERE sequence = 0",
	).Scan(&quantity))
	assert.Equal(t, "1000", quantity)
}

func TestReplayLog_RebuildsSameChain(t *testing.T) {
	db := testutil.OpenSQLite(t)
	original := testutil.LogScenario(t, db, persistence.SQLite).Engine

	sm := persistence.NewSnapshotManager(db, persistence.SQLite, nil)
	latest, err := sm.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)

	replayed := testutil.GenesisEngine(t)
	n, err := persistence.ReplayLog(context.Background(), sm, replayed, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, original.StateHash(), replayed.StateHash())
	assert.Equal(t, original.Sequence(), replayed.Sequence())
}

func TestReplayLog_DetectsTampering(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.LogScenario(t, db, persistence.SQLite)

	_, err := db.Exec("UPDATE event_log_operations SET state_hash = $1 WHERE sequence = 2", make([]byte, 32))
	require.NoError(t, err)

	sm := persistence.NewSnapshotManager(db, persistence.SQLite, nil)
	n, err := persistence.ReplayLog(context.Background(), sm, testutil.GenesisEngine(t), 10)
	assert.ErrorIs(t, err, persistence.ErrStateHashMismatch)
	assert.Equal(t, 2, n)
}

func TestLatestSequence_EmptyLog(t *testing.T) {
	sm := persistence.NewSnapshotManager(testutil.OpenSQLite(t), persistence.SQLite, nil)
	seq, err := sm.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, -1, seq)
}

// ============================================================================
// Snapshots
// ============================================================================

func TestSnapshot_SaveVerifyRestore(t *testing.T) {
	db := testutil.OpenSQLite(t)
	original := testutil.LogScenario(t, db, persistence.SQLite).Engine
	sm := persistence.NewSnapshotManager(db, persistence.SQLite, nil)
	ctx := context.Background()

	snap := original.CreateSnapshotState()
	require.NoError(t, sm.SaveSnapshot(ctx, snap, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)))

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "unverified snapshots are not eligible")

	require.NoError(t, sm.MarkVerified(ctx, snap.Sequence))
	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Sequence, loaded.Sequence)
	assert.Equal(t, snap.StateHash, loaded.StateHash)

	restored := core.NewEngine(0, directory.New(), nil, nil, nil, nil, 128, nil, zerolog.Nop())
	require.NoError(t, restored.RestoreFromSnapshot(loaded, sink.NewRecorder("memory"), nil))

	n, err := persistence.ReplayLog(ctx, sm, restored, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, original.StateHash(), restored.StateHash())
}

func TestSnapshot_VerifyPending(t *testing.T) {
	db := testutil.OpenSQLite(t)
	original := testutil.LogScenario(t, db, persistence.SQLite).Engine
	sm := persistence.NewSnapshotManager(db, persistence.SQLite, nil)
	ctx := context.Background()

	good := original.CreateSnapshotState()
	require.NoError(t, sm.SaveSnapshot(ctx, good, time.Now()))

	ahead := original.CreateSnapshotState()
	ahead.Sequence = 9
	require.NoError(t, sm.SaveSnapshot(ctx, ahead, time.Now()))

	n, err := sm.VerifyPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "only the snapshot backed by a logged operation")

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, good.Sequence, loaded.Sequence)
}

// ============================================================================
// Idempotency
// ============================================================================

func TestDBIdempotencyChecker(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.LogScenario(t, db, persistence.SQLite)

	c := persistence.NewDBIdempotencyChecker(db, persistence.SQLite)
	dup, err := c.IsDuplicate("create_instrument", testutil.Header(1, testutil.Registrar).CommandID)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = c.IsDuplicate("list_instrument", testutil.Header(1, testutil.Registrar).CommandID)
	require.NoError(t, err)
	assert.False(t, dup)
}
