package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ForgeLedger/internal/core"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/sink"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Scenario is the result of LogScenario.
type Scenario struct {
	Engine  *core.Engine
	Deploy  core.Deployment
	Bond    ledger.Address
	Outputs []core.CoreOutput
}

// LogScenario creates a bond and settles one subscription on it through a
// genesis engine. Every output is written to db by a PersistenceWorker
// before it returns; Outputs holds the same outputs in order.
func LogScenario(t *testing.T, db *sql.DB, dialect persistence.Dialect) *Scenario {
	t.Helper()

	persist := make(chan core.CoreOutput, 16)
	mirror := make(chan core.CoreOutput, 16)
	dir := directory.New()
	d, err := core.Deploy(dir, sink.NewRecorder("memory"), Genesis, nil)
	require.NoError(t, err)

	checker := persistence.NewDBIdempotencyChecker(db, dialect)
	engine := core.NewEngine(0, dir, persist, mirror, nil, checker, 128, nil, zerolog.Nop())

	ctx := context.Background()
	res, err := engine.Process(ctx, CreateBond(d))
	require.NoError(t, err)
	for _, cmd := range Subscription(res.Created) {
		_, err := engine.Process(ctx, cmd)
		require.NoError(t, err)
	}
	close(persist)

	worker := persistence.NewPersistenceWorker(db, dialect, persist, 2, time.Hour, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))

	close(mirror)
	s := &Scenario{Engine: engine, Deploy: d, Bond: res.Created}
	for o := range mirror {
		s.Outputs = append(s.Outputs, o)
	}
	return s
}

// GenesisEngine returns an engine over a fresh genesis deployment with no
// downstream channels.
func GenesisEngine(t *testing.T) *core.Engine {
	t.Helper()
	dir := directory.New()
	_, err := core.Deploy(dir, sink.NewRecorder("memory"), Genesis, nil)
	require.NoError(t, err)
	return core.NewEngine(0, dir, nil, nil, nil, nil, 128, nil, zerolog.Nop())
}
