package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/observability"

	"github.com/google/uuid"
)

const snapshotFormatVersion = 1 // JSON-encoded core.SnapshotState

var ErrStateHashMismatch = errors.New("replayed state hash differs from log")

// SnapshotManager stores engine snapshots and reads the operation log
// back for replay.
type SnapshotManager struct {
	db      *sql.DB
	dialect Dialect
	metrics *observability.Metrics
}

func NewSnapshotManager(db *sql.DB, dialect Dialect, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{db: db, dialect: dialect, metrics: metrics}
}

// SaveSnapshot persists snap unverified. A snapshot only becomes eligible
// for restore once MarkVerified confirms it against the log.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) error {
	start := time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(sequence, snapshot_id, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = excluded.data, state_hash = excluded.state_hash, size_bytes = excluded.size_bytes
	`, sm.dialect.Table("event_log", "snapshots")),
		snap.Sequence, uuid.NewString(), data, snap.StateHash[:], snapshotFormatVersion, len(data), createdAt)
	if err != nil {
		return fmt.Errorf("save snapshot seq=%d: %w", snap.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT data, format_version FROM %s
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`, sm.dialect.Table("event_log", "snapshots")))

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET verified = TRUE WHERE sequence = $1
	`, sm.dialect.Table("event_log", "snapshots")), sequence)
	return err
}

// VerifyPending marks every unverified snapshot whose state hash matches
// the logged operation at the same sequence. Snapshots taken ahead of the
// persistence worker stay pending until their operation is logged.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int64, error) {
	snapshots := sm.dialect.Table("event_log", "snapshots")
	res, err := sm.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET verified = TRUE
		WHERE verified = FALSE AND EXISTS (
			SELECT 1 FROM %[2]s o
			WHERE o.sequence = %[1]s.sequence AND o.state_hash = %[1]s.state_hash
		)
	`, snapshots, sm.dialect.Table("event_log", "operations")))
	if err != nil {
		return 0, fmt.Errorf("verify snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LoadOperationsFrom loads up to limit logged operations starting at
// fromSequence, in sequence order.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT sequence, command_kind, idempotency_key, target, caller,
		       timestamp, payload, state_hash, prev_hash
		FROM %s
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, sm.dialect.Table("event_log", "operations")), fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var o OperationRow
		if err := rows.Scan(
			&o.Sequence, &o.CommandKind, &o.IdempotencyKey, &o.Target, &o.Caller,
			&o.Timestamp, &o.Payload, &o.StateHash, &o.PrevHash,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// LatestSequence returns the highest logged sequence, or -1 for an empty log.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(sequence) FROM %s
	`, sm.dialect.Table("event_log", "operations"))).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// Command decodes the logged payload back into its command.
func (o OperationRow) Command() (command.Command, error) {
	return command.Decode(command.Kind(o.CommandKind), o.Payload)
}

// ReplayLog re-applies every logged operation from the engine's current
// sequence and checks each recomputed state hash against the log. It
// returns the number of operations replayed.
func ReplayLog(ctx context.Context, sm *SnapshotManager, engine *core.Engine, batchSize int) (int, error) {
	n := 0
	for {
		ops, err := sm.LoadOperationsFrom(ctx, engine.Sequence(), batchSize)
		if err != nil {
			return n, fmt.Errorf("load operations: %w", err)
		}
		if len(ops) == 0 {
			return n, nil
		}

		for _, op := range ops {
			cmd, err := op.Command()
			if err != nil {
				return n, fmt.Errorf("decode seq=%d: %w", op.Sequence, err)
			}
			if err := engine.Replay(ctx, op.Sequence, cmd); err != nil {
				return n, err
			}
			got := engine.StateHash()
			if string(got[:]) != string(op.StateHash) {
				return n, fmt.Errorf("%w: seq=%d", ErrStateHashMismatch, op.Sequence)
			}
			n++
		}
	}
}
