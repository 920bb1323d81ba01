package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ForgeLedger/internal/core"
	"ForgeLedger/internal/event"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationRow represents a row in event_log.operations
type OperationRow struct {
	Sequence       int64
	CommandKind    string
	IdempotencyKey string
	Target         string
	Caller         string
	Timestamp      time.Time
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID   uuid.UUID
	Sequence    int64
	Instrument  string
	JournalType int32
	From        string
	To          string
	Quantity    decimal.Decimal
}

// NotificationRow represents a row in event_log.notifications
type NotificationRow struct {
	Sequence int64
	Position int
	Sink     string
	Emitter  string
	Kind     string
	Payload  []byte
}

// Batch is what one persist transaction writes.
type Batch struct {
	Operations    []OperationRow
	Journals      []JournalRow
	Notifications []NotificationRow
}

func (b *Batch) Len() int { return len(b.Operations) }

func (b *Batch) Reset() {
	b.Operations = b.Operations[:0]
	b.Journals = b.Journals[:0]
	b.Notifications = b.Notifications[:0]
}

// Add converts a core output into rows.
func (b *Batch) Add(out core.CoreOutput) error {
	env := out.Envelope
	b.Operations = append(b.Operations, OperationRow{
		Sequence:       env.Sequence,
		CommandKind:    env.CommandKind,
		IdempotencyKey: env.IdempotencyKey,
		Target:         env.Target,
		Caller:         env.Caller,
		Timestamp:      env.Timestamp,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	})

	for _, j := range out.Journals {
		b.Journals = append(b.Journals, JournalRow{
			JournalID:   j.JournalID,
			Sequence:    env.Sequence,
			Instrument:  out.Instrument.String(),
			JournalType: int32(j.JournalType),
			From:        j.From.String(),
			To:          j.To.String(),
			Quantity:    Quantity(j.Quantity),
		})
	}

	for i, n := range out.Notifications {
		payload, err := event.Marshal(n.Notification)
		if err != nil {
			return fmt.Errorf("seq=%d: %w", env.Sequence, err)
		}
		b.Notifications = append(b.Notifications, NotificationRow{
			Sequence: env.Sequence,
			Position: i,
			Sink:     n.Sink.String(),
			Emitter:  n.Emitter.String(),
			Kind:     n.Notification.Kind().String(),
			Payload:  payload,
		})
	}
	return nil
}

// OperationLogWriter writes the operation log using multi-row INSERTs.
// Every write is idempotent on its primary key so a retried batch is safe.
type OperationLogWriter struct {
	dialect Dialect
}

func NewOperationLogWriter(dialect Dialect) *OperationLogWriter {
	return &OperationLogWriter{dialect: dialect}
}

// WriteBatch writes all rows of b inside tx.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, b *Batch) error {
	if err := w.writeOperations(ctx, tx, b.Operations); err != nil {
		return fmt.Errorf("operations: %w", err)
	}
	if err := w.writeJournals(ctx, tx, b.Journals); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := w.writeNotifications(ctx, tx, b.Notifications); err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	return nil
}

func (w *OperationLogWriter) writeOperations(ctx context.Context, tx *sql.Tx, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	args := make([]any, 0, len(ops)*9)
	for _, o := range ops {
		args = append(args,
			o.Sequence, o.CommandKind, o.IdempotencyKey, o.Target, o.Caller,
			o.Timestamp, string(o.Payload), o.StateHash, o.PrevHash,
		)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(sequence, command_kind, idempotency_key, target, caller, timestamp, payload, state_hash, prev_hash)
		VALUES %s ON CONFLICT (sequence) DO NOTHING`,
		w.dialect.Table("event_log", "operations"), placeholders(len(ops), 9))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *OperationLogWriter) writeJournals(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]any, 0, len(journals)*7)
	for _, j := range journals {
		args = append(args,
			j.JournalID.String(), j.Sequence, j.Instrument, j.JournalType,
			j.From, j.To, j.Quantity,
		)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(journal_id, sequence, instrument, journal_type, from_account, to_account, quantity)
		VALUES %s ON CONFLICT (journal_id) DO NOTHING`,
		w.dialect.Table("event_log", "journal"), placeholders(len(journals), 7))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *OperationLogWriter) writeNotifications(ctx context.Context, tx *sql.Tx, ns []NotificationRow) error {
	if len(ns) == 0 {
		return nil
	}

	args := make([]any, 0, len(ns)*6)
	for _, n := range ns {
		args = append(args, n.Sequence, n.Position, n.Sink, n.Emitter, n.Kind, string(n.Payload))
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(sequence, position, sink, emitter, kind, payload)
		VALUES %s ON CONFLICT (sequence, position) DO NOTHING`,
		w.dialect.Table("event_log", "notifications"), placeholders(len(ns), 6))

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders rows groups of cols numbered placeholders:
// ($1, $2), ($3, $4), ...
func placeholders(rows, cols int) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// Quantity converts a token quantity to the NUMERIC column representation.
func Quantity(q uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(q), 0)
}
