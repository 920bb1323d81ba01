package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/settlement"
)

// WatermarkName identifies this worker in projections.watermark.
const WatermarkName = "ledger"

// store holds the upserts shared by the live worker and the rebuild.
// Every write replaces the row with absolute values, so re-applying an
// output is harmless.
type store struct {
	dialect persistence.Dialect
}

func (s store) upsertBalance(ctx context.Context, tx *sql.Tx, inst, account ledger.Address, b ledger.Balance, seq int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (instrument, account, balance, locked, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instrument, account)
		DO UPDATE SET balance = excluded.balance, locked = excluded.locked, last_sequence = excluded.last_sequence
	`, s.dialect.Table("projections", "balances")),
		inst.String(), account.String(), persistence.Quantity(b.Balance), persistence.Quantity(b.Locked), seq)
	return err
}

func (s store) upsertSettlement(ctx context.Context, tx *sql.Tx, inst ledger.Address, opType settlement.OperationType, t settlement.Transaction, seq int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
			(instrument, tx_id, operation_id, operation_type, sender, receiver, quantity, status, tx_hash, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instrument, tx_id)
		DO UPDATE SET status = excluded.status, last_sequence = excluded.last_sequence
	`, s.dialect.Table("projections", "settlements")),
		inst.String(), int64(t.TxID), int64(t.OperationID), opType.String(),
		t.DeliverySenderAccountNumber.String(), t.DeliveryReceiverAccountNumber.String(),
		persistence.Quantity(t.DeliveryQuantity), t.Status.String(), t.TxHash, seq)
	return err
}

func (s store) upsertInstrument(ctx context.Context, tx *sql.Tx, reg ledger.Address, name, isin string, addr ledger.Address, listed bool, seq int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (address, registry, name, isin, listed, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address)
		DO UPDATE SET registry = excluded.registry, name = excluded.name, isin = excluded.isin,
		              listed = excluded.listed, last_sequence = excluded.last_sequence
	`, s.dialect.Table("projections", "instruments")),
		addr.String(), reg.String(), name, isin, listed, seq)
	return err
}

func (s store) upsertTerms(ctx context.Context, tx *sql.Tx, addr ledger.Address, t bond.Terms, seq int64) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode terms: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (address, face_value, terms, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address)
		DO UPDATE SET face_value = excluded.face_value, terms = excluded.terms, last_sequence = excluded.last_sequence
	`, s.dialect.Table("projections", "bond_terms")),
		addr.String(), t.FaceValue(), string(raw), seq)
	return err
}

func (s store) setWatermark(ctx context.Context, tx *sql.Tx, seq int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = excluded.last_sequence, updated_at = excluded.updated_at
	`, s.dialect.Table("projections", "watermark")), WatermarkName, seq, at)
	return err
}

func (s store) truncate(ctx context.Context, tx *sql.Tx) error {
	for _, name := range []string{"balances", "settlements", "instruments", "bond_terms", "watermark"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.dialect.Table("projections", name)); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}
	return nil
}
