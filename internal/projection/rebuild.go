package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/settlement"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type settlementKey struct {
	instrument ledger.Address
	txID       uint64
}

type settlementRow struct {
	opType settlement.OperationType
	tx     settlement.Transaction
	seq    int64
}

type instrumentRow struct {
	registry ledger.Address
	inst     event.Instrument
	listed   bool
	seq      int64
}

type termsRow struct {
	terms bond.Terms
	seq   int64
}

// folded is the projection content recomputed from the log.
type folded struct {
	trackers    map[ledger.Address]*ledger.BalanceTracker
	balanceSeq  map[[2]ledger.Address]int64
	settlements map[settlementKey]*settlementRow
	instruments map[ledger.Address]instrumentRow
	// createdAt holds the terms of each create_instrument by sequence
	// until its forgeBondCreated notification names the bond.
	createdAt map[int64]bond.Terms
	terms     map[ledger.Address]termsRow
	watermark int64
}

// Rebuild clears the projection tables and refolds them from the
// operation log in one transaction. It returns the new watermark, -1 for
// an empty log.
func Rebuild(ctx context.Context, db *sql.DB, dialect persistence.Dialect, logger zerolog.Logger) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	f := &folded{
		trackers:    make(map[ledger.Address]*ledger.BalanceTracker),
		balanceSeq:  make(map[[2]ledger.Address]int64),
		settlements: make(map[settlementKey]*settlementRow),
		instruments: make(map[ledger.Address]instrumentRow),
		createdAt:   make(map[int64]bond.Terms),
		terms:       make(map[ledger.Address]termsRow),
		watermark:   -1,
	}
	if err := f.journals(ctx, tx, dialect); err != nil {
		return 0, fmt.Errorf("fold journal: %w", err)
	}
	if err := f.operations(ctx, tx, dialect); err != nil {
		return 0, fmt.Errorf("fold operations: %w", err)
	}
	if err := f.listings(ctx, tx, dialect); err != nil {
		return 0, fmt.Errorf("fold notifications: %w", err)
	}

	s := store{dialect: dialect}
	if err := s.truncate(ctx, tx); err != nil {
		return 0, err
	}
	if err := f.write(ctx, tx, s); err != nil {
		return 0, err
	}
	if f.watermark >= 0 {
		if err := s.setWatermark(ctx, tx, f.watermark, time.Now().UTC()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logger.Info().
		Int64("watermark", f.watermark).
		Int("instruments", len(f.instruments)).
		Int("settlements", len(f.settlements)).
		Msg("projection rebuild complete")
	return f.watermark, nil
}

func (f *folded) journals(ctx context.Context, tx *sql.Tx, d persistence.Dialect) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT sequence, instrument, journal_type, from_account, to_account, quantity
		FROM %s ORDER BY sequence ASC
	`, d.Table("event_log", "journal")))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq      int64
			inst     string
			jt       int32
			from, to string
			qty      decimal.Decimal
		)
		if err := rows.Scan(&seq, &inst, &jt, &from, &to, &qty); err != nil {
			return err
		}
		if err := f.applyJournal(seq, ledger.Address(inst), ledger.JournalType(jt),
			ledger.Address(from), ledger.Address(to), qty.BigInt().Uint64()); err != nil {
			return fmt.Errorf("seq=%d: %w", seq, err)
		}
	}
	return rows.Err()
}

func (f *folded) applyJournal(seq int64, inst ledger.Address, jt ledger.JournalType, from, to ledger.Address, qty uint64) error {
	bt, ok := f.trackers[inst]
	if !ok {
		bt = ledger.NewBalanceTracker()
		f.trackers[inst] = bt
	}

	var err error
	switch jt {
	case ledger.JournalTypeIssue:
		_, err = bt.Credit(to, qty)
		f.balanceSeq[[2]ledger.Address{inst, to}] = seq
	case ledger.JournalTypeLock:
		_, err = bt.Lock(from, qty)
		f.balanceSeq[[2]ledger.Address{inst, from}] = seq
	case ledger.JournalTypeSettle:
		_, err = bt.UnlockAndSettle(from, to, qty)
		f.balanceSeq[[2]ledger.Address{inst, from}] = seq
		f.balanceSeq[[2]ledger.Address{inst, to}] = seq
	default:
		err = fmt.Errorf("unknown journal type %d", jt)
	}
	return err
}

func (f *folded) operations(ctx context.Context, tx *sql.Tx, d persistence.Dialect) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT sequence, command_kind, payload FROM %s ORDER BY sequence ASC
	`, d.Table("event_log", "operations")))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&seq, &kind, &payload); err != nil {
			return err
		}
		f.watermark = seq

		terms, ok, err := decodeTerms(kind, payload)
		if err != nil {
			return fmt.Errorf("seq=%d: %w", seq, err)
		}
		if ok {
			f.createdAt[seq] = terms
			continue
		}

		switch command.Kind(kind) {
		case command.KindInitiateSubscription, command.KindConfirmPaymentReceived, command.KindConfirmPaymentTransferred:
		default:
			continue
		}
		cmd, err := command.Decode(command.Kind(kind), payload)
		if err != nil {
			return fmt.Errorf("seq=%d: %w", seq, err)
		}
		f.applySettlement(seq, cmd)
	}
	return rows.Err()
}

// applySettlement mirrors the status each logged settlement command
// committed; only successful commands reach the log.
func (f *folded) applySettlement(seq int64, cmd command.Command) {
	switch c := cmd.(type) {
	case *command.InitiateSubscription:
		f.settlements[settlementKey{c.Instrument, c.Request.TxID}] = &settlementRow{
			opType: settlement.OperationSubscription,
			tx: settlement.Transaction{
				TxID:                          c.Request.TxID,
				OperationID:                   c.Request.OperationID,
				DeliverySenderAccountNumber:   c.Request.Sender,
				DeliveryReceiverAccountNumber: c.Request.Receiver,
				DeliveryQuantity:              c.Request.Quantity,
				Status:                        settlement.StatusTokenLocked,
				TxHash:                        c.Request.TxHash,
			},
			seq: seq,
		}
	case *command.ConfirmPaymentReceived:
		if row, ok := f.settlements[settlementKey{c.Instrument, c.TxID}]; ok {
			row.tx.Status = settlement.StatusCashReceived
			row.seq = seq
		}
	case *command.ConfirmPaymentTransferred:
		if row, ok := f.settlements[settlementKey{c.Instrument, c.TxID}]; ok {
			row.tx.Status = settlement.StatusCashSent
			row.seq = seq
		}
	}
}

func (f *folded) listings(ctx context.Context, tx *sql.Tx, d persistence.Dialect) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT sequence, emitter, payload FROM %s
		WHERE kind IN ($1, $2, $3)
		ORDER BY sequence ASC, position ASC
	`, d.Table("event_log", "notifications")),
		event.KindInstrumentListed.String(), event.KindInstrumentUnlisted.String(), event.KindForgeBondCreated.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			emitter string
			payload []byte
		)
		if err := rows.Scan(&seq, &emitter, &payload); err != nil {
			return err
		}
		n, err := event.Unmarshal(payload)
		if err != nil {
			return fmt.Errorf("seq=%d: %w", seq, err)
		}
		switch v := n.(type) {
		case event.InstrumentListed:
			f.instruments[v.Address] = instrumentRow{ledger.Address(emitter), event.Instrument(v), true, seq}
		case event.InstrumentUnlisted:
			f.instruments[v.Address] = instrumentRow{ledger.Address(emitter), event.Instrument(v), false, seq}
		case event.ForgeBondCreated:
			if t, ok := f.createdAt[seq]; ok {
				f.terms[v.TokenAddress] = termsRow{t, seq}
			}
		}
	}
	return rows.Err()
}

func (f *folded) write(ctx context.Context, tx *sql.Tx, s store) error {
	instruments := make([]ledger.Address, 0, len(f.trackers))
	for inst := range f.trackers {
		instruments = append(instruments, inst)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i] < instruments[j] })

	for _, inst := range instruments {
		bt := f.trackers[inst]
		for _, account := range bt.Accounts() {
			b, _ := bt.GetBalance(account)
			if err := s.upsertBalance(ctx, tx, inst, account, b, f.balanceSeq[[2]ledger.Address{inst, account}]); err != nil {
				return fmt.Errorf("write balance: %w", err)
			}
		}
	}
	for k, row := range f.settlements {
		if err := s.upsertSettlement(ctx, tx, k.instrument, row.opType, row.tx, row.seq); err != nil {
			return fmt.Errorf("write settlement: %w", err)
		}
	}
	for _, row := range f.instruments {
		if err := s.upsertInstrument(ctx, tx, row.registry, row.inst.Name, row.inst.ISIN, row.inst.Address, row.listed, row.seq); err != nil {
			return fmt.Errorf("write instrument: %w", err)
		}
	}
	for addr, row := range f.terms {
		if err := s.upsertTerms(ctx, tx, addr, row.terms, row.seq); err != nil {
			return fmt.Errorf("write terms: %w", err)
		}
	}
	return nil
}
