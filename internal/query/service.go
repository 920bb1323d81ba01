package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/persistence"
	"ForgeLedger/internal/projection"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the projection tables and the
// operation log. Projection responses carry as_of_sequence, the watermark
// the tables reflect.
type QueryService struct {
	db      *sql.DB
	dialect persistence.Dialect
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, dialect persistence.Dialect, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, dialect: dialect, metrics: metrics}
}

// GetSettlement returns one settlement transaction.
func (qs *QueryService) GetSettlement(ctx context.Context, instrument string, txID uint64) (resp *SettlementResponse, err error) {
	defer qs.observe("get_settlement")(&err)

	list, err := qs.settlements(ctx, "instrument = $1 AND tx_id = $2", instrument, int64(txID))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: settlement %d on %s", ErrNotFound, txID, instrument)
	}
	return &list[0], nil
}

// ListSettlements returns the settlements of instrument, optionally
// restricted to one status, in tx id order after afterTxID.
func (qs *QueryService) ListSettlements(ctx context.Context, instrument, status string, afterTxID uint64, limit int) (out []SettlementResponse, err error) {
	defer qs.observe("list_settlements")(&err)

	where := "instrument = $1 AND tx_id > $2"
	args := []any{instrument, int64(afterTxID)}
	if status != "" {
		where += " AND status = $3"
		args = append(args, status)
	}
	where += fmt.Sprintf(" ORDER BY tx_id ASC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	return qs.settlements(ctx, where, args...)
}

func (qs *QueryService) settlements(ctx context.Context, where string, args ...any) ([]SettlementResponse, error) {
	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT instrument, tx_id, operation_id, operation_type, sender, receiver,
		       quantity, status, tx_hash, last_sequence
		FROM %s WHERE %s
	`, qs.table("settlements"), where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementResponse
	for rows.Next() {
		var (
			s          SettlementResponse
			txID, opID int64
		)
		if err := rows.Scan(
			&s.Instrument, &txID, &opID, &s.OperationType, &s.Sender, &s.Receiver,
			&s.Quantity, &s.Status, &s.TxHash, &s.LastSequence,
		); err != nil {
			return nil, err
		}
		s.TxID, s.OperationID = uint64(txID), uint64(opID)
		s.AsOfSequence = asOf
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetInstrument returns the registry record of the instrument at address.
func (qs *QueryService) GetInstrument(ctx context.Context, address string) (resp *InstrumentResponse, err error) {
	defer qs.observe("get_instrument")(&err)

	list, err := qs.instruments(ctx, "i.address = $1", address)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: instrument %s", ErrNotFound, address)
	}
	return &list[0], nil
}

// GetInstrumentByISIN returns the listed instrument carrying isin.
func (qs *QueryService) GetInstrumentByISIN(ctx context.Context, isin string) (resp *InstrumentResponse, err error) {
	defer qs.observe("get_instrument_by_isin")(&err)

	list, err := qs.instruments(ctx, "i.isin = $1 AND i.listed = TRUE", isin)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: isin %s", ErrNotFound, isin)
	}
	return &list[0], nil
}

// ListInstruments returns the instruments ever listed, or only the listed
// ones when listedOnly is set, sorted by ISIN.
func (qs *QueryService) ListInstruments(ctx context.Context, listedOnly bool) (out []InstrumentResponse, err error) {
	defer qs.observe("list_instruments")(&err)

	where := "1 = 1 ORDER BY i.isin"
	if listedOnly {
		where = "i.listed = TRUE ORDER BY i.isin"
	}
	return qs.instruments(ctx, where)
}

func (qs *QueryService) instruments(ctx context.Context, where string, args ...any) ([]InstrumentResponse, error) {
	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.address, i.registry, i.name, i.isin, i.listed, i.last_sequence, t.face_value, t.terms
		FROM %s i LEFT JOIN %s t ON t.address = i.address
		WHERE %s
	`, qs.table("instruments"), qs.table("bond_terms"), where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstrumentResponse
	for rows.Next() {
		var (
			i         = InstrumentResponse{AsOfSequence: asOf}
			faceValue decimal.NullDecimal
			raw       []byte
		)
		if err := rows.Scan(&i.Address, &i.Registry, &i.Name, &i.ISIN, &i.Listed, &i.LastSequence, &faceValue, &raw); err != nil {
			return nil, err
		}
		if faceValue.Valid {
			var t bond.Terms
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, fmt.Errorf("decode terms of %s: %w", i.Address, err)
			}
			i.Terms = newTermsView(t, faceValue.Decimal)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// GetJournalHistory returns the journal entries touching account in
// instrument, newest first, strictly before beforeSequence when it is set.
func (qs *QueryService) GetJournalHistory(ctx context.Context, instrument, account string, limit int, beforeSequence *int64) (out []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history")(&err)

	query := fmt.Sprintf(`
		SELECT journal_id, sequence, instrument, journal_type, from_account, to_account, quantity
		FROM %s
		WHERE instrument = $1 AND (from_account = $2 OR to_account = $2)
	`, qs.dialect.Table("event_log", "journal"))
	args := []any{instrument, account}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", len(args)+1)
		args = append(args, *beforeSequence)
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e  JournalHistoryEntry
			jt int32
		)
		if err := rows.Scan(&e.JournalID, &e.Sequence, &e.Instrument, &jt, &e.From, &e.To, &e.Quantity); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOperations returns up to limit logged operations from fromSequence.
func (qs *QueryService) GetOperations(ctx context.Context, fromSequence int64, limit int) (out []OperationEntry, err error) {
	defer qs.observe("operations")(&err)

	rows, err := persistence.NewSnapshotManager(qs.db, qs.dialect, nil).LoadOperationsFrom(ctx, fromSequence, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out = append(out, OperationEntry{
			Sequence:       r.Sequence,
			CommandKind:    r.CommandKind,
			IdempotencyKey: r.IdempotencyKey,
			Target:         r.Target,
			Caller:         r.Caller,
			Timestamp:      r.Timestamp,
			StateHash:      hex.EncodeToString(r.StateHash),
			PrevHash:       hex.EncodeToString(r.PrevHash),
		})
	}
	return out, nil
}

// --- Admin APIs ---

// VerifyIntegrity walks the operation log checking sequence continuity and
// hash links, then checks that every instrument's projected balances add
// up to the quantity it issued.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity")(&err)

	report = &IntegrityReport{}
	sm := persistence.NewSnapshotManager(qs.db, qs.dialect, nil)

	genesis := core.GenesisHash()
	prev := genesis[:]
	next := int64(0)
	const page = 1000
	for {
		ops, err := sm.LoadOperationsFrom(ctx, next, page)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			if op.Sequence != next {
				report.SequenceGaps = append(report.SequenceGaps, next)
			} else if !bytes.Equal(op.PrevHash, prev) {
				report.HashChainBreaks = append(report.HashChainBreaks, op.Sequence)
			}
			prev = op.StateHash
			next = op.Sequence + 1
			report.Operations++
		}
		if len(ops) < page {
			break
		}
	}

	unbalanced, err := qs.unbalancedSupplies(ctx)
	if err != nil {
		return nil, err
	}
	report.UnbalancedSupplies = unbalanced

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.UnbalancedSupplies) == 0
	return report, nil
}

// unbalancedSupplies sums in Go; NUMERIC and TEXT columns do not share an
// aggregate across dialects.
func (qs *QueryService) unbalancedSupplies(ctx context.Context) ([]UnbalancedSupply, error) {
	issued := make(map[string]decimal.Decimal)
	rows, err := qs.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT instrument, quantity FROM %s WHERE journal_type = $1
	`, qs.dialect.Table("event_log", "journal")), int32(ledger.JournalTypeIssue))
	if err != nil {
		return nil, err
	}
	if err := sumInto(rows, issued); err != nil {
		return nil, err
	}

	held := make(map[string]decimal.Decimal)
	rows, err = qs.db.QueryContext(ctx, fmt.Sprintf(`SELECT instrument, balance FROM %s`, qs.table("balances")))
	if err != nil {
		return nil, err
	}
	if err := sumInto(rows, held); err != nil {
		return nil, err
	}

	var out []UnbalancedSupply
	for inst, want := range issued {
		if got := held[inst]; !got.Equal(want) {
			out = append(out, UnbalancedSupply{Instrument: inst, Issued: want, Held: got})
		}
	}
	return out, nil
}

func sumInto(rows *sql.Rows, into map[string]decimal.Decimal) error {
	defer rows.Close()
	for rows.Next() {
		var (
			inst string
			q    decimal.Decimal
		)
		if err := rows.Scan(&inst, &q); err != nil {
			return err
		}
		into[inst] = into[inst].Add(q)
	}
	return rows.Err()
}

// --- helpers ---

// Watermark returns the last sequence reflected in the projections, -1
// when nothing was projected yet.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	return qs.watermark(ctx)
}

func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT last_sequence FROM %s WHERE projection_name = $1
	`, qs.table("watermark")), projection.WatermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) table(name string) string {
	return qs.dialect.Table("projections", name)
}

// observe records request metrics; call as defer qs.observe(name)(&err).
func (qs *QueryService) observe(endpoint string) func(*error) {
	start := time.Now()
	return func(err *error) {
		if qs.metrics == nil {
			return
		}
		qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if *err != nil {
			code := "internal"
			if errors.Is(*err, ErrNotFound) {
				code = "not_found"
			}
			qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
		}
	}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
