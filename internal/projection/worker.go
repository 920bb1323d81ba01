package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ForgeLedger/internal/core"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// ProjectionWorker updates the read tables from core outputs. The
// projection channel drops on overflow; a gap is logged and the tables
// stay eventually consistent until the next Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	store     store
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	dialect persistence.Dialect,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		store:     store{dialect: dialect},
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap")
			}
			if err := pw.Apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output to the projection tables in a transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range output.Balances {
		if err := pw.store.upsertBalance(ctx, tx, b.Instrument, b.Account, b.Balance, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	for _, s := range output.Settlements {
		if err := pw.store.upsertSettlement(ctx, tx, s.Instrument, s.OperationType, s.Transaction, seq); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}
	for _, n := range output.Notifications {
		switch v := n.Notification.(type) {
		case event.InstrumentListed:
			err = pw.store.upsertInstrument(ctx, tx, n.Emitter, v.Name, v.ISIN, v.Address, true, seq)
		case event.InstrumentUnlisted:
			err = pw.store.upsertInstrument(ctx, tx, n.Emitter, v.Name, v.ISIN, v.Address, false, seq)
		}
		if err != nil {
			return fmt.Errorf("instrument projection: %w", err)
		}
	}

	if addr, ok := createdBond(output); ok {
		terms, ok, err := decodeTerms(output.Envelope.CommandKind, output.Envelope.Payload)
		if err != nil {
			return fmt.Errorf("terms projection: %w", err)
		}
		if ok {
			if err := pw.store.upsertTerms(ctx, tx, addr, terms, seq); err != nil {
				return fmt.Errorf("terms projection: %w", err)
			}
		}
	}

	if err := pw.store.setWatermark(ctx, tx, seq, time.Now().UTC()); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(WatermarkName).Observe(time.Since(start).Seconds())
	}
	return nil
}
