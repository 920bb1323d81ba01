package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceResponse is the projected holding of one account in one
// instrument.
type BalanceResponse struct {
	Instrument string `json:"instrument"`
	Account    string `json:"account"`

	Balance    decimal.Decimal `json:"balance"`
	Locked     decimal.Decimal `json:"locked"`     // reserved by pending settlements
	Disposable decimal.Decimal `json:"disposable"` // balance - locked

	LastSequence int64 `json:"last_sequence"`
	AsOfSequence int64 `json:"as_of_sequence"` // projection watermark
}

// GetBalance returns the balance of account in instrument. An account the
// instrument never touched has a zero balance, not an error.
func (qs *QueryService) GetBalance(ctx context.Context, instrument, account string) (resp *BalanceResponse, err error) {
	defer qs.observe("get_balance")(&err)

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp = &BalanceResponse{Instrument: instrument, Account: account, AsOfSequence: asOf}
	err = qs.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT balance, locked, last_sequence FROM %s
		WHERE instrument = $1 AND account = $2
	`, qs.table("balances")), instrument, account).Scan(&resp.Balance, &resp.Locked, &resp.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		resp.LastSequence = -1
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.Disposable = disposable(resp.Balance, resp.Locked)
	return resp, nil
}

// ListBalances returns every holder of instrument.
func (qs *QueryService) ListBalances(ctx context.Context, instrument string) (out []BalanceResponse, err error) {
	defer qs.observe("list_balances")(&err)

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT account, balance, locked, last_sequence FROM %s
		WHERE instrument = $1
		ORDER BY account
	`, qs.table("balances")), instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		b := BalanceResponse{Instrument: instrument, AsOfSequence: asOf}
		if err := rows.Scan(&b.Account, &b.Balance, &b.Locked, &b.LastSequence); err != nil {
			return nil, err
		}
		b.Disposable = disposable(b.Balance, b.Locked)
		out = append(out, b)
	}
	return out, rows.Err()
}

func disposable(balance, locked decimal.Decimal) decimal.Decimal {
	if locked.GreaterThan(balance) {
		return decimal.Zero
	}
	return balance.Sub(locked)
}
