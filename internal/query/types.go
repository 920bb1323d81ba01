package query

import (
	"time"

	"ForgeLedger/internal/bond"

	"github.com/shopspring/decimal"
)

// SettlementResponse is one settlement transaction of an instrument.
type SettlementResponse struct {
	Instrument    string          `json:"instrument"`
	TxID          uint64          `json:"tx_id"`
	OperationID   uint64          `json:"operation_id"`
	OperationType string          `json:"operation_type"`
	Sender        string          `json:"delivery_sender_account_number"`
	Receiver      string          `json:"delivery_receiver_account_number"`
	Quantity      decimal.Decimal `json:"delivery_quantity"`
	Status        string          `json:"status"`
	TxHash        string          `json:"tx_hash"`
	LastSequence  int64           `json:"last_sequence"`
	AsOfSequence  int64           `json:"as_of_sequence"`
}

// InstrumentResponse is a registry record as last projected.
type InstrumentResponse struct {
	Address      string `json:"address"`
	Registry     string `json:"registry"`
	Name         string `json:"name"`
	ISIN         string `json:"isin"`
	Listed       bool   `json:"listed"`
	// Terms is nil for instruments not created by a factory of this ledger.
	Terms        *TermsView `json:"terms,omitempty"`
	LastSequence int64      `json:"last_sequence"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// TermsView is the economic terms of a bond with the figures derived from
// them.
type TermsView struct {
	Denomination            uint64          `json:"denomination"`
	Divisor                 uint64          `json:"divisor"`
	FaceValue               decimal.Decimal `json:"face_value"`
	InterestRateInBips      uint32          `json:"interest_rate_in_bips"`
	CouponFrequencyInMonths uint32          `json:"coupon_frequency_in_months"`
	CouponPerUnit           decimal.Decimal `json:"coupon_per_unit"`
	CouponSchedule          []time.Time     `json:"coupon_schedule,omitempty"`
	StartDate               time.Time       `json:"start_date"`
	MaturityDate            time.Time       `json:"maturity_date"`
	ExtendedMaturityDate    *time.Time      `json:"extended_maturity_date,omitempty"`
	Callable                bool            `json:"callable"`
}

func newTermsView(t bond.Terms, faceValue decimal.Decimal) *TermsView {
	v := &TermsView{
		Denomination:            t.Denomination,
		Divisor:                 t.Divisor,
		FaceValue:               faceValue,
		InterestRateInBips:      t.InterestRateInBips,
		CouponFrequencyInMonths: t.CouponFrequencyInMonths,
		CouponPerUnit:           t.CouponAmount(1),
		CouponSchedule:          t.CouponSchedule(),
		StartDate:               t.StartDate,
		MaturityDate:            t.MaturityDate(false),
		Callable:                t.Callable,
	}
	if t.IsSoftBullet {
		extended := t.MaturityDate(true)
		v.ExtendedMaturityDate = &extended
	}
	return v
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID   string          `json:"journal_id"`
	Sequence    int64           `json:"sequence"`
	Instrument  string          `json:"instrument"`
	JournalType string          `json:"journal_type"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// OperationEntry is one committed command of the operation log.
type OperationEntry struct {
	Sequence       int64     `json:"sequence"`
	CommandKind    string    `json:"command_kind"`
	IdempotencyKey string    `json:"idempotency_key"`
	Target         string    `json:"target"`
	Caller         string    `json:"caller"`
	Timestamp      time.Time `json:"timestamp"`
	StateHash      string    `json:"state_hash"`
	PrevHash       string    `json:"prev_hash"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	Operations         int64              `json:"operations"`
	HashChainBreaks    []int64            `json:"hash_chain_breaks,omitempty"`
	SequenceGaps       []int64            `json:"sequence_gaps,omitempty"`
	UnbalancedSupplies []UnbalancedSupply `json:"unbalanced_supplies,omitempty"`
	IsHealthy          bool               `json:"is_healthy"`
}

// UnbalancedSupply is an instrument whose projected balances do not add up
// to the quantity it issued.
type UnbalancedSupply struct {
	Instrument string          `json:"instrument"`
	Issued     decimal.Decimal `json:"issued"`
	Held       decimal.Decimal `json:"held"`
}
