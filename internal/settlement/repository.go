package settlement

import (
	"fmt"
	"sort"

	"ForgeLedger/internal/ledger"
)

// Transaction is one subscription / delivery-versus-payment cycle.
type Transaction struct {
	TxID                          uint64         `json:"tx_id"`
	OperationID                   uint64         `json:"operation_id"`
	DeliverySenderAccountNumber   ledger.Address `json:"delivery_sender_account_number"`
	DeliveryReceiverAccountNumber ledger.Address `json:"delivery_receiver_account_number"`
	DeliveryQuantity              uint64         `json:"delivery_quantity"`
	Status                        Status         `json:"status"`
	TxHash                        string         `json:"tx_hash"`
}

// Repository stores the settlement transactions of one instrument.
// Entries are never deleted.
type Repository struct {
	transactions   map[uint64]Transaction
	operationTypes map[uint64]OperationType
}

func NewRepository() *Repository {
	return &Repository{
		transactions:   make(map[uint64]Transaction),
		operationTypes: make(map[uint64]OperationType),
	}
}

// CheckNew fails when either id is already known. Nothing is written.
func (r *Repository) CheckNew(txID, operationID uint64) error {
	if _, ok := r.transactions[txID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateTransactionID, txID)
	}
	if _, ok := r.operationTypes[operationID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOperationID, operationID)
	}
	return nil
}

// Insert stores tx and records the operation type of its operation id.
func (r *Repository) Insert(tx Transaction, opType OperationType) error {
	if err := r.CheckNew(tx.TxID, tx.OperationID); err != nil {
		return err
	}
	if tx.DeliveryQuantity == 0 {
		return fmt.Errorf("%w: zero delivery quantity", ErrInvalidTransaction)
	}
	if tx.Status == 0 {
		return fmt.Errorf("%w: missing status", ErrInvalidTransaction)
	}

	r.transactions[tx.TxID] = tx
	r.operationTypes[tx.OperationID] = opType
	return nil
}

// Get returns the transaction stored under txID.
func (r *Repository) Get(txID uint64) (Transaction, error) {
	tx, ok := r.transactions[txID]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %d", ErrUnknownTransactionID, txID)
	}
	return tx, nil
}

// OperationType returns the type recorded for operationID.
func (r *Repository) OperationType(operationID uint64) (OperationType, bool) {
	t, ok := r.operationTypes[operationID]
	return t, ok
}

// Expect returns the transaction if it is currently in status want.
func (r *Repository) Expect(txID uint64, want Status) (Transaction, error) {
	tx, err := r.Get(txID)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != want {
		return Transaction{}, &TransitionError{TxID: txID, Current: tx.Status, Expected: want}
	}
	return tx, nil
}

// Advance moves the transaction from its current status to to.
// Only the single forward step is permitted.
func (r *Repository) Advance(txID uint64, to Status) (Transaction, error) {
	tx, err := r.Get(txID)
	if err != nil {
		return Transaction{}, err
	}

	next, ok := tx.Status.next()
	if !ok || next != to {
		return Transaction{}, &TransitionError{TxID: txID, Current: tx.Status, Expected: prev(to)}
	}

	tx.Status = to
	r.transactions[txID] = tx
	return tx, nil
}

func prev(s Status) Status {
	switch s {
	case StatusTokenLocked:
		return StatusCreated
	case StatusCashReceived:
		return StatusTokenLocked
	case StatusCashSent:
		return StatusCashReceived
	default:
		return 0
	}
}

// Transactions returns all transactions ordered by id.
func (r *Repository) Transactions() []Transaction {
	out := make([]Transaction, 0, len(r.transactions))
	for _, tx := range r.transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxID < out[j].TxID })
	return out
}

func (r *Repository) Len() int {
	return len(r.transactions)
}

// Clone returns an independent copy.
func (r *Repository) Clone() *Repository {
	c := &Repository{
		transactions:   make(map[uint64]Transaction, len(r.transactions)),
		operationTypes: make(map[uint64]OperationType, len(r.operationTypes)),
	}
	for k, v := range r.transactions {
		c.transactions[k] = v
	}
	for k, v := range r.operationTypes {
		c.operationTypes[k] = v
	}
	return c
}

// Snapshot is the persisted form of a repository.
type Snapshot struct {
	Transactions   []Transaction            `json:"transactions"`
	OperationTypes map[uint64]OperationType `json:"operation_types"`
}

func (r *Repository) Snapshot() Snapshot {
	ops := make(map[uint64]OperationType, len(r.operationTypes))
	for k, v := range r.operationTypes {
		ops[k] = v
	}
	return Snapshot{Transactions: r.Transactions(), OperationTypes: ops}
}

func (r *Repository) Restore(s Snapshot) {
	r.transactions = make(map[uint64]Transaction, len(s.Transactions))
	r.operationTypes = make(map[uint64]OperationType, len(s.OperationTypes))
	for _, tx := range s.Transactions {
		r.transactions[tx.TxID] = tx
	}
	for k, v := range s.OperationTypes {
		r.operationTypes[k] = v
	}
}
