package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeIssue JournalType = iota
	JournalTypeLock
	JournalTypeSettle
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeIssue:
		return "issue"
	case JournalTypeLock:
		return "lock"
	case JournalTypeSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Journal records one ledger movement.
// Issue credits To from nowhere, Lock reserves on From (From == To),
// Settle moves a locked quantity from From to To.
type Journal struct {
	JournalID   uuid.UUID   `json:"journal_id"`
	JournalType JournalType `json:"journal_type"`
	From        Address     `json:"from,omitempty"`
	To          Address     `json:"to"`
	Quantity    uint64      `json:"quantity"` // ALWAYS positive
}

// Batch groups the journals produced by one operation.
type Batch struct {
	BatchID  uuid.UUID
	EventRef string
	Journals []Journal
}

// NewBatch starts an empty batch for the operation identified by ref.
func NewBatch(ref string) *Batch {
	return &Batch{
		BatchID:  uuid.New(),
		EventRef: ref,
	}
}

// Add appends a journal to the batch.
func (b *Batch) Add(j Journal) {
	b.Journals = append(b.Journals, j)
}

// Validate ensures every entry of the batch is well-formed.
// An empty batch is valid: operator changes and final confirmations move no tokens.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Quantity == 0 {
			return fmt.Errorf("journal %s has zero quantity", j.JournalID)
		}

		switch j.JournalType {
		case JournalTypeIssue:
			if j.To.IsZero() {
				return fmt.Errorf("issue journal %s has no receiver", j.JournalID)
			}
		case JournalTypeLock:
			if j.From != j.To {
				return fmt.Errorf("lock journal %s spans two accounts", j.JournalID)
			}
		case JournalTypeSettle:
			if j.From == j.To {
				return fmt.Errorf("settle journal %s has same sender and receiver", j.JournalID)
			}
		default:
			return fmt.Errorf("journal %s has unknown type %d", j.JournalID, j.JournalType)
		}
	}

	return nil
}
