package bond

import (
	"fmt"

	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/settlement"
	"ForgeLedger/internal/sink"
)

// Snapshot is the persisted state of one instrument.
type Snapshot struct {
	Address     ledger.Address                     `json:"address"`
	Metadata    Metadata                           `json:"metadata"`
	Balances    map[ledger.Address]ledger.Balance  `json:"balances"`
	Operators   map[ledger.Address][]operator.Role `json:"operators"`
	Settlements settlement.Snapshot                `json:"settlements"`
	Scripts     map[Entrypoint]string              `json:"scripts"`
}

func (i *Instrument) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()

	scripts := make(map[Entrypoint]string, len(i.scripts))
	for ep, ref := range i.scripts.Refs() {
		scripts[ep] = ref.String()
	}

	return Snapshot{
		Address:     i.address,
		Metadata:    i.meta,
		Balances:    i.state.Balances.Snapshot(),
		Operators:   i.state.Operators.Snapshot(),
		Settlements: i.state.Settlements.Snapshot(),
		Scripts:     scripts,
	}
}

// Restore rebuilds an instrument from a snapshot. Script references must
// exist in catalogue.
func Restore(s Snapshot, catalogue *Catalogue, sinks sink.Resolver) (*Instrument, error) {
	if catalogue == nil {
		catalogue = DefaultCatalogue()
	}

	refs := make(map[Entrypoint]ScriptRef, len(s.Scripts))
	for ep, raw := range s.Scripts {
		ref, err := ParseScriptRef(raw)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", s.Address, err)
		}
		refs[ep] = ref
	}
	update, err := catalogue.Resolve(refs)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", s.Address, err)
	}

	balances := ledger.NewBalanceTracker()
	balances.Restore(s.Balances)
	operators := operator.NewAuthorizations()
	operators.Restore(s.Operators)
	repo := settlement.NewRepository()
	repo.Restore(s.Settlements)

	return &Instrument{
		address: s.Address,
		meta:    s.Metadata,
		state: &State{
			Owner:       s.Metadata.Owner,
			Balances:    balances,
			Operators:   operators,
			Settlements: repo,
		},
		scripts:   DefaultTable().With(update),
		catalogue: catalogue,
		sinks:     sinks,
	}, nil
}
