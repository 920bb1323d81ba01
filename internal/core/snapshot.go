package core

import (
	"fmt"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/sink"
)

// SnapshotState is the full in-memory state of the engine.
type SnapshotState struct {
	Sequence        int64               `json:"sequence"` // last applied sequence, -1 before the first command
	StateHash       [32]byte            `json:"state_hash"`
	EventSinks      []ledger.Address    `json:"event_sinks"`
	Registries      []registry.Snapshot `json:"registries"`
	Factories       []factory.Snapshot  `json:"factories"`
	Instruments     []bond.Snapshot     `json:"instruments"`
	IdempotencyKeys []string            `json:"idempotency_keys"`
}

// CreateSnapshotState captures every contract in the directory.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.Tip(),
		IdempotencyKeys: e.idempotency.lru.Keys(),
	}

	for _, addr := range e.dir.Addresses() {
		c, _ := e.dir.Lookup(addr)
		switch v := c.(type) {
		case *bond.Instrument:
			snap.Instruments = append(snap.Instruments, v.Snapshot())
		case *registry.Registry:
			snap.Registries = append(snap.Registries, v.Snapshot())
		case *factory.Factory:
			snap.Factories = append(snap.Factories, v.Snapshot())
		case sink.Endpoint:
			snap.EventSinks = append(snap.EventSinks, addr)
		}
	}
	return snap
}

// RestoreFromSnapshot rebuilds the directory content from snap. Event
// sinks are runtime endpoints: every sink address is bound to endpoint.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState, endpoint sink.Endpoint, catalogue *bond.Catalogue) error {
	for _, addr := range snap.EventSinks {
		if err := e.dir.Register(addr, endpoint); err != nil {
			return fmt.Errorf("restore sink: %w", err)
		}
	}
	for _, rs := range snap.Registries {
		if err := e.dir.Register(rs.Address, registry.Restore(rs, e.dir)); err != nil {
			return fmt.Errorf("restore registry: %w", err)
		}
	}
	for _, fs := range snap.Factories {
		f, err := factory.Restore(fs, catalogue, e.dir)
		if err != nil {
			return err
		}
		if err := e.dir.Register(fs.Address, f); err != nil {
			return fmt.Errorf("restore factory: %w", err)
		}
	}
	for _, is := range snap.Instruments {
		inst, err := bond.Restore(is, catalogue, e.dir)
		if err != nil {
			return err
		}
		if err := e.dir.Register(is.Address, inst); err != nil {
			return fmt.Errorf("restore instrument: %w", err)
		}
	}

	e.sequence = snap.Sequence + 1
	e.hasher.Reset(snap.StateHash)
	e.idempotency.lru.Warm(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recently applied composite keys into the dedup cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.Warm(keys)
}
