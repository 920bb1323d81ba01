package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/sink"
)

var (
	ErrUnauthorizedFactory = errors.New("sender is not an authorized factory")
	ErrNotRegistryOwner    = errors.New("sender is not the registry owner")
	ErrNameAlreadyListed   = errors.New("token with this name already exists")
	ErrISINAlreadyListed   = errors.New("token with this isin already exists")
	ErrISINNotListed       = errors.New("no token with this isin exists")
	ErrInvalidInstrument   = errors.New("invalid instrument record")
)

// Instrument is the record the registry keeps for a listed instrument.
type Instrument struct {
	Name    string         `json:"name"`
	ISIN    string         `json:"isin"`
	Address ledger.Address `json:"address"`
}

// Registry is the directory of listed instruments. Name and ISIN are each
// unique and both indexes always hold the same instruments.
// Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	address   ledger.Address
	owner     ledger.Address
	eventSink ledger.Address
	sinks     sink.Resolver

	byISIN    map[string]Instrument
	byName    map[string]Instrument
	factories map[string]ledger.Address
}

func New(address, owner, eventSink ledger.Address, sinks sink.Resolver) *Registry {
	return &Registry{
		address:   address,
		owner:     owner,
		eventSink: eventSink,
		sinks:     sinks,
		byISIN:    make(map[string]Instrument),
		byName:    make(map[string]Instrument),
		factories: make(map[string]ledger.Address),
	}
}

func (r *Registry) Address() ledger.Address {
	return r.address
}

func (r *Registry) Owner() ledger.Address {
	return r.owner
}

func (r *Registry) isAuthorizedFactory(addr ledger.Address) bool {
	for _, f := range r.factories {
		if f == addr {
			return true
		}
	}
	return false
}

// ListInstrument adds inst to both indexes. The caller must be an
// authorized factory.
func (r *Registry) ListInstrument(caller ledger.Address, inst Instrument) ([]sink.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isAuthorizedFactory(caller) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedFactory, caller)
	}
	if inst.Name == "" || inst.ISIN == "" || inst.Address.IsZero() {
		return nil, fmt.Errorf("%w: name, isin and address are required", ErrInvalidInstrument)
	}
	if _, ok := r.byName[inst.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNameAlreadyListed, inst.Name)
	}
	if _, ok := r.byISIN[inst.ISIN]; ok {
		return nil, fmt.Errorf("%w: %s", ErrISINAlreadyListed, inst.ISIN)
	}

	out := sink.NewOutbox(r.sinks)
	if err := out.Stage(r.eventSink, r.address, event.InstrumentListed(toEvent(inst))); err != nil {
		return nil, err
	}

	r.byISIN[inst.ISIN] = inst
	r.byName[inst.Name] = inst
	return out.Deliveries(), nil
}

// UnlistInstrument removes the instrument listed under isin from both
// indexes. The caller must be an authorized factory.
func (r *Registry) UnlistInstrument(caller ledger.Address, isin string) ([]sink.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isAuthorizedFactory(caller) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedFactory, caller)
	}
	inst, ok := r.byISIN[isin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrISINNotListed, isin)
	}

	out := sink.NewOutbox(r.sinks)
	if err := out.Stage(r.eventSink, r.address, event.InstrumentUnlisted(toEvent(inst))); err != nil {
		return nil, err
	}

	delete(r.byName, inst.Name)
	delete(r.byISIN, isin)
	return out.Deliveries(), nil
}

// AuthorizeFactory binds factoryType to addr, replacing any previous
// address for that type.
func (r *Registry) AuthorizeFactory(caller ledger.Address, factoryType string, addr ledger.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s", ErrNotRegistryOwner, caller)
	}
	if factoryType == "" || addr.IsZero() {
		return fmt.Errorf("%w: factory type and address are required", ErrInvalidInstrument)
	}
	r.factories[factoryType] = addr
	return nil
}

// UnAuthorizeFactory removes every factory type bound to addr. Removing an
// address that is not authorized is a no-op.
func (r *Registry) UnAuthorizeFactory(caller ledger.Address, addr ledger.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return fmt.Errorf("%w: %s", ErrNotRegistryOwner, caller)
	}
	for t, f := range r.factories {
		if f == addr {
			delete(r.factories, t)
		}
	}
	return nil
}

// --- lookups ---

func (r *Registry) ByISIN(isin string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byISIN[isin]
	return inst, ok
}

func (r *Registry) ByName(name string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byName[name]
	return inst, ok
}

// Instruments returns every listed instrument ordered by ISIN.
func (r *Registry) Instruments() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instruments()
}

func (r *Registry) instruments() []Instrument {
	out := make([]Instrument, 0, len(r.byISIN))
	for _, inst := range r.byISIN {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISIN < out[j].ISIN })
	return out
}

// Factories returns a copy of the factory authorization map.
func (r *Registry) Factories() map[string]ledger.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factoryMap()
}

func (r *Registry) factoryMap() map[string]ledger.Address {
	out := make(map[string]ledger.Address, len(r.factories))
	for k, v := range r.factories {
		out[k] = v
	}
	return out
}

func toEvent(inst Instrument) event.Instrument {
	return event.Instrument{Name: inst.Name, ISIN: inst.ISIN, Address: inst.Address}
}

// Snapshot is the persisted state of a registry.
type Snapshot struct {
	Address     ledger.Address            `json:"address"`
	Owner       ledger.Address            `json:"owner"`
	EventSink   ledger.Address            `json:"event_sink"`
	Instruments []Instrument              `json:"instruments"`
	Factories   map[string]ledger.Address `json:"factories"`
}

// Snapshot copies the registry under one read lock.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Address:     r.address,
		Owner:       r.owner,
		EventSink:   r.eventSink,
		Instruments: r.instruments(),
		Factories:   r.factoryMap(),
	}
}

// Restore rebuilds a registry from a snapshot.
func Restore(s Snapshot, sinks sink.Resolver) *Registry {
	r := New(s.Address, s.Owner, s.EventSink, sinks)
	for _, inst := range s.Instruments {
		r.byISIN[inst.ISIN] = inst
		r.byName[inst.Name] = inst
	}
	for k, v := range s.Factories {
		r.factories[k] = v
	}
	return r
}
