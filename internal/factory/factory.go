package factory

import (
	"context"
	"fmt"
	"sync"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/observability"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/sink"

	"go.opentelemetry.io/otel/attribute"
)

// Type is the registry factory type bonds are authorized under.
const Type = "bond"

var tracer = observability.Tracer("factory")

// CreateRequest carries everything a new bond is created from.
type CreateRequest struct {
	Registry      ledger.Address `json:"registry_address"`
	Owner         ledger.Address `json:"owner"`
	Registrar     ledger.Address `json:"registrar"`
	Settler       ledger.Address `json:"settler"`
	InitialSupply uint64         `json:"initial_supply"`
	ISIN          string         `json:"isin_code"`
	Name          string         `json:"name"`
	Symbol        string         `json:"symbol"`
	Currency      string         `json:"currency"`
	Terms         bond.Terms     `json:"terms"`
}

// Created is the outcome of a successful CreateInstrument.
type Created struct {
	Instrument *bond.Instrument
	Issue      ledger.Journal
	Deliveries []sink.Delivery
}

// Factory deploys bonds, lists them in a registry and binds them in the
// directory. New bonds get a copy of the factory script table.
type Factory struct {
	mu sync.Mutex

	address   ledger.Address
	admin     ledger.Address
	registrar ledger.Address
	eventSink ledger.Address

	// nonce counts created bonds; it seeds the next bond address.
	nonce uint64

	scripts   bond.Table
	catalogue *bond.Catalogue
	dir       *directory.Directory
}

type Params struct {
	Address   ledger.Address
	Admin     ledger.Address
	Registrar ledger.Address
	EventSink ledger.Address
	Catalogue *bond.Catalogue
	Directory *directory.Directory
}

func New(p Params) *Factory {
	if p.Catalogue == nil {
		p.Catalogue = bond.DefaultCatalogue()
	}
	return &Factory{
		address:   p.Address,
		admin:     p.Admin,
		registrar: p.Registrar,
		eventSink: p.EventSink,
		scripts:   bond.DefaultTable(),
		catalogue: p.Catalogue,
		dir:       p.Directory,
	}
}

func (f *Factory) Address() ledger.Address {
	return f.address
}

// CreateInstrument deploys a bond. Nothing is registered unless the bond
// is listed and every notification resolves.
func (f *Factory) CreateInstrument(ctx context.Context, caller ledger.Address, req CreateRequest) (*Created, error) {
	_, span := tracer.Start(ctx, "factory.CreateInstrument")
	defer span.End()
	span.SetAttributes(attribute.String("isin", req.ISIN), attribute.String("registry", req.Registry.String()))

	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.registrar {
		return nil, fmt.Errorf("%w: %s", ErrNotFactoryRegistrar, caller)
	}
	if caller != req.Registrar {
		return nil, fmt.Errorf("%w: %s", ErrNotBondRegistrar, caller)
	}

	reg, err := directory.Resolve[*registry.Registry](f.dir, req.Registry, "instrument registry", directory.ErrBadRegistryAddress)
	if err != nil {
		return nil, err
	}

	addr := ledger.DeriveContractAddress(fmt.Sprintf("%s/%d", f.address, f.nonce))
	inst, issue, err := bond.New(bond.Params{
		Address: addr,
		Metadata: bond.Metadata{
			Name:          req.Name,
			Symbol:        req.Symbol,
			ISIN:          req.ISIN,
			Currency:      req.Currency,
			Owner:         req.Owner,
			InitialSupply: req.InitialSupply,
			Terms:         req.Terms,
			EventSink:     f.eventSink,
		},
		Registrar: req.Registrar,
		Settler:   req.Settler,
		Scripts:   f.scripts,
		Catalogue: f.catalogue,
		Sinks:     f.dir,
	})
	if err != nil {
		return nil, err
	}

	created := sink.NewOutbox(f.dir)
	if err := created.Stage(f.eventSink, f.address, event.ForgeBondCreated{
		Owner:        req.Owner,
		Registrar:    req.Registrar,
		Settler:      req.Settler,
		TokenAddress: addr,
		TokenMetadata: event.TokenMetadata{
			Name:          req.Name,
			Symbol:        req.Symbol,
			InitialSupply: req.InitialSupply,
			ISINCode:      req.ISIN,
			Currency:      req.Currency,
		},
	}); err != nil {
		return nil, err
	}

	listed, err := reg.ListInstrument(f.address, registry.Instrument{Name: req.Name, ISIN: req.ISIN, Address: addr})
	if err != nil {
		return nil, err
	}

	if err := f.dir.Register(addr, inst); err != nil {
		panic(fmt.Sprintf("FATAL: factory %s: %v", f.address, err))
	}
	f.nonce++

	out := sink.NewOutbox(f.dir)
	out.Merge(listed)
	out.Merge(created.Deliveries())

	return &Created{Instrument: inst, Issue: issue, Deliveries: out.Deliveries()}, nil
}

// Upgrade rebinds entrypoints of the script table copied into future
// bonds. Already deployed bonds keep their own table.
func (f *Factory) Upgrade(caller ledger.Address, refs map[bond.Entrypoint]bond.ScriptRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.admin {
		return fmt.Errorf("%w: %s", ErrNotFactoryAdmin, caller)
	}
	update, err := f.catalogue.Resolve(refs)
	if err != nil {
		return err
	}
	f.scripts = f.scripts.With(update)
	return nil
}

// Scripts returns the references new bonds will be created with.
func (f *Factory) Scripts() map[bond.Entrypoint]bond.ScriptRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scripts.Refs()
}

// Snapshot is the persisted state of a factory.
type Snapshot struct {
	Address   ledger.Address             `json:"address"`
	Admin     ledger.Address             `json:"admin"`
	Registrar ledger.Address             `json:"registrar"`
	EventSink ledger.Address             `json:"event_sink"`
	Nonce     uint64                     `json:"nonce"`
	Scripts   map[bond.Entrypoint]string `json:"scripts"`
}

func (f *Factory) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	scripts := make(map[bond.Entrypoint]string, len(f.scripts))
	for ep, ref := range f.scripts.Refs() {
		scripts[ep] = ref.String()
	}
	return Snapshot{
		Address:   f.address,
		Admin:     f.admin,
		Registrar: f.registrar,
		EventSink: f.eventSink,
		Nonce:     f.nonce,
		Scripts:   scripts,
	}
}

// Restore rebuilds a factory from a snapshot.
func Restore(s Snapshot, catalogue *bond.Catalogue, dir *directory.Directory) (*Factory, error) {
	f := New(Params{
		Address:   s.Address,
		Admin:     s.Admin,
		Registrar: s.Registrar,
		EventSink: s.EventSink,
		Catalogue: catalogue,
		Directory: dir,
	})

	refs := make(map[bond.Entrypoint]bond.ScriptRef, len(s.Scripts))
	for ep, raw := range s.Scripts {
		ref, err := bond.ParseScriptRef(raw)
		if err != nil {
			return nil, fmt.Errorf("restore factory %s: %w", s.Address, err)
		}
		refs[ep] = ref
	}
	update, err := f.catalogue.Resolve(refs)
	if err != nil {
		return nil, fmt.Errorf("restore factory %s: %w", s.Address, err)
	}
	f.scripts = f.scripts.With(update)
	f.nonce = s.Nonce
	return f, nil
}
