package core

import (
	"fmt"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/sink"
)

// Genesis names the accounts that administer the platform contracts.
type Genesis struct {
	RegistryOwner    ledger.Address
	FactoryAdmin     ledger.Address
	FactoryRegistrar ledger.Address
}

// Deployment holds the addresses of the platform contracts.
type Deployment struct {
	EventSink ledger.Address `json:"event_sink"`
	Registry  ledger.Address `json:"registry"`
	Factory   ledger.Address `json:"factory"`
}

// GenesisDeployment returns the fixed addresses Deploy uses.
func GenesisDeployment() Deployment {
	return Deployment{
		EventSink: ledger.DeriveContractAddress("genesis/event-sink"),
		Registry:  ledger.DeriveContractAddress("genesis/registry"),
		Factory:   ledger.DeriveContractAddress("genesis/factory"),
	}
}

// Deploy binds the event sink, one registry and one bond factory, and
// authorizes the factory in the registry.
func Deploy(dir *directory.Directory, endpoint sink.Endpoint, g Genesis, catalogue *bond.Catalogue) (Deployment, error) {
	if g.RegistryOwner.IsZero() || g.FactoryAdmin.IsZero() || g.FactoryRegistrar.IsZero() {
		return Deployment{}, fmt.Errorf("genesis: registry owner, factory admin and factory registrar are required")
	}
	d := GenesisDeployment()

	if err := dir.Register(d.EventSink, endpoint); err != nil {
		return Deployment{}, fmt.Errorf("genesis: %w", err)
	}

	reg := registry.New(d.Registry, g.RegistryOwner, d.EventSink, dir)
	if err := dir.Register(d.Registry, reg); err != nil {
		return Deployment{}, fmt.Errorf("genesis: %w", err)
	}

	f := factory.New(factory.Params{
		Address:   d.Factory,
		Admin:     g.FactoryAdmin,
		Registrar: g.FactoryRegistrar,
		EventSink: d.EventSink,
		Catalogue: catalogue,
		Directory: dir,
	})
	if err := dir.Register(d.Factory, f); err != nil {
		return Deployment{}, fmt.Errorf("genesis: %w", err)
	}

	if err := reg.AuthorizeFactory(g.RegistryOwner, factory.Type, d.Factory); err != nil {
		return Deployment{}, fmt.Errorf("genesis: %w", err)
	}
	return d, nil
}
