package factory_test

import (
	"context"
	"testing"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/operator"
	"ForgeLedger/internal/registry"
	"ForgeLedger/internal/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin     = ledger.Address("tz1admin")
	registrar = ledger.Address("tz1registrar")
	settler   = ledger.Address("tz1settler")
	issuer    = ledger.Address("tz1issuer")
	regOwner  = ledger.Address("tz1regowner")
)

type fixture struct {
	dir      *directory.Directory
	rec      *sink.Recorder
	registry *registry.Registry
	regAddr  ledger.Address
	factory  *factory.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.New()
	rec := sink.NewRecorder("memory")
	sinkAddr := dir.Allocate(rec)

	regAddr := dir.Reserve()
	reg := registry.New(regAddr, regOwner, sinkAddr, dir)
	require.NoError(t, dir.Register(regAddr, reg))

	f := factory.New(factory.Params{
		Address:   dir.Reserve(),
		Admin:     admin,
		Registrar: registrar,
		EventSink: sinkAddr,
		Directory: dir,
	})
	require.NoError(t, dir.Register(f.Address(), f))
	require.NoError(t, reg.AuthorizeFactory(regOwner, factory.Type, f.Address()))

	return &fixture{dir: dir, rec: rec, registry: reg, regAddr: regAddr, factory: f}
}

func (fx *fixture) request() factory.CreateRequest {
	return factory.CreateRequest{
		Registry:      fx.regAddr,
		Owner:         issuer,
		Registrar:     registrar,
		Settler:       settler,
		InitialSupply: 1000,
		ISIN:          "FR0000000001",
		Name:          "Forge Bond 2027",
		Symbol:        "FB27",
		Currency:      "EUR",
		Terms: bond.Terms{
			Denomination:            100_000,
			Divisor:                 100,
			StartDate:               time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
			InitialMaturityDate:     time.Date(2027, time.January, 15, 0, 0, 0, 0, time.UTC),
			FirstCouponDate:         time.Date(2024, time.July, 15, 0, 0, 0, 0, time.UTC),
			CouponFrequencyInMonths: 6,
			InterestRateInBips:      350,
		},
	}
}

// ============================================================================
// Test: CreateInstrument
// ============================================================================

func TestCreateInstrument(t *testing.T) {
	fx := newFixture(t)

	created, err := fx.factory.CreateInstrument(context.Background(), registrar, fx.request())
	require.NoError(t, err)

	inst := created.Instrument
	bal, ok := inst.Balance(issuer)
	require.True(t, ok)
	assert.Equal(t, ledger.Balance{Balance: 1000, Locked: 0}, bal)
	assert.Equal(t, []operator.Role{operator.RoleRegistrar}, inst.Roles(registrar))
	assert.Equal(t, []operator.Role{operator.RoleSettler}, inst.Roles(settler))
	assert.Equal(t, ledger.JournalTypeIssue, created.Issue.JournalType)

	listed, ok := fx.registry.ByISIN("FR0000000001")
	require.True(t, ok)
	assert.Equal(t, inst.Address(), listed.Address)

	got, err := directory.Resolve[*bond.Instrument](fx.dir, inst.Address(), "instrument", directory.ErrBadInstrumentAddress)
	require.NoError(t, err)
	assert.Same(t, inst, got)

	require.Len(t, created.Deliveries, 2)
	assert.Equal(t, event.KindInstrumentListed, created.Deliveries[0].Outgoing.Notification.Kind())
	bondCreated, ok := created.Deliveries[1].Outgoing.Notification.(event.ForgeBondCreated)
	require.True(t, ok)
	assert.Equal(t, inst.Address(), bondCreated.TokenAddress)
	assert.Equal(t, "FB27", bondCreated.TokenMetadata.Symbol)
	assert.Equal(t, uint64(1000), bondCreated.TokenMetadata.InitialSupply)
	assert.Equal(t, fx.factory.Address(), created.Deliveries[1].Outgoing.Emitter)
}

func TestCreateInstrument_RegistrarChecks(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.factory.CreateInstrument(context.Background(), issuer, fx.request())
	assert.ErrorIs(t, err, factory.ErrNotFactoryRegistrar)
	assert.Equal(t, bond.CategoryAuthorization, bond.Classify(err))

	req := fx.request()
	req.Registrar = settler
	_, err = fx.factory.CreateInstrument(context.Background(), registrar, req)
	assert.ErrorIs(t, err, factory.ErrNotBondRegistrar)

	assert.Empty(t, fx.registry.Instruments())
}

func TestCreateInstrument_BadRegistry(t *testing.T) {
	fx := newFixture(t)
	addresses := len(fx.dir.Addresses())

	req := fx.request()
	req.Registry = fx.factory.Address()
	_, err := fx.factory.CreateInstrument(context.Background(), registrar, req)
	assert.ErrorIs(t, err, directory.ErrBadRegistryAddress)
	assert.Equal(t, bond.CategoryDownstream, bond.Classify(err))
	assert.Len(t, fx.dir.Addresses(), addresses)
}

func TestCreateInstrument_DuplicateListingRegistersNothing(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.factory.CreateInstrument(context.Background(), registrar, fx.request())
	require.NoError(t, err)
	addresses := len(fx.dir.Addresses())

	req := fx.request()
	req.Name = "Other name"
	_, err = fx.factory.CreateInstrument(context.Background(), registrar, req)
	assert.ErrorIs(t, err, registry.ErrISINAlreadyListed)
	assert.Len(t, fx.dir.Addresses(), addresses, "a failed listing must not leave a deployed instrument")
}

func TestCreateInstrument_UnauthorizedFactory(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.registry.UnAuthorizeFactory(regOwner, fx.factory.Address()))

	_, err := fx.factory.CreateInstrument(context.Background(), registrar, fx.request())
	assert.ErrorIs(t, err, registry.ErrUnauthorizedFactory)
}

// ============================================================================
// Test: Upgrade
// ============================================================================

func TestUpgrade_AdminOnly(t *testing.T) {
	fx := newFixture(t)
	refs := map[bond.Entrypoint]bond.ScriptRef{
		bond.EntrypointAuthorizeOperator: {Name: "authorizeOperator", Version: 2},
	}

	err := fx.factory.Upgrade(registrar, refs)
	assert.ErrorIs(t, err, factory.ErrNotFactoryAdmin)
	assert.Equal(t, uint32(1), fx.factory.Scripts()[bond.EntrypointAuthorizeOperator].Version)

	require.NoError(t, fx.factory.Upgrade(admin, refs))
	assert.Equal(t, uint32(2), fx.factory.Scripts()[bond.EntrypointAuthorizeOperator].Version)

	created, err := fx.factory.CreateInstrument(context.Background(), registrar, fx.request())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), created.Instrument.Scripts()[bond.EntrypointAuthorizeOperator].Version)
}

func TestSnapshotRestore(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.factory.Upgrade(admin, map[bond.Entrypoint]bond.ScriptRef{
		bond.EntrypointRevokeOperatorAuthorization: {Name: "revokeOperatorAuthorization", Version: 2},
	}))

	restored, err := factory.Restore(fx.factory.Snapshot(), nil, fx.dir)
	require.NoError(t, err)
	assert.Equal(t, fx.factory.Snapshot(), restored.Snapshot())
}
