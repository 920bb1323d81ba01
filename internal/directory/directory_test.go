package directory_test

import (
	"errors"
	"testing"

	"ForgeLedger/internal/directory"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
	"ForgeLedger/internal/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ name string }

func TestAllocate_ContractAddress(t *testing.T) {
	d := directory.New()
	a := d.Allocate(&widget{"a"})
	b := d.Allocate(&widget{"b"})

	assert.NotEqual(t, a, b)
	assert.True(t, a.IsContract())
	assert.Equal(t, []ledger.Address{min(a, b), max(a, b)}, d.Addresses())
}

func TestRegister_Duplicate(t *testing.T) {
	d := directory.New()
	require.NoError(t, d.Register("KT1fixed", &widget{}))
	assert.ErrorIs(t, d.Register("KT1fixed", &widget{}), directory.ErrAddressAlreadyAllocated)
}

func TestResolve_Typed(t *testing.T) {
	d := directory.New()
	w := &widget{"w"}
	addr := d.Allocate(w)

	got, err := directory.Resolve[*widget](d, addr, "widget", directory.ErrBadFactoryAddress)
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = directory.Resolve[*sink.Recorder](d, addr, "recorder", directory.ErrBadRegistryAddress)
	assert.ErrorIs(t, err, directory.ErrBadRegistryAddress)

	_, err = directory.Resolve[*widget](d, "KT1missing", "widget", directory.ErrBadFactoryAddress)
	var ae *directory.AddressError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, ledger.Address("KT1missing"), ae.Address)
}

func TestResolveEventSink(t *testing.T) {
	d := directory.New()
	rec := sink.NewRecorder("memory", event.KindTransfer)
	sinkAddr := d.Allocate(rec)
	other := d.Allocate(&widget{})

	ep, err := d.ResolveEventSink(sinkAddr, event.KindTransfer)
	require.NoError(t, err)
	assert.Equal(t, "memory", ep.Name())

	_, err = d.ResolveEventSink(sinkAddr, event.KindPaymentReceived)
	assert.ErrorIs(t, err, directory.ErrBadEventSinkAddress)

	_, err = d.ResolveEventSink(other, event.KindTransfer)
	assert.ErrorIs(t, err, directory.ErrBadEventSinkAddress)

	_, err = d.ResolveEventSink("KT1nowhere", event.KindTransfer)
	assert.ErrorIs(t, err, directory.ErrBadEventSinkAddress)
}
