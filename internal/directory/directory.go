package directory

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
	ErrBadEventSinkAddress     = errors.New("bad event sink contract address")
	ErrBadRegistryAddress      = errors.New("bad instrument registry address")
	ErrBadFactoryAddress       = errors.New("bad factory contract address")
	ErrBadInstrumentAddress    = errors.New("bad instrument contract address")
	ErrAddressAlreadyAllocated = errors.New("address already allocated")
)

// AddressError reports an address that does not resolve to the expected
// capability.
type AddressError struct {
	Address    ledger.Address
	Capability string
	Reason     string
	Err        error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%v: %s is not a %s (%s)", e.Err, e.Address, e.Capability, e.Reason)
}

func (e *AddressError) Unwrap() error {
	return e.Err
}

// Directory maps contract addresses to the components deployed there.
// Safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[ledger.Address]any
}

func New() *Directory {
	return &Directory{
		entries: make(map[ledger.Address]any),
	}
}

// Register binds addr to c.
func (d *Directory) Register(addr ledger.Address, c any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressAlreadyAllocated, addr)
	}
	d.entries[addr] = c
	return nil
}

// Allocate binds c to a fresh contract address.
func (d *Directory) Allocate(c any) ledger.Address {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		addr := ledger.NewContractAddress()
		if _, ok := d.entries[addr]; ok {
			continue
		}
		d.entries[addr] = c
		return addr
	}
}

// Reserve returns a fresh contract address without binding it.
func (d *Directory) Reserve() ledger.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for {
		addr := ledger.NewContractAddress()
		if _, ok := d.entries[addr]; !ok {
			return addr
		}
	}
}

// Lookup returns whatever is deployed at addr.
func (d *Directory) Lookup(addr ledger.Address) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.entries[addr]
	return c, ok
}

// Addresses returns every bound address, sorted.
func (d *Directory) Addresses() []ledger.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ledger.Address, 0, len(d.entries))
	for a := range d.entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the component of type T deployed at addr, or an
// AddressError wrapping sentinel.
func Resolve[T any](d *Directory, addr ledger.Address, capability string, sentinel error) (T, error) {
	var zero T

	c, ok := d.Lookup(addr)
	if !ok {
		return zero, &AddressError{Address: addr, Capability: capability, Reason: "address not allocated", Err: sentinel}
	}

	t, ok := c.(T)
	if !ok {
		return zero, &AddressError{Address: addr, Capability: capability, Reason: fmt.Sprintf("deployed %T", c), Err: sentinel}
	}
	return t, nil
}

// ResolveEventSink returns the endpoint at addr when it accepts kind.
func (d *Directory) ResolveEventSink(addr ledger.Address, kind event.Kind) (sink.Endpoint, error) {
	ep, err := Resolve[sink.Endpoint](d, addr, "event sink", ErrBadEventSinkAddress)
	if err != nil {
		return nil, err
	}
	if !ep.Accepts(kind) {
		return nil, &AddressError{
			Address:    addr,
			Capability: "event sink",
			Reason:     fmt.Sprintf("no %s entrypoint", kind),
			Err:        ErrBadEventSinkAddress,
		}
	}
	return ep, nil
}
