package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Address identifies an account or a contract (instrument, registry,
// factory, event sink). Accounts use the implicit "tz1" prefix, contracts
// allocated by the platform use "KT1".
type Address string

const (
	AccountPrefix  = "tz1"
	ContractPrefix = "KT1"
)

// NewContractAddress allocates a fresh contract address.
func NewContractAddress() Address {
	id := uuid.New()
	return Address(ContractPrefix + strings.ReplaceAll(id.String(), "-", ""))
}

// contractNamespace scopes derived contract addresses.
var contractNamespace = uuid.MustParse("6f1c2e0a-8d4b-5b7e-9a31-2c0f4e9d7b15")

// DeriveContractAddress returns the contract address for seed. The same
// seed always yields the same address, so replaying a log reproduces the
// addresses allocated the first time.
func DeriveContractAddress(seed string) Address {
	id := uuid.NewSHA1(contractNamespace, []byte(seed))
	return Address(ContractPrefix + strings.ReplaceAll(id.String(), "-", ""))
}

// ParseAddress validates the textual form of an address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) <= len(AccountPrefix) {
		return "", fmt.Errorf("address %q too short", s)
	}
	if !strings.HasPrefix(s, AccountPrefix) && !strings.HasPrefix(s, ContractPrefix) {
		return "", fmt.Errorf("address %q has unknown prefix", s)
	}
	return Address(s), nil
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsZero() bool {
	return a == ""
}

// IsContract reports whether the address was allocated for a contract.
func (a Address) IsContract() bool {
	return strings.HasPrefix(string(a), ContractPrefix)
}

// Balance is the per-account position of one instrument.
// Invariant: Locked <= Balance.
type Balance struct {
	Balance uint64 `json:"balance"`
	Locked  uint64 `json:"locked"`
}

// Disposable returns the part of the balance that is not locked.
func (b Balance) Disposable() uint64 {
	if b.Locked > b.Balance {
		return 0
	}
	return b.Balance - b.Locked
}
