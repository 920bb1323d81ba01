package testutil

import (
	"fmt"
	"time"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/factory"
	"ForgeLedger/internal/ledger"

	"github.com/google/uuid"
)

const (
	RegistryOwner = ledger.Address("tz1regowner")
	Admin         = ledger.Address("tz1admin")
	Registrar     = ledger.Address("tz1registrar")
	Settler       = ledger.Address("tz1settler")
	Issuer        = ledger.Address("tz1issuer")
	Investor      = ledger.Address("tz1investor")
)

var Genesis = core.Genesis{RegistryOwner: RegistryOwner, FactoryAdmin: Admin, FactoryRegistrar: Registrar}

// At is the versioned timestamp of the n-th fixture command.
func At(n int) time.Time {
	return time.Date(2024, time.March, 1, 9, 0, n, 0, time.UTC)
}

// Header returns a deterministic command header.
func Header(id int, caller ledger.Address) command.Header {
	return command.Header{
		CommandID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("fixture-%d", id))).String(),
		From:      caller,
		At:        At(id),
	}
}

// CreateBond issues 1000 units of a 3.5% bond to Issuer through the
// genesis factory.
func CreateBond(d core.Deployment) *command.CreateInstrument {
	return &command.CreateInstrument{
		Header:  Header(1, Registrar),
		Factory: d.Factory,
		Request: factory.CreateRequest{
			Registry:      d.Registry,
			Owner:         Issuer,
			Registrar:     Registrar,
			Settler:       Settler,
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
		},
	}
}

// Subscription returns the three commands settling a 200 unit
// subscription from Issuer to Investor on inst.
func Subscription(inst ledger.Address) []command.Command {
	return []command.Command{
		&command.InitiateSubscription{
			Header:     Header(2, Registrar),
			Instrument: inst,
			Request: bond.SubscriptionRequest{
				TxID: 1, OperationID: 1, Sender: Issuer, Receiver: Investor, Quantity: 200, TxHash: "0xabc",
			},
		},
		&command.ConfirmPaymentReceived{Header: Header(3, Settler), Instrument: inst, TxID: 1},
		&command.ConfirmPaymentTransferred{Header: Header(4, Settler), Instrument: inst, TxID: 1},
	}
}
