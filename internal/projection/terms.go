package projection

import (
	"fmt"

	"ForgeLedger/internal/bond"
	"ForgeLedger/internal/command"
	"ForgeLedger/internal/core"
	"ForgeLedger/internal/event"
	"ForgeLedger/internal/ledger"
)

// decodeTerms returns the bond terms carried by a logged create_instrument
// payload. ok is false for every other command kind.
func decodeTerms(kind string, payload []byte) (t bond.Terms, ok bool, err error) {
	if command.Kind(kind) != command.KindCreateInstrument {
		return bond.Terms{}, false, nil
	}
	cmd, err := command.Decode(command.KindCreateInstrument, payload)
	if err != nil {
		return bond.Terms{}, false, err
	}
	c, ok := cmd.(*command.CreateInstrument)
	if !ok {
		return bond.Terms{}, false, fmt.Errorf("unexpected %T for %s", cmd, kind)
	}
	return c.Request.Terms, true, nil
}

// createdBond finds the bond announced by an output's forgeBondCreated
// notification.
func createdBond(output core.CoreOutput) (ledger.Address, bool) {
	for _, n := range output.Notifications {
		if v, ok := n.Notification.(event.ForgeBondCreated); ok {
			return v.TokenAddress, true
		}
	}
	return "", false
}
