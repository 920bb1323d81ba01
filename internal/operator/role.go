package operator

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Role is an operator capability on one instrument.
type Role uint8

const (
	RoleRegistrar Role = 1
	RoleSettler   Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleRegistrar:
		return "Registrar"
	case RoleSettler:
		return "Settler"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleRegistrar || r == RoleSettler
}

// ParseRole accepts the role name or its numeric tag.
func ParseRole(s string) (Role, error) {
	switch s {
	case "Registrar", "registrar", "REGISTRAR", "1":
		return RoleRegistrar, nil
	case "Settler", "settler", "SETTLER", "2":
		return RoleSettler, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// UnmarshalJSON accepts the numeric tag or a quoted role name.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	role, err := ParseRole(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	*r = role
	return nil
}

// MarshalJSON writes the numeric tag. Without it a []Role would encode as
// a base64 byte string.
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(r), 10)), nil
}
