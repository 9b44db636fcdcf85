package accounts

import (
	"fmt"
	"strings"

	"juryledger/crypto"
)

// Role is the single, immutable capability assigned to an account at
// registration.
type Role uint8

const (
	RoleNone Role = iota
	RoleRequester
	RoleProvider
	RoleJuror
)

// Valid reports whether the role can be registered.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleProvider, RoleJuror:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleProvider:
		return "provider"
	case RoleJuror:
		return "juror"
	default:
		return "none"
	}
}

// ParseRole converts a case-insensitive role name.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "requester":
		return RoleRequester, nil
	case "provider":
		return RoleProvider, nil
	case "juror":
		return RoleJuror, nil
	case "", "none":
		return RoleNone, nil
	default:
		return RoleNone, fmt.Errorf("accounts: unknown role %q", raw)
	}
}

// Account is the registry record for a caller.
type Account struct {
	Address      crypto.Address
	Role         Role
	Registered   bool
	RegisteredAt int64
}

type storedAccount struct {
	Role         uint8
	Registered   bool
	RegisteredAt uint64
}

func (s storedAccount) toAccount(addr crypto.Address) *Account {
	return &Account{
		Address:      addr,
		Role:         Role(s.Role),
		Registered:   s.Registered,
		RegisteredAt: int64(s.RegisteredAt),
	}
}
