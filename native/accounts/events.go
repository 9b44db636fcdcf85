package accounts

import (
	"strconv"

	"juryledger/core/types"
)

const EventTypeUserRegistered = "account.registered"

// NewRegisteredEvent returns the payload emitted when a caller registers.
func NewRegisteredEvent(acc *Account) *types.Event {
	attrs := make(map[string]string)
	if acc != nil {
		attrs["account"] = acc.Address.String()
		attrs["role"] = acc.Role.String()
		attrs["registeredAt"] = strconv.FormatInt(acc.RegisteredAt, 10)
	}
	return &types.Event{Type: EventTypeUserRegistered, Attributes: attrs}
}
