package ledger

import (
	"math/big"

	"juryledger/core/types"
	"juryledger/crypto"
)

const (
	EventTypeFundsWithdrawn        = "ledger.funds_withdrawn"
	EventTypePlatformFeesWithdrawn = "ledger.fees_withdrawn"
)

// NewFundsWithdrawnEvent returns the payload for a participant payout.
func NewFundsWithdrawnEvent(account crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeFundsWithdrawn, Attributes: map[string]string{
		"account": account.String(),
		"amount":  amountString(amount),
	}}
}

// NewPlatformFeesWithdrawnEvent returns the payload for an admin fee payout.
func NewPlatformFeesWithdrawnEvent(admin crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypePlatformFeesWithdrawn, Attributes: map[string]string{
		"admin":  admin.String(),
		"amount": amountString(amount),
	}}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
