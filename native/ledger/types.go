package ledger

import (
	"math/big"

	"juryledger/crypto"
)

// Totals are the running custody counters used by the conservation audit.
type Totals struct {
	// Deposited is the sum of every price taken into custody on acceptance.
	Deposited *big.Int
	// Withdrawn is the sum of every participant balance paid out.
	Withdrawn *big.Int
	// FeesWithdrawn is the sum of every platform fee payout.
	FeesWithdrawn *big.Int
	// Undistributed holds juror pool remainders that were never credited.
	Undistributed *big.Int
}

func newTotals() *Totals {
	return &Totals{
		Deposited:     big.NewInt(0),
		Withdrawn:     big.NewInt(0),
		FeesWithdrawn: big.NewInt(0),
		Undistributed: big.NewInt(0),
	}
}

func (t *Totals) normalize() *Totals {
	if t.Deposited == nil {
		t.Deposited = big.NewInt(0)
	}
	if t.Withdrawn == nil {
		t.Withdrawn = big.NewInt(0)
	}
	if t.FeesWithdrawn == nil {
		t.FeesWithdrawn = big.NewInt(0)
	}
	if t.Undistributed == nil {
		t.Undistributed = big.NewInt(0)
	}
	return t
}

// Audit is a snapshot of the books.
type Audit struct {
	Balances      *big.Int `json:"balances"`
	PlatformFees  *big.Int `json:"platformFees"`
	Undistributed *big.Int `json:"undistributed"`
	Deposited     *big.Int `json:"deposited"`
	Withdrawn     *big.Int `json:"withdrawn"`
	FeesWithdrawn *big.Int `json:"feesWithdrawn"`
	Holders       int      `json:"holders"`
	// Balanced reports whether
	// balances + fees + undistributed + withdrawn + feesWithdrawn == deposited.
	Balanced bool `json:"balanced"`
}

// Holding pairs an account with its withdrawable balance.
type Holding struct {
	Account crypto.Address
	Balance *big.Int
}
