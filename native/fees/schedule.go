package fees

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	escrowerrors "juryledger/core/errors"
)

// MaxAmountBits bounds every price and balance handled by the ledger.
const MaxAmountBits = 128

const (
	DefaultFeePercent         uint64 = 2
	DefaultJurorRewardPercent uint64 = 10
)

var hundred = uint256.NewInt(100)

// Schedule holds the deployment-time percentages applied to settled prices.
type Schedule struct {
	FeePercent         uint64
	JurorRewardPercent uint64
}

// DefaultSchedule returns the 2% platform fee and 10% juror pool.
func DefaultSchedule() Schedule {
	return Schedule{FeePercent: DefaultFeePercent, JurorRewardPercent: DefaultJurorRewardPercent}
}

// Validate ensures the winner of a dispute always keeps a positive share.
func (s Schedule) Validate() error {
	if s.FeePercent+s.JurorRewardPercent >= 100 {
		return fmt.Errorf("fees: fee %d%% plus juror reward %d%% must stay below 100%%", s.FeePercent, s.JurorRewardPercent)
	}
	return nil
}

// CheckAmount rejects negative values and values wider than MaxAmountBits.
func CheckAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.BitLen() > MaxAmountBits {
		return escrowerrors.ErrAmountOutOfRange
	}
	return nil
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if err := CheckAmount(v); err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, escrowerrors.ErrAmountOutOfRange
	}
	return out, nil
}

func percentOf(price *uint256.Int, pct uint64) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(pct), hundred)
	return out
}

// Settlement is the split applied when a requester confirms delivery.
type Settlement struct {
	Provider *big.Int
	Fee      *big.Int
}

// Settle computes fee = price*FeePercent/100 truncated, with the remainder going
// to the provider.
func (s Schedule) Settle(price *big.Int) (Settlement, error) {
	p, err := toU256(price)
	if err != nil {
		return Settlement{}, err
	}
	fee := percentOf(p, s.FeePercent)
	provider := new(uint256.Int).Sub(p, fee)
	return Settlement{Provider: provider.ToBig(), Fee: fee.ToBig()}, nil
}

// Arbitration is the split applied when a dispute resolves.
type Arbitration struct {
	Winner    *big.Int
	Fee       *big.Int
	JurorPool *big.Int
	// PerJuror is credited to each juror who voted for the winner.
	PerJuror *big.Int
	// Undistributed is the truncation remainder of the juror pool. It is not
	// credited to anyone.
	Undistributed *big.Int
}

// Arbitrate splits price between the winner, the platform and the jurors who
// sided with the winner. The juror pool is divided evenly with integer
// division.
func (s Schedule) Arbitrate(price *big.Int, winningJurors int) (Arbitration, error) {
	p, err := toU256(price)
	if err != nil {
		return Arbitration{}, err
	}
	fee := percentOf(p, s.FeePercent)
	pool := percentOf(p, s.JurorRewardPercent)
	winner := new(uint256.Int).Sub(p, fee)
	winner.Sub(winner, pool)

	perJuror := new(uint256.Int)
	undistributed := new(uint256.Int).Set(pool)
	if winningJurors > 0 {
		n := uint256.NewInt(uint64(winningJurors))
		perJuror.Div(pool, n)
		undistributed.Mod(pool, n)
	}
	return Arbitration{
		Winner:        winner.ToBig(),
		Fee:           fee.ToBig(),
		JurorPool:     pool.ToBig(),
		PerJuror:      perJuror.ToBig(),
		Undistributed: undistributed.ToBig(),
	}, nil
}
