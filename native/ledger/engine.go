package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/native/fees"
)

var (
	errNilState       = errors.New("ledger engine: state not configured")
	errNegativeAmount = errors.New("ledger engine: negative amount")
)

var (
	balancePrefix = []byte("ledger/balance/")
	holdersKey    = []byte("ledger/holders")
	feesKey       = []byte("ledger/platform-fees")
	totalsKey     = []byte("ledger/totals")
)

func balanceKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", balancePrefix, addr[:]))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine owns withdrawable balances and the platform fee accumulator. Credits
// only ever increase a balance; the withdraw paths are the only debits.
type Engine struct {
	state   engineState
	emitter events.Emitter
	admin   crypto.Address
}

// NewEngine creates a ledger with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdmin configures the account allowed to withdraw platform fees.
func (e *Engine) SetAdmin(admin crypto.Address) { e.admin = admin }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrapped{Evt: evt})
}

func (e *Engine) loadAmount(key []byte) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := e.state.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (e *Engine) storeAmount(key []byte, amount *big.Int) error {
	if err := fees.CheckAmount(amount); err != nil {
		return err
	}
	return e.state.KVPut(key, amount)
}

func (e *Engine) loadTotals() (*Totals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	totals := newTotals()
	if _, err := e.state.KVGet(totalsKey, totals); err != nil {
		return nil, err
	}
	return totals.normalize(), nil
}

func (e *Engine) storeTotals(t *Totals) error {
	return e.state.KVPut(totalsKey, t.normalize())
}

func (e *Engine) updateTotals(fn func(*Totals)) error {
	totals, err := e.loadTotals()
	if err != nil {
		return err
	}
	fn(totals)
	return e.storeTotals(totals)
}

func validAmount(amount *big.Int) error {
	if amount == nil {
		return nil
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	return nil
}

// Balance returns the withdrawable balance of addr.
func (e *Engine) Balance(addr crypto.Address) (*big.Int, error) {
	return e.loadAmount(balanceKey(addr))
}

// PlatformFees returns the accumulated, not yet withdrawn platform fees.
func (e *Engine) PlatformFees() (*big.Int, error) {
	return e.loadAmount(feesKey)
}

// Totals returns the custody counters.
func (e *Engine) Totals() (*Totals, error) {
	return e.loadTotals()
}

// RecordDeposit registers value taken into custody when an offer is accepted.
func (e *Engine) RecordDeposit(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.updateTotals(func(t *Totals) { t.Deposited.Add(t.Deposited, amount) })
}

// Credit adds amount to the withdrawable balance of addr.
func (e *Engine) Credit(addr crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := e.Balance(addr)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if err := e.storeAmount(balanceKey(addr), balance); err != nil {
		return err
	}
	return e.state.KVAppend(holdersKey, addr.Bytes())
}

// CreditFee adds amount to the platform fee accumulator.
func (e *Engine) CreditFee(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.PlatformFees()
	if err != nil {
		return err
	}
	current.Add(current, amount)
	return e.storeAmount(feesKey, current)
}

// RecordUndistributed books a juror pool remainder that no account receives.
func (e *Engine) RecordUndistributed(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.updateTotals(func(t *Totals) { t.Undistributed.Add(t.Undistributed, amount) })
}

// Withdraw zeroes the caller's balance and returns the amount to pay out. The
// transfer itself happens outside the engine once this write is committed.
func (e *Engine) Withdraw(caller crypto.Address) (*big.Int, error) {
	balance, err := e.Balance(caller)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, escrowerrors.ErrNothingToWithdraw
	}
	if err := e.state.KVPut(balanceKey(caller), big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) { t.Withdrawn.Add(t.Withdrawn, balance) }); err != nil {
		return nil, err
	}
	e.emit(NewFundsWithdrawnEvent(caller, balance))
	return new(big.Int).Set(balance), nil
}

// WithdrawFees zeroes the platform fee accumulator. Only the configured admin
// may call it.
func (e *Engine) WithdrawFees(caller crypto.Address) (*big.Int, error) {
	if e.admin.IsZero() || caller != e.admin {
		return nil, escrowerrors.ErrUnauthorized
	}
	current, err := e.PlatformFees()
	if err != nil {
		return nil, err
	}
	if current.Sign() == 0 {
		return nil, escrowerrors.ErrNoFees
	}
	if err := e.state.KVPut(feesKey, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.updateTotals(func(t *Totals) { t.FeesWithdrawn.Add(t.FeesWithdrawn, current) }); err != nil {
		return nil, err
	}
	e.emit(NewPlatformFeesWithdrawnEvent(caller, current))
	return new(big.Int).Set(current), nil
}

// Restore reverses a Withdraw whose transfer failed.
func (e *Engine) Restore(addr crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := e.Balance(addr)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if err := e.storeAmount(balanceKey(addr), balance); err != nil {
		return err
	}
	return e.updateTotals(func(t *Totals) { t.Withdrawn.Sub(t.Withdrawn, amount) })
}

// RestoreFees reverses a WithdrawFees whose transfer failed.
func (e *Engine) RestoreFees(amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	current, err := e.PlatformFees()
	if err != nil {
		return err
	}
	current.Add(current, amount)
	if err := e.storeAmount(feesKey, current); err != nil {
		return err
	}
	return e.updateTotals(func(t *Totals) { t.FeesWithdrawn.Sub(t.FeesWithdrawn, amount) })
}

// Holdings lists every account that has ever been credited, in first-credit
// order, with its current balance.
func (e *Engine) Holdings() ([]Holding, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(holdersKey, &raw); err != nil {
		return nil, err
	}
	out := make([]Holding, 0, len(raw))
	for _, entry := range raw {
		addr, err := crypto.AddressFromBytes(entry)
		if err != nil {
			return nil, err
		}
		balance, err := e.Balance(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, Holding{Account: addr, Balance: balance})
	}
	return out, nil
}

// Audit sums the books and checks that no value was created or destroyed.
func (e *Engine) Audit() (*Audit, error) {
	holdings, err := e.Holdings()
	if err != nil {
		return nil, err
	}
	balances := big.NewInt(0)
	for _, h := range holdings {
		balances.Add(balances, h.Balance)
	}
	platform, err := e.PlatformFees()
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	accounted := new(big.Int).Add(balances, platform)
	accounted.Add(accounted, totals.Undistributed)
	accounted.Add(accounted, totals.Withdrawn)
	accounted.Add(accounted, totals.FeesWithdrawn)
	return &Audit{
		Balances:      balances,
		PlatformFees:  platform,
		Undistributed: totals.Undistributed,
		Deposited:     totals.Deposited,
		Withdrawn:     totals.Withdrawn,
		FeesWithdrawn: totals.FeesWithdrawn,
		Holders:       len(holdings),
		Balanced:      accounted.Cmp(totals.Deposited) == 0,
	}, nil
}
