package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"juryledger/crypto"
)

// ErrUnconfigured is returned by adapters that have no backing implementation.
var ErrUnconfigured = errors.New("bank: transfer not configured")

// Transferer moves value out of custody. A nil error means the transfer
// succeeded; any error is treated as a failed transfer.
type Transferer interface {
	Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error
}

// FuncTransferer adapts a callback to the Transferer interface.
type FuncTransferer func(ctx context.Context, to crypto.Address, amount *big.Int) error

// Transfer invokes the underlying callback.
func (f FuncTransferer) Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if f == nil {
		return ErrUnconfigured
	}
	return f(ctx, to, amount)
}

// Vault is an in-process payout book. Every successful transfer is added to
// the recipient's paid-out total. Addresses marked with Fail reject transfers.
type Vault struct {
	mu      sync.Mutex
	paid    map[crypto.Address]*big.Int
	failing map[crypto.Address]error
	total   *big.Int
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{
		paid:    make(map[crypto.Address]*big.Int),
		failing: make(map[crypto.Address]error),
		total:   big.NewInt(0),
	}
}

// Transfer implements Transferer.
func (v *Vault) Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: invalid transfer amount")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err, ok := v.failing[to]; ok {
		return err
	}
	current, ok := v.paid[to]
	if !ok {
		current = big.NewInt(0)
		v.paid[to] = current
	}
	current.Add(current, amount)
	v.total.Add(v.total, amount)
	return nil
}

// Fail makes every transfer to addr return err until Recover is called.
func (v *Vault) Fail(addr crypto.Address, err error) {
	if err == nil {
		err = errors.New("bank: recipient rejected transfer")
	}
	v.mu.Lock()
	v.failing[addr] = err
	v.mu.Unlock()
}

// Recover clears a failure set by Fail.
func (v *Vault) Recover(addr crypto.Address) {
	v.mu.Lock()
	delete(v.failing, addr)
	v.mu.Unlock()
}

// PaidTo returns the total transferred to addr.
func (v *Vault) PaidTo(addr crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if current, ok := v.paid[addr]; ok {
		return new(big.Int).Set(current)
	}
	return big.NewInt(0)
}

// Total returns the sum of every successful transfer.
func (v *Vault) Total() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.total)
}
