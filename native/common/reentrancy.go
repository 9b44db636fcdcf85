package common

import (
	"sync"

	escrowerrors "juryledger/core/errors"
	"juryledger/crypto"
)

// ReentrancyGuard tracks accounts with an outstanding value transfer. While an
// account is held, every state-mutating call on its behalf is rejected.
type ReentrancyGuard struct {
	mu   sync.Mutex
	held map[crypto.Address]struct{}
}

// NewReentrancyGuard returns an empty guard.
func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{held: make(map[crypto.Address]struct{})}
}

// Enter marks addr as busy. The returned release function is idempotent.
func (g *ReentrancyGuard) Enter(addr crypto.Address) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = make(map[crypto.Address]struct{})
	}
	if _, busy := g.held[addr]; busy {
		return nil, escrowerrors.ErrReentrantCall
	}
	g.held[addr] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, addr)
			g.mu.Unlock()
		})
	}, nil
}

// Check fails with ErrReentrantCall when addr is currently held.
func (g *ReentrancyGuard) Check(addr crypto.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[addr]; busy {
		return escrowerrors.ErrReentrantCall
	}
	return nil
}

// Held reports whether addr is currently held.
func (g *ReentrancyGuard) Held(addr crypto.Address) bool {
	return g.Check(addr) != nil
}
