package common

import (
	"errors"
	"testing"

	escrowerrors "juryledger/core/errors"
	"juryledger/crypto"
)

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleOffers); err != nil {
		t.Fatalf("nil view should never block: %v", err)
	}
	view := pauses{ModuleLedger: true}
	if err := Guard(view, ModuleOffers); err != nil {
		t.Fatalf("offers should be open: %v", err)
	}
	if err := Guard(view, ModuleLedger); !errors.Is(err, escrowerrors.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if !KnownModule(" Disputes ") || KnownModule("accounts") {
		t.Fatalf("unexpected module classification")
	}
}

func TestReentrancyGuard(t *testing.T) {
	g := NewReentrancyGuard()
	var alice, bob crypto.Address
	alice[0], bob[0] = 1, 2

	release, err := g.Enter(alice)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.Enter(alice); !errors.Is(err, escrowerrors.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	if err := g.Check(bob); err != nil {
		t.Fatalf("bob should be free: %v", err)
	}
	if !g.Held(alice) {
		t.Fatalf("alice should be held")
	}
	release()
	release()
	if g.Held(alice) {
		t.Fatalf("alice should be released")
	}
	again, err := g.Enter(alice)
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	again()
}
