package common

import (
	"strings"

	escrowerrors "juryledger/core/errors"
)

// Pausable module names.
const (
	ModuleOffers   = "offers"
	ModuleDisputes = "disputes"
	ModuleLedger   = "ledger"
)

// ErrModulePaused is returned when a mutating call targets a paused module.
var ErrModulePaused = escrowerrors.ErrModulePaused

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// KnownModule reports whether module can be paused.
func KnownModule(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case ModuleOffers, ModuleDisputes, ModuleLedger:
		return true
	default:
		return false
	}
}
