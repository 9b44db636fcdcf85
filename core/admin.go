package core

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/state"
	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/native/common"
)

const (
	EventTypeModulePaused  = "admin.module_paused"
	EventTypeModuleResumed = "admin.module_resumed"
)

var pausePrefix = []byte("admin/paused/")

func pauseKey(module string) []byte {
	return []byte(fmt.Sprintf("%s%s", pausePrefix, module))
}

// pauseView reads pause flags through the operation's overlay.
type pauseView struct {
	mgr *state.Manager
}

func (p pauseView) IsPaused(module string) bool {
	if p.mgr == nil {
		return false
	}
	var paused bool
	ok, err := p.mgr.KVGet(pauseKey(module), &paused)
	return err == nil && ok && paused
}

func newPauseEvent(eventType, module string, admin crypto.Address) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"module": module,
		"admin":  admin.String(),
	}}
}

// Pause stops the mutating operations of module. Reads stay available and
// registration is never paused.
func (n *Node) Pause(caller crypto.Address, module string) error {
	return n.setPaused("pause", caller, module, true)
}

// Resume re-enables a paused module.
func (n *Node) Resume(caller crypto.Address, module string) error {
	return n.setPaused("resume", caller, module, false)
}

func (n *Node) setPaused(op string, caller crypto.Address, module string, paused bool) error {
	start := time.Now()
	normalized := strings.ToLower(strings.TrimSpace(module))
	err := n.guard.Check(caller)
	if err == nil {
		buf := events.NewBuffer()
		err = n.apply(buf, true, func(_ *engines, mgr *state.Manager) error {
			if caller != n.admin {
				return escrowerrors.ErrUnauthorized
			}
			if !common.KnownModule(normalized) {
				return fmt.Errorf("%w: %q", escrowerrors.ErrUnknownModule, module)
			}
			if err := mgr.KVPut(pauseKey(normalized), paused); err != nil {
				return err
			}
			eventType := EventTypeModuleResumed
			if paused {
				eventType = EventTypeModulePaused
			}
			buf.Emit(events.Wrapped{Evt: newPauseEvent(eventType, normalized, caller)})
			return nil
		})
	}
	n.observe(op, caller, start, err, slog.String("module", normalized))
	if err == nil {
		n.logger.Warn("module pause state changed", slog.String("module", normalized), slog.Bool("paused", paused))
	}
	return err
}

// IsPaused reports whether module is currently paused.
func (n *Node) IsPaused(module string) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return pauseView{mgr: state.NewManager(n.db)}.IsPaused(strings.ToLower(strings.TrimSpace(module)))
}

// PausedModules lists the modules currently paused.
func (n *Node) PausedModules() []string {
	var out []string
	for _, module := range []string{common.ModuleOffers, common.ModuleDisputes, common.ModuleLedger} {
		if n.IsPaused(module) {
			out = append(out, module)
		}
	}
	return out
}
