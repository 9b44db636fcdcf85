package accounts

import (
	"errors"
	"fmt"
	"time"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/types"
	"juryledger/crypto"
)

var errNilState = errors.New("accounts engine: state not configured")

var accountPrefix = []byte("accounts/record/")

func accountKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", accountPrefix, addr[:]))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine is the account registry. Records are written once and never change.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a registry with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the registration timestamp source.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrapped{Evt: evt})
}

// Register creates the caller's account with the supplied role.
func (e *Engine) Register(caller crypto.Address, role Role) (*Account, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if !role.Valid() {
		return nil, escrowerrors.ErrInvalidRole
	}
	existing, err := e.Account(caller)
	if err != nil {
		return nil, err
	}
	if existing.Registered {
		return nil, escrowerrors.ErrAlreadyRegistered
	}
	now := e.now()
	if now < 0 {
		now = 0
	}
	record := storedAccount{Role: uint8(role), Registered: true, RegisteredAt: uint64(now)}
	if err := e.state.KVPut(accountKey(caller), record); err != nil {
		return nil, err
	}
	acc := record.toAccount(caller)
	e.emit(NewRegisteredEvent(acc))
	return acc, nil
}

// Account returns the registry record. Unknown callers yield an unregistered
// record with RoleNone rather than an error.
func (e *Engine) Account(addr crypto.Address) (*Account, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var stored storedAccount
	ok, err := e.state.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Account{Address: addr, Role: RoleNone}, nil
	}
	return stored.toAccount(addr), nil
}

// RoleOf returns the caller's role, RoleNone when unregistered.
func (e *Engine) RoleOf(addr crypto.Address) (Role, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return RoleNone, err
	}
	return acc.Role, nil
}

// IsRegistered reports whether addr holds a registration.
func (e *Engine) IsRegistered(addr crypto.Address) (bool, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return false, err
	}
	return acc.Registered, nil
}

// RequireRole fails with ErrUnauthorized unless addr is registered with role.
func (e *Engine) RequireRole(addr crypto.Address, role Role) error {
	acc, err := e.Account(addr)
	if err != nil {
		return err
	}
	if !acc.Registered || acc.Role != role {
		return escrowerrors.ErrUnauthorized
	}
	return nil
}
