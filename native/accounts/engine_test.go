package accounts

import (
	"bytes"
	"errors"
	"testing"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/state"
	"juryledger/crypto"
	"juryledger/storage"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, crypto.AddressLength))
	return addr
}

func newTestEngine(t *testing.T) (*Engine, *captureEmitter) {
	t.Helper()
	engine := NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine, emitter
}

func TestRegister(t *testing.T) {
	engine, emitter := newTestEngine(t)
	alice := newTestAddress(0x01)

	acc, err := engine.Register(alice, RoleProvider)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !acc.Registered || acc.Role != RoleProvider {
		t.Fatalf("unexpected account %+v", acc)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	payload := events.Unwrap(emitter.events[0])
	if payload.Type != EventTypeUserRegistered || payload.Attr("role") != "provider" || payload.Attr("account") != alice.String() {
		t.Fatalf("unexpected event %+v", payload)
	}

	role, err := engine.RoleOf(alice)
	if err != nil || role != RoleProvider {
		t.Fatalf("role lookup: role=%s err=%v", role, err)
	}
}

func TestRegisterRejectsNoneAndDuplicates(t *testing.T) {
	engine, emitter := newTestEngine(t)
	bob := newTestAddress(0x02)

	if _, err := engine.Register(bob, RoleNone); !errors.Is(err, escrowerrors.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := engine.Register(bob, RoleJuror); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := engine.Register(bob, RoleRequester); !errors.Is(err, escrowerrors.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	role, _ := engine.RoleOf(bob)
	if role != RoleJuror {
		t.Fatalf("role must not change after re-registration attempt, got %s", role)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("rejected registrations must not emit, got %d events", len(emitter.events))
	}
}

func TestUnknownAccountIsUnregistered(t *testing.T) {
	engine, _ := newTestEngine(t)
	carol := newTestAddress(0x03)
	registered, err := engine.IsRegistered(carol)
	if err != nil || registered {
		t.Fatalf("unexpected registration state: %v %v", registered, err)
	}
	if err := engine.RequireRole(carol, RoleRequester); !errors.Is(err, escrowerrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	for raw, want := range map[string]Role{"Provider": RoleProvider, " juror ": RoleJuror, "requester": RoleRequester, "none": RoleNone} {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}
