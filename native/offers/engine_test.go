package offers

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/state"
	"juryledger/crypto"
	"juryledger/native/accounts"
	"juryledger/native/ledger"
	"juryledger/storage"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type fakeOpener struct {
	opened map[uint64]bool
}

func (f *fakeOpener) Open(id uint64) error {
	if f.opened[id] {
		return escrowerrors.ErrAlreadyDisputed
	}
	f.opened[id] = true
	return nil
}

func newTestAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, crypto.AddressLength))
	return addr
}

type harness struct {
	engine    *Engine
	ledger    *ledger.Engine
	emitter   *captureEmitter
	opener    *fakeOpener
	now       int64
	provider  crypto.Address
	requester crypto.Address
	juror     crypto.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	h := &harness{
		emitter:   &captureEmitter{},
		opener:    &fakeOpener{opened: make(map[uint64]bool)},
		now:       1_000,
		provider:  newTestAddress(0x01),
		requester: newTestAddress(0x02),
		juror:     newTestAddress(0x03),
	}
	registry := accounts.NewEngine()
	registry.SetState(mgr)
	for addr, role := range map[crypto.Address]accounts.Role{h.provider: accounts.RoleProvider, h.requester: accounts.RoleRequester, h.juror: accounts.RoleJuror} {
		_, err := registry.Register(addr, role)
		require.NoError(t, err)
	}
	h.ledger = ledger.NewEngine()
	h.ledger.SetState(mgr)

	h.engine = NewEngine()
	h.engine.SetState(mgr)
	h.engine.SetRegistry(registry)
	h.engine.SetLedger(h.ledger)
	h.engine.SetDisputes(h.opener)
	h.engine.SetEmitter(h.emitter)
	h.engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func unit() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }

func (h *harness) acceptedOffer(t *testing.T) *Offer {
	t.Helper()
	offer, err := h.engine.Create(h.provider, "ipfs://desc", unit(), 3600)
	require.NoError(t, err)
	offer, err = h.engine.Accept(h.requester, offer.ID, unit())
	require.NoError(t, err)
	return offer
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	h := newHarness(t)
	first, err := h.engine.Create(h.provider, "a", big.NewInt(10), 60)
	require.NoError(t, err)
	second, err := h.engine.Create(h.provider, "b", big.NewInt(10), 60)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
	require.Equal(t, StatusOpen, first.Status)
	require.True(t, first.Requester.IsZero())

	count, err := h.engine.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	ids, err := h.engine.OffersByAccount(h.provider)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Create(h.requester, "x", big.NewInt(1), 60)
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)
	_, err = h.engine.Create(h.provider, "x", big.NewInt(0), 60)
	require.ErrorIs(t, err, escrowerrors.ErrPriceMustBePositive)
	_, err = h.engine.Create(h.provider, "x", new(big.Int).Lsh(big.NewInt(1), 128), 60)
	require.ErrorIs(t, err, escrowerrors.ErrAmountOutOfRange)
	require.Empty(t, h.emitter.events)
}

func TestAcceptRules(t *testing.T) {
	h := newHarness(t)
	offer, err := h.engine.Create(h.provider, "x", big.NewInt(100), 60)
	require.NoError(t, err)

	_, err = h.engine.Accept(h.juror, offer.ID, big.NewInt(100))
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)
	_, err = h.engine.Accept(h.requester, offer.ID, big.NewInt(99))
	require.ErrorIs(t, err, escrowerrors.ErrIncorrectPayment)
	_, err = h.engine.Accept(h.requester, offer.ID, big.NewInt(101))
	require.ErrorIs(t, err, escrowerrors.ErrIncorrectPayment)
	_, err = h.engine.Accept(h.requester, 99, big.NewInt(100))
	require.ErrorIs(t, err, escrowerrors.ErrOfferNotFound)

	accepted, err := h.engine.Accept(h.requester, offer.ID, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
	require.Equal(t, h.requester, accepted.Requester)
	require.Equal(t, h.now, accepted.AcceptedAt)

	_, err = h.engine.Accept(h.requester, offer.ID, big.NewInt(100))
	require.ErrorIs(t, err, escrowerrors.ErrOfferNotOpen)

	totals, err := h.ledger.Totals()
	require.NoError(t, err)
	require.Equal(t, int64(100), totals.Deposited.Int64())

	ids, err := h.engine.OffersByAccount(h.requester)
	require.NoError(t, err)
	require.Equal(t, []uint64{offer.ID}, ids)
}

func TestConfirmDeliverySettles(t *testing.T) {
	h := newHarness(t)
	offer := h.acceptedOffer(t)

	_, _, err := h.engine.Confirm(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrNoProofSubmitted)

	_, err = h.engine.SubmitProof(h.requester, offer.ID, "proof", "")
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)
	_, err = h.engine.SubmitProof(h.provider, offer.ID, "  ", "")
	require.ErrorIs(t, err, escrowerrors.ErrProofRequired)
	_, err = h.engine.SubmitProof(h.provider, offer.ID, "proof-1", "first")
	require.NoError(t, err)
	updated, err := h.engine.SubmitProof(h.provider, offer.ID, "proof-2", "second")
	require.NoError(t, err)
	require.Equal(t, "proof-2", updated.ProofRef)
	require.Equal(t, StatusAccepted, updated.Status)

	_, _, err = h.engine.Confirm(h.provider, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)

	h.now += 3600
	completed, split, err := h.engine.Confirm(h.requester, offer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)

	milli := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	require.Equal(t, 0, split.Provider.Cmp(new(big.Int).Mul(milli, big.NewInt(980))))

	balance, err := h.ledger.Balance(h.provider)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(new(big.Int).Mul(milli, big.NewInt(980))))
	platform, err := h.ledger.PlatformFees()
	require.NoError(t, err)
	require.Equal(t, 0, platform.Cmp(new(big.Int).Mul(milli, big.NewInt(20))))

	_, _, err = h.engine.Confirm(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrOfferNotAccepted)

	require.Equal(t, []string{
		EventTypeOfferCreated,
		EventTypeOfferAccepted,
		EventTypeProofSubmitted,
		EventTypeProofSubmitted,
		EventTypeDeliveryConfirmed,
	}, h.emitter.types())
}

func TestConfirmAfterWindowTimesOut(t *testing.T) {
	h := newHarness(t)
	offer := h.acceptedOffer(t)
	_, err := h.engine.SubmitProof(h.provider, offer.ID, "proof", "")
	require.NoError(t, err)

	h.now += 3601
	_, _, err = h.engine.Confirm(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrDeliveryTimeout)

	stored, err := h.engine.Offer(offer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, stored.Status)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	offer, err := h.engine.Create(h.provider, "x", big.NewInt(5), 60)
	require.NoError(t, err)

	_, err = h.engine.Cancel(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)
	cancelled, err := h.engine.Cancel(h.provider, offer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = h.engine.Accept(h.requester, offer.ID, big.NewInt(5))
	require.ErrorIs(t, err, escrowerrors.ErrOfferNotOpen)
	_, err = h.engine.Cancel(h.provider, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrOfferNotOpen)
}

func TestDisputeTiming(t *testing.T) {
	h := newHarness(t)
	offer := h.acceptedOffer(t)

	h.now += 3600
	_, err := h.engine.Dispute(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrTooEarly)

	h.now++
	_, err = h.engine.Dispute(h.juror, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrUnauthorized)

	disputed, err := h.engine.Dispute(h.provider, offer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, disputed.Status)
	require.True(t, h.opener.opened[offer.ID])

	_, err = h.engine.Dispute(h.requester, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrAlreadyDisputed)
}

func TestDisputeRequiresAcceptedOffer(t *testing.T) {
	h := newHarness(t)
	offer, err := h.engine.Create(h.provider, "x", big.NewInt(5), 0)
	require.NoError(t, err)
	h.now += 10
	_, err = h.engine.Dispute(h.provider, offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrNotDisputable)

	_, err = h.engine.MarkResolved(offer.ID)
	require.ErrorIs(t, err, escrowerrors.ErrNotDisputed)
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusOpen.CanTransition(StatusAccepted))
	require.True(t, StatusOpen.CanTransition(StatusCancelled))
	require.True(t, StatusAccepted.CanTransition(StatusDisputed))
	require.True(t, StatusDisputed.CanTransition(StatusResolved))
	require.False(t, StatusAccepted.CanTransition(StatusOpen))
	require.False(t, StatusCompleted.CanTransition(StatusDisputed))
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusResolved} {
		require.True(t, s.Terminal())
	}
	parsed, err := ParseStatus("disputed")
	require.NoError(t, err)
	require.Equal(t, StatusDisputed, parsed)
}
