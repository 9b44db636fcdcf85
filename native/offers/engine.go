package offers

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/native/accounts"
	"juryledger/native/fees"
)

var (
	errNilState    = errors.New("offers engine: state not configured")
	errNilRegistry = errors.New("offers engine: account registry not configured")
	errNilLedger   = errors.New("offers engine: ledger not configured")
	errNilDisputes = errors.New("offers engine: dispute resolver not configured")
)

var (
	nextIDKey      = []byte("offers/next-id")
	offerPrefix    = []byte("offers/record/")
	byAccountPrefix = []byte("offers/by-account/")
)

func offerKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", offerPrefix, id))
}

func byAccountKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", byAccountPrefix, addr[:]))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVGetList(key []byte, out interface{}) error
}

type registry interface {
	RequireRole(addr crypto.Address, role accounts.Role) error
}

type ledgerBook interface {
	RecordDeposit(amount *big.Int) error
	Credit(addr crypto.Address, amount *big.Int) error
	CreditFee(amount *big.Int) error
}

// disputeOpener creates the dispute record for an offer, failing with
// ErrAlreadyDisputed when one exists.
type disputeOpener interface {
	Open(offerID uint64) error
}

// Engine is the offer state machine. It is the only writer of an offer's
// status, acceptance timestamp and proof.
type Engine struct {
	state    engineState
	registry registry
	ledger   ledgerBook
	disputes disputeOpener
	schedule fees.Schedule
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates an offer engine using the default fee schedule.
func NewEngine() *Engine {
	return &Engine{
		schedule: fees.DefaultSchedule(),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the account registry consulted for roles.
func (e *Engine) SetRegistry(r registry) { e.registry = r }

// SetLedger configures the ledger credited on settlement.
func (e *Engine) SetLedger(l ledgerBook) { e.ledger = l }

// SetDisputes configures the dispute resolver that owns dispute records.
func (e *Engine) SetDisputes(d disputeOpener) { e.disputes = d }

// SetSchedule overrides the fee schedule.
func (e *Engine) SetSchedule(s fees.Schedule) { e.schedule = s }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
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

func (e *Engine) ready() error {
	switch {
	case e.state == nil:
		return errNilState
	case e.registry == nil:
		return errNilRegistry
	case e.ledger == nil:
		return errNilLedger
	}
	return nil
}

// Offer loads an offer by id.
func (e *Engine) Offer(id uint64) (*Offer, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var stored storedOffer
	ok, err := e.state.KVGet(offerKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerrors.ErrOfferNotFound
	}
	return stored.toOffer(), nil
}

func (e *Engine) put(o *Offer) error {
	return e.state.KVPut(offerKey(o.ID), newStoredOffer(o))
}

// Count returns the number of offers ever created. Ids run from 1 to Count.
func (e *Engine) Count() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	var next uint64
	ok, err := e.state.KVGet(nextIDKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		return 0, nil
	}
	return next - 1, nil
}

func (e *Engine) allocateID() (uint64, error) {
	count, err := e.Count()
	if err != nil {
		return 0, err
	}
	id := count + 1
	if err := e.state.KVPut(nextIDKey, id+1); err != nil {
		return 0, err
	}
	return id, nil
}

// OffersByAccount returns the ids of offers the account created or accepted,
// in ascending order.
func (e *Engine) OffersByAccount(addr crypto.Address) ([]uint64, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var ids []uint64
	if err := e.state.KVGetList(byAccountKey(addr), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) index(addr crypto.Address, id uint64) error {
	ids, err := e.OffersByAccount(addr)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	// ids are allocated sequentially so appending keeps the list sorted.
	ids = append(ids, id)
	return e.state.KVPut(byAccountKey(addr), ids)
}

// Create records a new Open offer from a registered provider.
func (e *Engine) Create(caller crypto.Address, descriptionRef string, price *big.Int, deliveryTimeoutSeconds uint64) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.registry.RequireRole(caller, accounts.RoleProvider); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, escrowerrors.ErrPriceMustBePositive
	}
	if err := fees.CheckAmount(price); err != nil {
		return nil, err
	}
	id, err := e.allocateID()
	if err != nil {
		return nil, err
	}
	offer := &Offer{
		ID:                     id,
		Provider:               caller,
		Price:                  new(big.Int).Set(price),
		DescriptionRef:         strings.TrimSpace(descriptionRef),
		Status:                 StatusOpen,
		CreatedAt:              e.now(),
		DeliveryTimeoutSeconds: deliveryTimeoutSeconds,
	}
	if err := e.put(offer); err != nil {
		return nil, err
	}
	if err := e.index(caller, id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(offer))
	return offer.Clone(), nil
}

// Accept binds a requester to an Open offer. paidAmount must equal the price
// exactly; it is booked as a custody deposit.
func (e *Engine) Accept(caller crypto.Address, id uint64, paidAmount *big.Int) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.registry.RequireRole(caller, accounts.RoleRequester); err != nil {
		return nil, err
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	if offer.Status != StatusOpen {
		return nil, escrowerrors.ErrOfferNotOpen
	}
	if offer.HasRequester() {
		return nil, escrowerrors.ErrAlreadyAccepted
	}
	if paidAmount == nil || paidAmount.Cmp(offer.Price) != 0 {
		return nil, escrowerrors.ErrIncorrectPayment
	}
	offer.Requester = caller
	offer.Status = StatusAccepted
	offer.AcceptedAt = e.now()
	if err := e.ledger.RecordDeposit(offer.Price); err != nil {
		return nil, err
	}
	if err := e.put(offer); err != nil {
		return nil, err
	}
	if err := e.index(caller, id); err != nil {
		return nil, err
	}
	e.emit(NewAcceptedEvent(offer))
	return offer.Clone(), nil
}

// SubmitProof stores (or replaces) the provider's proof of delivery.
func (e *Engine) SubmitProof(caller crypto.Address, id uint64, proofRef, comment string) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	if offer.Status != StatusAccepted {
		return nil, escrowerrors.ErrOfferNotAccepted
	}
	if caller != offer.Provider {
		return nil, escrowerrors.ErrUnauthorized
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, escrowerrors.ErrProofRequired
	}
	offer.ProofRef = proofRef
	offer.Comment = comment
	if err := e.put(offer); err != nil {
		return nil, err
	}
	e.emit(NewProofSubmittedEvent(offer))
	return offer.Clone(), nil
}

// Confirm settles an Accepted offer: the provider is credited the price minus
// the platform fee. Confirmation at exactly acceptedAt + timeout is allowed.
func (e *Engine) Confirm(caller crypto.Address, id uint64) (*Offer, fees.Settlement, error) {
	if err := e.ready(); err != nil {
		return nil, fees.Settlement{}, err
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, fees.Settlement{}, err
	}
	if offer.Status != StatusAccepted {
		return nil, fees.Settlement{}, escrowerrors.ErrOfferNotAccepted
	}
	if caller != offer.Requester {
		return nil, fees.Settlement{}, escrowerrors.ErrUnauthorized
	}
	if offer.ProofRef == "" {
		return nil, fees.Settlement{}, escrowerrors.ErrNoProofSubmitted
	}
	if offer.WindowElapsed(e.now()) {
		return nil, fees.Settlement{}, escrowerrors.ErrDeliveryTimeout
	}
	split, err := e.schedule.Settle(offer.Price)
	if err != nil {
		return nil, fees.Settlement{}, err
	}
	if err := e.ledger.Credit(offer.Provider, split.Provider); err != nil {
		return nil, fees.Settlement{}, err
	}
	if err := e.ledger.CreditFee(split.Fee); err != nil {
		return nil, fees.Settlement{}, err
	}
	offer.Status = StatusCompleted
	if err := e.put(offer); err != nil {
		return nil, fees.Settlement{}, err
	}
	e.emit(NewDeliveryConfirmedEvent(offer))
	return offer.Clone(), split, nil
}

// Cancel withdraws an Open offer. Only the provider may cancel and no funds
// are held at this stage.
func (e *Engine) Cancel(caller crypto.Address, id uint64) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	if offer.Status != StatusOpen {
		return nil, escrowerrors.ErrOfferNotOpen
	}
	if caller != offer.Provider {
		return nil, escrowerrors.ErrUnauthorized
	}
	offer.Status = StatusCancelled
	if err := e.put(offer); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(offer))
	return offer.Clone(), nil
}

// Dispute moves an Accepted offer whose delivery window has strictly elapsed
// into Disputed. Either party may open the dispute.
func (e *Engine) Dispute(caller crypto.Address, id uint64) (*Offer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.disputes == nil {
		return nil, errNilDisputes
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	switch offer.Status {
	case StatusAccepted:
	case StatusDisputed, StatusResolved:
		return nil, escrowerrors.ErrAlreadyDisputed
	default:
		return nil, escrowerrors.ErrNotDisputable
	}
	if !offer.IsParty(caller) {
		return nil, escrowerrors.ErrUnauthorized
	}
	if !offer.WindowElapsed(e.now()) {
		return nil, escrowerrors.ErrTooEarly
	}
	if err := e.disputes.Open(id); err != nil {
		return nil, err
	}
	offer.Status = StatusDisputed
	if err := e.put(offer); err != nil {
		return nil, err
	}
	e.emit(NewDisputedEvent(offer, caller.String()))
	return offer.Clone(), nil
}

// MarkResolved performs the Disputed -> Resolved transition once the dispute
// resolver has reached a verdict.
func (e *Engine) MarkResolved(id uint64) (*Offer, error) {
	if e.state == nil {
		return nil, errNilState
	}
	offer, err := e.Offer(id)
	if err != nil {
		return nil, err
	}
	if offer.Status == StatusResolved {
		return nil, escrowerrors.ErrAlreadyResolved
	}
	if offer.Status != StatusDisputed {
		return nil, escrowerrors.ErrNotDisputed
	}
	offer.Status = StatusResolved
	if err := e.put(offer); err != nil {
		return nil, err
	}
	return offer.Clone(), nil
}
