package disputes

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/native/accounts"
	"juryledger/native/fees"
	"juryledger/native/offers"
)

var (
	errNilState    = errors.New("disputes engine: state not configured")
	errNilRegistry = errors.New("disputes engine: account registry not configured")
	errNilLedger   = errors.New("disputes engine: ledger not configured")
	errNilOffers   = errors.New("disputes engine: offer engine not configured")
)

var disputePrefix = []byte("disputes/record/")

func disputeKey(offerID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", disputePrefix, offerID))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type registry interface {
	RequireRole(addr crypto.Address, role accounts.Role) error
}

type offerBook interface {
	Offer(id uint64) (*offers.Offer, error)
	MarkResolved(id uint64) (*offers.Offer, error)
}

type ledgerBook interface {
	Credit(addr crypto.Address, amount *big.Int) error
	CreditFee(amount *big.Int) error
	RecordUndistributed(amount *big.Int) error
}

// Engine owns dispute records and their tallies.
type Engine struct {
	state    engineState
	registry registry
	offers   offerBook
	ledger   ledgerBook
	schedule fees.Schedule
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a dispute resolver using the default fee schedule.
func NewEngine() *Engine {
	return &Engine{
		schedule: fees.DefaultSchedule(),
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the account registry consulted for juror roles.
func (e *Engine) SetRegistry(r registry) { e.registry = r }

// SetOffers configures the offer engine that performs the terminal transition.
func (e *Engine) SetOffers(o offerBook) { e.offers = o }

// SetLedger configures the ledger credited on resolution.
func (e *Engine) SetLedger(l ledgerBook) { e.ledger = l }

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

// SetNowFunc overrides the time source used by the engine.
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

func (e *Engine) load(offerID uint64) (*Dispute, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedDispute
	ok, err := e.state.KVGet(disputeKey(offerID), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toDispute(), true, nil
}

func (e *Engine) put(d *Dispute) error {
	return e.state.KVPut(disputeKey(d.OfferID), newStoredDispute(d))
}

// Open creates the dispute record for offerID.
func (e *Engine) Open(offerID uint64) error {
	_, exists, err := e.load(offerID)
	if err != nil {
		return err
	}
	if exists {
		return escrowerrors.ErrAlreadyDisputed
	}
	return e.put(&Dispute{OfferID: offerID, Exists: true, OpenedAt: e.now()})
}

// Details returns the dispute record of offerID.
func (e *Engine) Details(offerID uint64) (*Dispute, error) {
	d, ok, err := e.load(offerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrowerrors.ErrDisputeNotFound
	}
	return d, nil
}

// Vote records a juror ballot. The ballot that brings either tally to
// ResolutionThreshold resolves the dispute in the same call; the returned
// split is nil while the dispute stays open.
func (e *Engine) Vote(caller crypto.Address, offerID uint64, votedFor crypto.Address) (*Dispute, *fees.Arbitration, error) {
	switch {
	case e.state == nil:
		return nil, nil, errNilState
	case e.registry == nil:
		return nil, nil, errNilRegistry
	case e.offers == nil:
		return nil, nil, errNilOffers
	case e.ledger == nil:
		return nil, nil, errNilLedger
	}
	if err := e.registry.RequireRole(caller, accounts.RoleJuror); err != nil {
		return nil, nil, err
	}
	offer, err := e.offers.Offer(offerID)
	if err != nil {
		return nil, nil, err
	}
	switch offer.Status {
	case offers.StatusDisputed:
	case offers.StatusResolved:
		return nil, nil, escrowerrors.ErrAlreadyResolved
	default:
		return nil, nil, escrowerrors.ErrNotDisputed
	}
	dispute, err := e.Details(offerID)
	if err != nil {
		return nil, nil, err
	}
	if dispute.Resolved {
		return nil, nil, escrowerrors.ErrAlreadyResolved
	}
	if dispute.HasVoted(caller) {
		return nil, nil, escrowerrors.ErrAlreadyVoted
	}
	switch {
	case votedFor.IsZero():
		return nil, nil, escrowerrors.ErrInvalidVote
	case votedFor == offer.Requester:
		dispute.VotesForRequester++
	case votedFor == offer.Provider:
		dispute.VotesForProvider++
	default:
		return nil, nil, escrowerrors.ErrInvalidVote
	}
	now := e.now()
	dispute.Ballots = append(dispute.Ballots, Ballot{Juror: caller, VotedFor: votedFor, CastAt: now})
	e.emit(NewVoteCastEvent(offerID, caller, votedFor))

	var split *fees.Arbitration
	if dispute.VotesForRequester >= ResolutionThreshold || dispute.VotesForProvider >= ResolutionThreshold {
		split, err = e.resolve(offer, dispute, votedFor, now)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := e.put(dispute); err != nil {
		return nil, nil, err
	}
	if split != nil {
		e.emit(NewResolvedEvent(dispute, split))
	}
	return dispute.Clone(), split, nil
}

func (e *Engine) resolve(offer *offers.Offer, dispute *Dispute, winner crypto.Address, now int64) (*fees.Arbitration, error) {
	dispute.Winner = winner
	dispute.Resolved = true
	dispute.ResolvedAt = now

	rewarded := dispute.JurorsFor(winner)
	split, err := e.schedule.Arbitrate(offer.Price, len(rewarded))
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Credit(winner, split.Winner); err != nil {
		return nil, err
	}
	for _, juror := range rewarded {
		if err := e.ledger.Credit(juror, split.PerJuror); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.CreditFee(split.Fee); err != nil {
		return nil, err
	}
	if err := e.ledger.RecordUndistributed(split.Undistributed); err != nil {
		return nil, err
	}
	if _, err := e.offers.MarkResolved(offer.ID); err != nil {
		return nil, err
	}
	return &split, nil
}
