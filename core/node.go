package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"juryledger/core/events"
	escrowerrors "juryledger/core/errors"
	"juryledger/core/state"
	"juryledger/crypto"
	"juryledger/native/accounts"
	"juryledger/native/bank"
	"juryledger/native/common"
	"juryledger/native/disputes"
	"juryledger/native/fees"
	"juryledger/native/ledger"
	"juryledger/native/offers"
	"juryledger/observability"
	"juryledger/storage"
)

// Config wires the node's collaborators.
type Config struct {
	// Admin is the only account allowed to withdraw platform fees and pause
	// modules.
	Admin    crypto.Address
	Schedule fees.Schedule
	// Transferer moves withdrawn value out of custody. Nil selects an
	// in-process bank.Vault.
	Transferer bank.Transferer
	Logger     *slog.Logger
	Metrics    *observability.LedgerMetrics
}

// Node is the execution environment of the ledger. Every operation runs under
// a single state mutex against a fresh write-buffered state overlay; the
// overlay is committed and the buffered events are published only when the
// operation succeeds.
type Node struct {
	db         storage.Database
	stateMu    sync.Mutex
	guard      *common.ReentrancyGuard
	events     *events.Broadcaster
	schedule   fees.Schedule
	admin      crypto.Address
	transferer bank.Transferer
	nowFn      func() int64
	logger     *slog.Logger
	metrics    *observability.LedgerMetrics
}

// NewNode validates cfg and returns a node operating on db.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if cfg.Admin.IsZero() {
		return nil, fmt.Errorf("core: admin address required")
	}
	schedule := cfg.Schedule
	if schedule == (fees.Schedule{}) {
		schedule = fees.DefaultSchedule()
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	transferer := cfg.Transferer
	if transferer == nil {
		transferer = bank.NewVault()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:         db,
		guard:      common.NewReentrancyGuard(),
		events:     events.NewBroadcaster(),
		schedule:   schedule,
		admin:      cfg.Admin,
		transferer: transferer,
		nowFn:      func() int64 { return time.Now().Unix() },
		logger:     logger.With(slog.String("component", "node")),
		metrics:    cfg.Metrics,
	}, nil
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

// SetTransferer replaces the value-transfer primitive.
func (n *Node) SetTransferer(t bank.Transferer) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if t == nil {
		t = bank.NewVault()
	}
	n.transferer = t
}

// Events exposes the broadcaster receiving every committed event.
func (n *Node) Events() *events.Broadcaster { return n.events }

// Admin returns the configured administrator.
func (n *Node) Admin() crypto.Address { return n.admin }

// Schedule returns the deployment fee schedule.
func (n *Node) Schedule() fees.Schedule { return n.schedule }

type engines struct {
	accounts *accounts.Engine
	ledger   *ledger.Engine
	offers   *offers.Engine
	disputes *disputes.Engine
}

func (n *Node) newEngines(mgr *state.Manager, emitter events.Emitter) *engines {
	registry := accounts.NewEngine()
	registry.SetState(mgr)
	registry.SetEmitter(emitter)
	registry.SetNowFunc(n.nowFn)

	book := ledger.NewEngine()
	book.SetState(mgr)
	book.SetEmitter(emitter)
	book.SetAdmin(n.admin)

	offerEngine := offers.NewEngine()
	offerEngine.SetState(mgr)
	offerEngine.SetEmitter(emitter)
	offerEngine.SetNowFunc(n.nowFn)
	offerEngine.SetRegistry(registry)
	offerEngine.SetLedger(book)
	offerEngine.SetSchedule(n.schedule)

	disputeEngine := disputes.NewEngine()
	disputeEngine.SetState(mgr)
	disputeEngine.SetEmitter(emitter)
	disputeEngine.SetNowFunc(n.nowFn)
	disputeEngine.SetRegistry(registry)
	disputeEngine.SetLedger(book)
	disputeEngine.SetOffers(offerEngine)
	disputeEngine.SetSchedule(n.schedule)
	offerEngine.SetDisputes(disputeEngine)

	return &engines{accounts: registry, ledger: book, offers: offerEngine, disputes: disputeEngine}
}

// apply runs fn under the state lock against a fresh overlay and commits it
// when fn succeeds. With publish set, buffered events are flushed to the
// broadcaster while the lock is still held so subscribers observe commit
// order.
func (n *Node) apply(buf *events.Buffer, publish bool, fn func(*engines, *state.Manager) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	var emitter events.Emitter = events.NoopEmitter{}
	if buf != nil {
		emitter = buf
	}
	mgr := state.NewManager(n.db)
	if err := fn(n.newEngines(mgr, emitter), mgr); err != nil {
		mgr.Discard()
		buf.Discard()
		return err
	}
	if err := mgr.Commit(); err != nil {
		buf.Discard()
		return err
	}
	if publish {
		buf.Flush(n.events)
	}
	return nil
}

func (n *Node) publish(buf *events.Buffer) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	buf.Flush(n.events)
}

func (n *Node) view(fn func(*engines) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return fn(n.newEngines(state.NewManager(n.db), events.NoopEmitter{}))
}

// execute is the entry point of every mutating operation that does not move
// value out of custody. module names the pausable module guarding the call.
func (n *Node) execute(op string, caller crypto.Address, module string, fn func(*engines) error) error {
	start := time.Now()
	err := n.guard.Check(caller)
	if err == nil {
		err = n.apply(events.NewBuffer(), true, func(eng *engines, mgr *state.Manager) error {
			if err := common.Guard(pauseView{mgr: mgr}, module); err != nil {
				return err
			}
			return fn(eng)
		})
	}
	n.observe(op, caller, start, err)
	return err
}

func (n *Node) observe(op string, caller crypto.Address, start time.Time, err error, attrs ...slog.Attr) {
	n.metrics.Observe(op, time.Since(start), err)
	base := []any{slog.String("operation", op), slog.String("account", caller.String())}
	for _, attr := range attrs {
		base = append(base, attr)
	}
	if err != nil {
		if escrowerrors.KindOf(err) == escrowerrors.KindInternal {
			n.logger.Error("operation failed", append(base, slog.Any("error", err))...)
			return
		}
		n.logger.Debug("operation rejected", append(base, slog.String("code", escrowerrors.NameOf(err)))...)
		return
	}
	n.logger.Debug("operation committed", base...)
}

// Register assigns role to caller. Registration is never paused.
func (n *Node) Register(caller crypto.Address, role accounts.Role) (*accounts.Account, error) {
	var acc *accounts.Account
	err := n.execute("register", caller, "", func(eng *engines) error {
		var err error
		acc, err = eng.accounts.Register(caller, role)
		return err
	})
	return acc, err
}

// CreateOffer publishes a new Open offer from a provider.
func (n *Node) CreateOffer(caller crypto.Address, descriptionRef string, price *big.Int, deliveryTimeoutSeconds uint64) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.execute("create_offer", caller, common.ModuleOffers, func(eng *engines) error {
		var err error
		offer, err = eng.offers.Create(caller, descriptionRef, price, deliveryTimeoutSeconds)
		return err
	})
	return offer, err
}

// AcceptOffer binds a requester to an Open offer; paidAmount must equal the
// price.
func (n *Node) AcceptOffer(caller crypto.Address, offerID uint64, paidAmount *big.Int) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.execute("accept_offer", caller, common.ModuleOffers, func(eng *engines) error {
		var err error
		offer, err = eng.offers.Accept(caller, offerID, paidAmount)
		return err
	})
	return offer, err
}

// SubmitProof records the provider's proof of delivery.
func (n *Node) SubmitProof(caller crypto.Address, offerID uint64, proofRef, comment string) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.execute("submit_proof", caller, common.ModuleOffers, func(eng *engines) error {
		var err error
		offer, err = eng.offers.SubmitProof(caller, offerID, proofRef, comment)
		return err
	})
	return offer, err
}

// ConfirmDelivery settles an Accepted offer in the provider's favour.
func (n *Node) ConfirmDelivery(caller crypto.Address, offerID uint64) (*offers.Offer, error) {
	var (
		offer *offers.Offer
		split fees.Settlement
	)
	err := n.execute("confirm_delivery", caller, common.ModuleOffers, func(eng *engines) error {
		var err error
		offer, split, err = eng.offers.Confirm(caller, offerID)
		return err
	})
	if err == nil {
		n.logger.Info("offer settled",
			slog.Uint64("offer", offerID),
			slog.String("provider", offer.Provider.String()),
			slog.String("amount", split.Provider.String()),
			slog.String("fee", split.Fee.String()))
	}
	return offer, err
}

// CancelOffer withdraws an Open offer.
func (n *Node) CancelOffer(caller crypto.Address, offerID uint64) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.execute("cancel_offer", caller, common.ModuleOffers, func(eng *engines) error {
		var err error
		offer, err = eng.offers.Cancel(caller, offerID)
		return err
	})
	return offer, err
}

// DisputeOffer opens a dispute once the delivery window has elapsed.
func (n *Node) DisputeOffer(caller crypto.Address, offerID uint64) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.execute("dispute_offer", caller, common.ModuleDisputes, func(eng *engines) error {
		var err error
		offer, err = eng.offers.Dispute(caller, offerID)
		return err
	})
	return offer, err
}

// Vote records a juror ballot and resolves the dispute on the deciding vote.
func (n *Node) Vote(caller crypto.Address, offerID uint64, votedFor crypto.Address) (*disputes.Dispute, error) {
	var (
		dispute *disputes.Dispute
		split   *fees.Arbitration
	)
	err := n.execute("vote", caller, common.ModuleDisputes, func(eng *engines) error {
		var err error
		dispute, split, err = eng.disputes.Vote(caller, offerID, votedFor)
		return err
	})
	if err == nil && split != nil {
		n.logger.Info("dispute resolved",
			slog.Uint64("offer", offerID),
			slog.String("winner", dispute.Winner.String()),
			slog.String("amount", split.Winner.String()),
			slog.String("perJuror", split.PerJuror.String()),
			slog.String("undistributed", split.Undistributed.String()))
	}
	return dispute, err
}

type payoutKind struct {
	name    string
	op      string
	debit   func(*ledger.Engine, crypto.Address) (*big.Int, error)
	restore func(*ledger.Engine, crypto.Address, *big.Int) error
}

var (
	balancePayout = payoutKind{
		name:  "balance",
		op:    "withdraw",
		debit: (*ledger.Engine).Withdraw,
		restore: func(l *ledger.Engine, addr crypto.Address, amount *big.Int) error {
			return l.Restore(addr, amount)
		},
	}
	feePayout = payoutKind{
		name:  "fees",
		op:    "withdraw_fees",
		debit: (*ledger.Engine).WithdrawFees,
		restore: func(l *ledger.Engine, _ crypto.Address, amount *big.Int) error {
			return l.RestoreFees(amount)
		},
	}
)

// Withdraw pays out the caller's whole balance.
func (n *Node) Withdraw(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	return n.payout(ctx, caller, balancePayout)
}

// WithdrawFees pays the accumulated platform fees to the admin.
func (n *Node) WithdrawFees(ctx context.Context, caller crypto.Address) (*big.Int, error) {
	return n.payout(ctx, caller, feePayout)
}

// payout zeroes the source balance and commits that write before calling the
// transfer primitive. The caller stays held by the re-entrancy guard until the
// transfer returns, and the state lock is released meanwhile so the
// transferer may call back into the node for other accounts. A failed
// transfer re-credits exactly the debited amount and the withdrawal event is
// dropped.
func (n *Node) payout(ctx context.Context, caller crypto.Address, kind payoutKind) (*big.Int, error) {
	start := time.Now()
	release, err := n.guard.Enter(caller)
	if err != nil {
		n.observe(kind.op, caller, start, err)
		return nil, err
	}
	defer release()

	buf := events.NewBuffer()
	var (
		amount     *big.Int
		transferer bank.Transferer
	)
	err = n.apply(buf, false, func(eng *engines, mgr *state.Manager) error {
		if err := common.Guard(pauseView{mgr: mgr}, common.ModuleLedger); err != nil {
			return err
		}
		transferer = n.transferer
		var err error
		amount, err = kind.debit(eng.ledger, caller)
		return err
	})
	if err != nil {
		n.observe(kind.op, caller, start, err)
		return nil, err
	}

	if terr := transferer.Transfer(ctx, caller, new(big.Int).Set(amount)); terr != nil {
		buf.Discard()
		n.metrics.RecordPayout(kind.name, false)
		err = fmt.Errorf("%w: %v", escrowerrors.ErrTransferFailed, terr)
		if rerr := n.apply(nil, false, func(eng *engines, _ *state.Manager) error {
			return kind.restore(eng.ledger, caller, amount)
		}); rerr != nil {
			n.logger.Error("restore after failed transfer",
				slog.String("account", caller.String()),
				slog.String("amount", amount.String()),
				slog.Any("error", rerr))
			err = errors.Join(err, rerr)
		}
		n.logger.Warn("transfer failed",
			slog.String("account", caller.String()),
			slog.String("amount", amount.String()),
			slog.Any("error", terr))
		n.observe(kind.op, caller, start, err)
		return nil, err
	}

	n.publish(buf)
	n.metrics.RecordPayout(kind.name, true)
	n.logger.Info("funds transferred",
		slog.String("kind", kind.name),
		slog.String("account", caller.String()),
		slog.String("amount", amount.String()))
	n.observe(kind.op, caller, start, nil)
	return amount, nil
}

// Account returns the registry record of addr.
func (n *Node) Account(addr crypto.Address) (*accounts.Account, error) {
	var acc *accounts.Account
	err := n.view(func(eng *engines) error {
		var err error
		acc, err = eng.accounts.Account(addr)
		return err
	})
	return acc, err
}

// Offer returns the offer with the supplied id.
func (n *Node) Offer(offerID uint64) (*offers.Offer, error) {
	var offer *offers.Offer
	err := n.view(func(eng *engines) error {
		var err error
		offer, err = eng.offers.Offer(offerID)
		return err
	})
	return offer, err
}

// OfferCount returns the number of offers ever created.
func (n *Node) OfferCount() (uint64, error) {
	var count uint64
	err := n.view(func(eng *engines) error {
		var err error
		count, err = eng.offers.Count()
		return err
	})
	return count, err
}

// DisputeDetails returns the dispute record of an offer.
func (n *Node) DisputeDetails(offerID uint64) (*disputes.Dispute, error) {
	var dispute *disputes.Dispute
	err := n.view(func(eng *engines) error {
		var err error
		dispute, err = eng.disputes.Details(offerID)
		return err
	})
	return dispute, err
}

// OffersByAccount lists the offers addr created or accepted.
func (n *Node) OffersByAccount(addr crypto.Address) ([]uint64, error) {
	var ids []uint64
	err := n.view(func(eng *engines) error {
		var err error
		ids, err = eng.offers.OffersByAccount(addr)
		return err
	})
	return ids, err
}

// Balance returns the withdrawable balance of addr.
func (n *Node) Balance(addr crypto.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.view(func(eng *engines) error {
		var err error
		balance, err = eng.ledger.Balance(addr)
		return err
	})
	return balance, err
}

// PlatformFees returns the accumulated platform fees.
func (n *Node) PlatformFees() (*big.Int, error) {
	var amount *big.Int
	err := n.view(func(eng *engines) error {
		var err error
		amount, err = eng.ledger.PlatformFees()
		return err
	})
	return amount, err
}

// Audit returns the conservation audit of the ledger and publishes its
// buckets as gauges.
func (n *Node) Audit() (*ledger.Audit, error) {
	var audit *ledger.Audit
	err := n.view(func(eng *engines) error {
		var err error
		audit, err = eng.ledger.Audit()
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.SetCustody("balances", audit.Balances)
	n.metrics.SetCustody("fees", audit.PlatformFees)
	n.metrics.SetCustody("undistributed", audit.Undistributed)
	n.metrics.SetCustody("deposited", audit.Deposited)
	if !audit.Balanced {
		n.logger.Error("ledger audit unbalanced",
			slog.String("deposited", audit.Deposited.String()),
			slog.String("balances", audit.Balances.String()),
			slog.String("fees", audit.PlatformFees.String()))
	}
	return audit, nil
}
