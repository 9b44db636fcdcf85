package errors

import stderrors "errors"

// Kind classifies a rejection so transports can map it without enumerating
// every sentinel.
type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthorization
	KindState
	KindValidation
	KindTiming
	KindLedger
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	case KindTiming:
		return "timing"
	case KindLedger:
		return "ledger"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var (
	ErrUnauthorized = stderrors.New("escrow: unauthorized")

	ErrOfferNotOpen      = stderrors.New("escrow: offer not open")
	ErrOfferNotAccepted  = stderrors.New("escrow: offer not accepted")
	ErrNotDisputable     = stderrors.New("escrow: offer not disputable")
	ErrNotDisputed       = stderrors.New("escrow: offer not under dispute")
	ErrAlreadyAccepted   = stderrors.New("escrow: offer already accepted")
	ErrAlreadyDisputed   = stderrors.New("escrow: offer already disputed")
	ErrAlreadyResolved   = stderrors.New("escrow: dispute already resolved")
	ErrAlreadyVoted      = stderrors.New("escrow: juror already voted")
	ErrAlreadyRegistered = stderrors.New("escrow: account already registered")
	ErrNoProofSubmitted  = stderrors.New("escrow: no proof submitted")
	ErrModulePaused      = stderrors.New("escrow: module paused")
	ErrReentrantCall     = stderrors.New("escrow: re-entrant call")

	ErrInvalidRole         = stderrors.New("escrow: invalid role")
	ErrPriceMustBePositive = stderrors.New("escrow: price must be positive")
	ErrAmountOutOfRange    = stderrors.New("escrow: amount exceeds 128 bits")
	ErrIncorrectPayment    = stderrors.New("escrow: incorrect payment")
	ErrProofRequired       = stderrors.New("escrow: proof required")
	ErrInvalidVote         = stderrors.New("escrow: invalid vote")
	ErrUnknownModule       = stderrors.New("escrow: unknown module")

	ErrDeliveryTimeout = stderrors.New("escrow: delivery timeout")
	ErrTooEarly        = stderrors.New("escrow: too early")

	ErrNothingToWithdraw = stderrors.New("escrow: nothing to withdraw")
	ErrNoFees            = stderrors.New("escrow: no fees")
	ErrTransferFailed    = stderrors.New("escrow: transfer failed")

	ErrAccountNotFound = stderrors.New("escrow: account not found")
	ErrOfferNotFound   = stderrors.New("escrow: offer not found")
	ErrDisputeNotFound = stderrors.New("escrow: dispute not found")
)

type classified struct {
	err  error
	name string
	kind Kind
}

var taxonomy = []classified{
	{ErrUnauthorized, "Unauthorized", KindAuthorization},
	{ErrOfferNotOpen, "OfferNotOpen", KindState},
	{ErrOfferNotAccepted, "OfferNotAccepted", KindState},
	{ErrNotDisputable, "NotDisputable", KindState},
	{ErrNotDisputed, "NotDisputed", KindState},
	{ErrAlreadyAccepted, "AlreadyAccepted", KindState},
	{ErrAlreadyDisputed, "AlreadyDisputed", KindState},
	{ErrAlreadyResolved, "AlreadyResolved", KindState},
	{ErrAlreadyVoted, "AlreadyVoted", KindState},
	{ErrAlreadyRegistered, "AlreadyRegistered", KindState},
	{ErrNoProofSubmitted, "NoProofSubmitted", KindState},
	{ErrModulePaused, "ModulePaused", KindState},
	{ErrReentrantCall, "ReentrantCall", KindState},
	{ErrInvalidRole, "InvalidRole", KindValidation},
	{ErrPriceMustBePositive, "PriceMustBePositive", KindValidation},
	{ErrAmountOutOfRange, "AmountOutOfRange", KindValidation},
	{ErrIncorrectPayment, "IncorrectPayment", KindValidation},
	{ErrProofRequired, "ProofRequired", KindValidation},
	{ErrInvalidVote, "InvalidVote", KindValidation},
	{ErrUnknownModule, "UnknownModule", KindValidation},
	{ErrDeliveryTimeout, "DeliveryTimeout", KindTiming},
	{ErrTooEarly, "TooEarly", KindTiming},
	{ErrNothingToWithdraw, "NothingToWithdraw", KindLedger},
	{ErrNoFees, "NoFees", KindLedger},
	{ErrTransferFailed, "TransferFailed", KindLedger},
	{ErrAccountNotFound, "AccountNotFound", KindNotFound},
	{ErrOfferNotFound, "OfferNotFound", KindNotFound},
	{ErrDisputeNotFound, "DisputeNotFound", KindNotFound},
}

func lookup(err error) (classified, bool) {
	if err == nil {
		return classified{}, false
	}
	for _, entry := range taxonomy {
		if stderrors.Is(err, entry.err) {
			return entry, true
		}
	}
	return classified{}, false
}

// KindOf returns the taxonomy bucket for err. Unknown errors are internal.
func KindOf(err error) Kind {
	entry, ok := lookup(err)
	if !ok {
		return KindInternal
	}
	return entry.kind
}

// NameOf returns the stable rejection name for err, e.g. "DeliveryTimeout".
// Unknown errors map to "Internal".
func NameOf(err error) string {
	entry, ok := lookup(err)
	if !ok {
		return "Internal"
	}
	return entry.name
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }
