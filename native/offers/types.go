package offers

import (
	"fmt"
	"math/big"
	"strings"

	"juryledger/crypto"
)

// Status is the lifecycle position of an offer. Transitions only move forward:
// Open -> Accepted -> {Completed | Disputed -> Resolved}, or Open -> Cancelled.
type Status uint8

const (
	StatusOpen Status = iota
	StatusAccepted
	StatusCompleted
	StatusCancelled
	StatusDisputed
	StatusResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusResolved
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusResolved
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusAccepted:
		return "Accepted"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusDisputed:
		return "Disputed"
	case StatusResolved:
		return "Resolved"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(raw string) (Status, error) {
	for s := StatusOpen; s <= StatusResolved; s++ {
		if strings.EqualFold(strings.TrimSpace(raw), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("offers: unknown status %q", raw)
}

// CanTransition reports whether next directly follows s in the lifecycle.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusAccepted || next == StatusCancelled
	case StatusAccepted:
		return next == StatusCompleted || next == StatusDisputed
	case StatusDisputed:
		return next == StatusResolved
	default:
		return false
	}
}

// Offer is a provider's priced proposal and its lifecycle state.
type Offer struct {
	ID                     uint64         `json:"id"`
	Provider               crypto.Address `json:"provider"`
	Requester              crypto.Address `json:"requester"`
	Price                  *big.Int       `json:"price"`
	DescriptionRef         string         `json:"descriptionRef"`
	Status                 Status         `json:"status"`
	CreatedAt              int64          `json:"createdAt"`
	AcceptedAt             int64          `json:"acceptedAt"`
	DeliveryTimeoutSeconds uint64         `json:"deliveryTimeoutSeconds"`
	ProofRef               string         `json:"proofRef"`
	Comment                string         `json:"comment"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// HasRequester reports whether the offer has been accepted by someone.
func (o *Offer) HasRequester() bool { return !o.Requester.IsZero() }

// IsParty reports whether addr is the provider or the requester.
func (o *Offer) IsParty(addr crypto.Address) bool {
	if addr.IsZero() {
		return false
	}
	return addr == o.Provider || addr == o.Requester
}

// WindowElapsed reports whether now is strictly past acceptedAt + timeout.
// Equality is still inside the delivery window.
func (o *Offer) WindowElapsed(now int64) bool {
	if now <= o.AcceptedAt {
		return false
	}
	return uint64(now-o.AcceptedAt) > o.DeliveryTimeoutSeconds
}

type storedOffer struct {
	ID                     uint64
	Provider               [20]byte
	Requester              [20]byte
	Price                  *big.Int
	DescriptionRef         string
	Status                 uint8
	CreatedAt              uint64
	AcceptedAt             uint64
	DeliveryTimeoutSeconds uint64
	ProofRef               string
	Comment                string
}

func newStoredOffer(o *Offer) storedOffer {
	price := o.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return storedOffer{
		ID:                     o.ID,
		Provider:               o.Provider,
		Requester:              o.Requester,
		Price:                  price,
		DescriptionRef:         o.DescriptionRef,
		Status:                 uint8(o.Status),
		CreatedAt:              nonNegative(o.CreatedAt),
		AcceptedAt:             nonNegative(o.AcceptedAt),
		DeliveryTimeoutSeconds: o.DeliveryTimeoutSeconds,
		ProofRef:               o.ProofRef,
		Comment:                o.Comment,
	}
}

func (s storedOffer) toOffer() *Offer {
	price := s.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return &Offer{
		ID:                     s.ID,
		Provider:               s.Provider,
		Requester:              s.Requester,
		Price:                  new(big.Int).Set(price),
		DescriptionRef:         s.DescriptionRef,
		Status:                 Status(s.Status),
		CreatedAt:              int64(s.CreatedAt),
		AcceptedAt:             int64(s.AcceptedAt),
		DeliveryTimeoutSeconds: s.DeliveryTimeoutSeconds,
		ProofRef:               s.ProofRef,
		Comment:                s.Comment,
	}
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
