package offers

import (
	"strconv"

	"juryledger/core/types"
)

const (
	EventTypeOfferCreated      = "offer.created"
	EventTypeOfferAccepted     = "offer.accepted"
	EventTypeProofSubmitted    = "offer.proof_submitted"
	EventTypeDeliveryConfirmed = "offer.delivery_confirmed"
	EventTypeOfferDisputed     = "offer.disputed"
	EventTypeOfferCancelled    = "offer.cancelled"
)

// NewCreatedEvent returns the payload for a newly created offer.
func NewCreatedEvent(o *Offer) *types.Event {
	attrs := baseAttrs(o)
	if o != nil {
		attrs["provider"] = o.Provider.String()
		attrs["price"] = o.Price.String()
		attrs["descriptionRef"] = o.DescriptionRef
		attrs["deliveryTimeoutSeconds"] = strconv.FormatUint(o.DeliveryTimeoutSeconds, 10)
	}
	return &types.Event{Type: EventTypeOfferCreated, Attributes: attrs}
}

// NewAcceptedEvent returns the payload emitted when a requester accepts.
func NewAcceptedEvent(o *Offer) *types.Event {
	attrs := baseAttrs(o)
	if o != nil {
		attrs["requester"] = o.Requester.String()
		attrs["acceptedAt"] = strconv.FormatInt(o.AcceptedAt, 10)
	}
	return &types.Event{Type: EventTypeOfferAccepted, Attributes: attrs}
}

// NewProofSubmittedEvent returns the payload emitted on each proof submission.
func NewProofSubmittedEvent(o *Offer) *types.Event {
	attrs := baseAttrs(o)
	if o != nil {
		attrs["proofRef"] = o.ProofRef
		attrs["comment"] = o.Comment
	}
	return &types.Event{Type: EventTypeProofSubmitted, Attributes: attrs}
}

// NewDeliveryConfirmedEvent returns the payload emitted on settlement.
func NewDeliveryConfirmedEvent(o *Offer) *types.Event {
	return &types.Event{Type: EventTypeDeliveryConfirmed, Attributes: baseAttrs(o)}
}

// NewDisputedEvent returns the payload emitted when a dispute is opened.
func NewDisputedEvent(o *Offer, by string) *types.Event {
	attrs := baseAttrs(o)
	if by != "" {
		attrs["openedBy"] = by
	}
	return &types.Event{Type: EventTypeOfferDisputed, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when a provider cancels.
func NewCancelledEvent(o *Offer) *types.Event {
	return &types.Event{Type: EventTypeOfferCancelled, Attributes: baseAttrs(o)}
}

func baseAttrs(o *Offer) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(o.ID, 10)
	return attrs
}
