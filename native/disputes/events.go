package disputes

import (
	"strconv"

	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/native/fees"
)

const (
	EventTypeVoteCast        = "dispute.vote_cast"
	EventTypeDisputeResolved = "dispute.resolved"
)

// NewVoteCastEvent returns the payload emitted for every accepted ballot.
func NewVoteCastEvent(offerID uint64, juror, votedFor crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeVoteCast, Attributes: map[string]string{
		"id":       strconv.FormatUint(offerID, 10),
		"juror":    juror.String(),
		"votedFor": votedFor.String(),
	}}
}

// NewResolvedEvent returns the payload emitted when a side reaches the
// resolution threshold.
func NewResolvedEvent(d *Dispute, split *fees.Arbitration) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["id"] = strconv.FormatUint(d.OfferID, 10)
		attrs["winner"] = d.Winner.String()
	}
	if split != nil {
		attrs["winnerShare"] = split.Winner.String()
		attrs["fee"] = split.Fee.String()
		attrs["perJuror"] = split.PerJuror.String()
		attrs["undistributed"] = split.Undistributed.String()
	}
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}
