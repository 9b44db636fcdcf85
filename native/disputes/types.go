package disputes

import (
	"juryledger/crypto"
)

// ResolutionThreshold is the tally that settles a dispute. The first side to
// reach it wins on that vote.
const ResolutionThreshold = 2

// Ballot is a single juror vote. Ballots are kept in arrival order.
type Ballot struct {
	Juror    crypto.Address `json:"juror"`
	VotedFor crypto.Address `json:"votedFor"`
	CastAt   int64          `json:"castAt"`
}

// Dispute is the voting record for one offer. It is created when the dispute
// is opened and never deleted.
type Dispute struct {
	OfferID           uint64         `json:"offerId"`
	Exists            bool           `json:"exists"`
	Ballots           []Ballot       `json:"ballots"`
	VotesForRequester uint32         `json:"votesForRequester"`
	VotesForProvider  uint32         `json:"votesForProvider"`
	Winner            crypto.Address `json:"winner"`
	Resolved          bool           `json:"resolved"`
	OpenedAt          int64          `json:"openedAt"`
	ResolvedAt        int64          `json:"resolvedAt"`
}

// HasVoted reports whether juror already cast a ballot.
func (d *Dispute) HasVoted(juror crypto.Address) bool {
	for _, b := range d.Ballots {
		if b.Juror == juror {
			return true
		}
	}
	return false
}

// JurorOrder returns the jurors in voting order.
func (d *Dispute) JurorOrder() []crypto.Address {
	out := make([]crypto.Address, 0, len(d.Ballots))
	for _, b := range d.Ballots {
		out = append(out, b.Juror)
	}
	return out
}

// Votes maps each juror to the party they voted for.
func (d *Dispute) Votes() map[crypto.Address]crypto.Address {
	out := make(map[crypto.Address]crypto.Address, len(d.Ballots))
	for _, b := range d.Ballots {
		out[b.Juror] = b.VotedFor
	}
	return out
}

// JurorsFor returns, in voting order, the jurors who voted for party.
func (d *Dispute) JurorsFor(party crypto.Address) []crypto.Address {
	var out []crypto.Address
	for _, b := range d.Ballots {
		if b.VotedFor == party {
			out = append(out, b.Juror)
		}
	}
	return out
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Ballots = append([]Ballot(nil), d.Ballots...)
	return &clone
}

type storedBallot struct {
	Juror    [20]byte
	VotedFor [20]byte
	CastAt   uint64
}

type storedDispute struct {
	OfferID           uint64
	Ballots           []storedBallot
	VotesForRequester uint32
	VotesForProvider  uint32
	Winner            [20]byte
	Resolved          bool
	OpenedAt          uint64
	ResolvedAt        uint64
}

func newStoredDispute(d *Dispute) storedDispute {
	ballots := make([]storedBallot, 0, len(d.Ballots))
	for _, b := range d.Ballots {
		ballots = append(ballots, storedBallot{Juror: b.Juror, VotedFor: b.VotedFor, CastAt: nonNegative(b.CastAt)})
	}
	return storedDispute{
		OfferID:           d.OfferID,
		Ballots:           ballots,
		VotesForRequester: d.VotesForRequester,
		VotesForProvider:  d.VotesForProvider,
		Winner:            d.Winner,
		Resolved:          d.Resolved,
		OpenedAt:          nonNegative(d.OpenedAt),
		ResolvedAt:        nonNegative(d.ResolvedAt),
	}
}

func (s storedDispute) toDispute() *Dispute {
	ballots := make([]Ballot, 0, len(s.Ballots))
	for _, b := range s.Ballots {
		ballots = append(ballots, Ballot{Juror: b.Juror, VotedFor: b.VotedFor, CastAt: int64(b.CastAt)})
	}
	return &Dispute{
		OfferID:           s.OfferID,
		Exists:            true,
		Ballots:           ballots,
		VotesForRequester: s.VotesForRequester,
		VotesForProvider:  s.VotesForProvider,
		Winner:            s.Winner,
		Resolved:          s.Resolved,
		OpenedAt:          int64(s.OpenedAt),
		ResolvedAt:        int64(s.ResolvedAt),
	}
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
