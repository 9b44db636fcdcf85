package escrowd

import (
	"math/big"

	"juryledger/crypto"
	"juryledger/native/accounts"
	"juryledger/native/ledger"
	"juryledger/native/offers"
)

type accountView struct {
	Address      string `json:"address"`
	Role         string `json:"role"`
	Registered   bool   `json:"registered"`
	RegisteredAt int64  `json:"registeredAt,omitempty"`
}

func newAccountView(acc *accounts.Account) accountView {
	return accountView{
		Address:      acc.Address.String(),
		Role:         acc.Role.String(),
		Registered:   acc.Registered,
		RegisteredAt: acc.RegisteredAt,
	}
}

type offerView struct {
	ID                     uint64 `json:"id"`
	Provider               string `json:"provider"`
	Requester              string `json:"requester,omitempty"`
	Price                  string `json:"price"`
	DescriptionRef         string `json:"descriptionRef"`
	Status                 string `json:"status"`
	CreatedAt              int64  `json:"createdAt"`
	AcceptedAt             int64  `json:"acceptedAt,omitempty"`
	DeliveryTimeoutSeconds uint64 `json:"deliveryTimeoutSeconds"`
	ProofRef               string `json:"proofRef,omitempty"`
	Comment                string `json:"comment,omitempty"`
}

func newOfferView(o *offers.Offer) offerView {
	return offerView{
		ID:                     o.ID,
		Provider:               o.Provider.String(),
		Requester:              o.Requester.String(),
		Price:                  amountString(o.Price),
		DescriptionRef:         o.DescriptionRef,
		Status:                 o.Status.String(),
		CreatedAt:              o.CreatedAt,
		AcceptedAt:             o.AcceptedAt,
		DeliveryTimeoutSeconds: o.DeliveryTimeoutSeconds,
		ProofRef:               o.ProofRef,
		Comment:                o.Comment,
	}
}

type amountView struct {
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount"`
}

func newAmountView(addr crypto.Address, amount *big.Int) amountView {
	return amountView{Account: addr.String(), Amount: amountString(amount)}
}

type auditView struct {
	Deposited     string `json:"deposited"`
	Balances      string `json:"balances"`
	PlatformFees  string `json:"platformFees"`
	Undistributed string `json:"undistributed"`
	Withdrawn     string `json:"withdrawn"`
	FeesWithdrawn string `json:"feesWithdrawn"`
	Holders       int    `json:"holders"`
	Balanced      bool   `json:"balanced"`
}

func newAuditView(a *ledger.Audit) auditView {
	return auditView{
		Deposited:     amountString(a.Deposited),
		Balances:      amountString(a.Balances),
		PlatformFees:  amountString(a.PlatformFees),
		Undistributed: amountString(a.Undistributed),
		Withdrawn:     amountString(a.Withdrawn),
		FeesWithdrawn: amountString(a.FeesWithdrawn),
		Holders:       a.Holders,
		Balanced:      a.Balanced,
	}
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	OfferID    uint64            `json:"offerId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	CreatedAt  int64             `json:"createdAt"`
}

func newEventView(row ArchivedEvent) (eventView, error) {
	evt, err := row.Event()
	if err != nil {
		return eventView{}, err
	}
	return eventView{
		Sequence:   row.Sequence,
		Type:       row.Type,
		OfferID:    row.OfferID,
		Attributes: evt.Attributes,
		Digest:     row.Digest,
		CreatedAt:  row.CreatedAt.Unix(),
	}, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, badRequest(field + " required")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, badRequest(field + " must be a base-10 integer")
	}
	return v, nil
}
