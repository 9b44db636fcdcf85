package escrowd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	escrowerrors "juryledger/core/errors"
	"juryledger/crypto"
	"juryledger/native/accounts"
)

type registerRequest struct {
	Role string `json:"role"`
}

type createOfferRequest struct {
	DescriptionRef         string `json:"descriptionRef"`
	Price                  string `json:"price"`
	DeliveryTimeoutSeconds uint64 `json:"deliveryTimeoutSeconds"`
}

type acceptOfferRequest struct {
	PaidAmount string `json:"paidAmount"`
}

type submitProofRequest struct {
	ProofRef string `json:"proofRef"`
	Comment  string `json:"comment"`
}

type voteRequest struct {
	VotedFor string `json:"votedFor"`
}

func addressParam(r *http.Request) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return crypto.ZeroAddress, badRequest("invalid address: " + err.Error())
	}
	return addr, nil
}

func offerIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid offer id")
	}
	return id, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, _ *http.Request, caller crypto.Address, body []byte) {
	var req registerRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, err)
		return
	}
	role, err := accounts.ParseRole(req.Role)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", escrowerrors.ErrInvalidRole, err))
		return
	}
	acc, err := s.node.Register(caller, role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(acc))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	acc, err := s.node.Account(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleAccountOffers(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.node.OffersByAccount(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]offerView, 0, len(ids))
	for _, id := range ids {
		offer, err := s.node.Offer(id)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, newOfferView(offer))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": addr.String(), "offers": views})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(addr, balance))
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, _ *http.Request, caller crypto.Address, body []byte) {
	var req createOfferRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.CreateOffer(caller, req.DescriptionRef, price, req.DeliveryTimeoutSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOfferView(offer))
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.Offer(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, caller crypto.Address, body []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptOfferRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, err)
		return
	}
	paid, err := parseAmount("paidAmount", req.PaidAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.AcceptOffer(caller, id, paid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request, caller crypto.Address, body []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req submitProofRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.SubmitProof(caller, id, req.ProofRef, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.ConfirmDelivery(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.CancelOffer(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	offer, err := s.node.DisputeOffer(caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, caller crypto.Address, body []byte) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req voteRequest
	if err := decodeBody(body, &req); err != nil {
		writeError(w, err)
		return
	}
	votedFor, err := crypto.ParseAddress(req.VotedFor)
	if err != nil {
		writeError(w, badRequest("invalid votedFor: "+err.Error()))
		return
	}
	dispute, err := s.node.Vote(caller, id, votedFor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispute)
}

func (s *Server) handleDisputeDetails(w http.ResponseWriter, r *http.Request) {
	id, err := offerIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dispute, err := s.node.DisputeDetails(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dispute)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), payoutTimeout)
	defer cancel()
	amount, err := s.node.Withdraw(ctx, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(caller, amount))
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), payoutTimeout)
	defer cancel()
	amount, err := s.node.WithdrawFees(ctx, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAmountView(caller, amount))
}

func (s *Server) handlePlatformFees(w http.ResponseWriter, _ *http.Request) {
	amount, err := s.node.PlatformFees()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Amount: amountString(amount)})
}

func (s *Server) handleAudit(w http.ResponseWriter, _ *http.Request) {
	audit, err := s.node.Audit()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditView(audit))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	s.setPaused(w, r, caller, true)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, caller crypto.Address, _ []byte) {
	s.setPaused(w, r, caller, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, caller crypto.Address, paused bool) {
	module := chi.URLParam(r, "module")
	var err error
	if paused {
		err = s.node.Pause(caller, module)
	} else {
		err = s.node.Resume(caller, module)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"module": module, "paused": paused})
}

func (s *Server) handlePaused(w http.ResponseWriter, _ *http.Request) {
	paused := s.node.PausedModules()
	if paused == nil {
		paused = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": paused})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilterFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.archive.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]eventView, 0, len(rows))
	for _, row := range rows {
		view, err := newEventView(row)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": views})
}

func (s *Server) handleVerifyEvents(w http.ResponseWriter, r *http.Request) {
	checked, err := s.archive.VerifyChain(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"verified": false, "checked": checked, "error": err.Error()})
		return
	}
	seq, head := s.archive.Head()
	writeJSON(w, http.StatusOK, map[string]interface{}{"verified": true, "checked": checked, "sequence": seq, "head": head})
}

func eventFilterFrom(r *http.Request) (EventFilter, error) {
	var filter EventFilter
	query := r.URL.Query()
	parse := func(name string) (uint64, error) {
		raw := query.Get(name)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, badRequest("invalid " + name)
		}
		return v, nil
	}
	var err error
	if filter.OfferID, err = parse("offer"); err != nil {
		return filter, err
	}
	if filter.After, err = parse("after"); err != nil {
		return filter, err
	}
	limit, err := parse("limit")
	if err != nil {
		return filter, err
	}
	filter.Limit = int(limit)
	return filter, nil
}
