package escrowd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"juryledger/core"
	"juryledger/crypto"
	"juryledger/gateway/middleware"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
	payoutTimeout        = 30 * time.Second
)

// Options wires the daemon's collaborators.
type Options struct {
	Node          *core.Node
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Idempotency   *IdempotencyStore
	Archive       *Archive
	CORSOrigins   []string
	Logger        *slog.Logger
}

// Server is the HTTP front-end of the ledger node.
type Server struct {
	node    *core.Node
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	idem    *IdempotencyStore
	archive *Archive
	cors    []string
	logger  *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Node == nil {
		return nil, errors.New("escrowd: node required")
	}
	if opts.Authenticator == nil {
		return nil, errors.New("escrowd: authenticator required")
	}
	if opts.Archive == nil {
		return nil, errors.New("escrowd: archive required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.RateLimit{}, logger)
	}
	return &Server{
		node:    opts.Node,
		auth:    opts.Authenticator,
		limiter: limiter,
		idem:    opts.Idempotency,
		archive: opts.Archive,
		cors:    opts.CORSOrigins,
		logger:  logger.With(slog.String("component", "escrowd")),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cors}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		seq, head := s.archive.Head()
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "eventSequence": seq, "eventHead": head})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		s.get(r, "/accounts/{address}", "accounts.get", s.handleAccount)
		s.get(r, "/accounts/{address}/offers", "accounts.offers", s.handleAccountOffers)
		s.get(r, "/accounts/{address}/balance", "accounts.balance", s.handleBalance)
		s.get(r, "/offers/{id}", "offers.get", s.handleOffer)
		s.get(r, "/offers/{id}/dispute", "offers.dispute_details", s.handleDisputeDetails)
		s.get(r, "/ledger/fees", "ledger.fees", s.handlePlatformFees)
		s.get(r, "/ledger/audit", "ledger.audit", s.handleAudit)
		s.get(r, "/admin/paused", "admin.paused", s.handlePaused)
		s.get(r, "/events", "events.list", s.handleEvents)
		s.get(r, "/events/verify", "events.verify", s.handleVerifyEvents)
		s.get(r, "/events/stream", "events.stream", s.handleEventStream)

		s.post(r, "/accounts/register", "accounts.register", s.handleRegister)
		s.post(r, "/offers", "offers.create", s.handleCreateOffer)
		s.post(r, "/offers/{id}/accept", "offers.accept", s.handleAcceptOffer)
		s.post(r, "/offers/{id}/proof", "offers.proof", s.handleSubmitProof)
		s.post(r, "/offers/{id}/confirm", "offers.confirm", s.handleConfirm)
		s.post(r, "/offers/{id}/cancel", "offers.cancel", s.handleCancel)
		s.post(r, "/offers/{id}/dispute", "offers.dispute", s.handleDispute)
		s.post(r, "/offers/{id}/vote", "offers.vote", s.handleVote)
		s.post(r, "/ledger/withdraw", "ledger.withdraw", s.handleWithdraw)
		s.post(r, "/ledger/fees/withdraw", "ledger.fees_withdraw", s.handleWithdrawFees)
		s.post(r, "/admin/pause/{module}", "admin.pause", s.handlePause)
		s.post(r, "/admin/resume/{module}", "admin.resume", s.handleResume)
	})
	return r
}

func (s *Server) get(r chi.Router, pattern, route string, h http.HandlerFunc) {
	r.With(middleware.Observe(route, s.logger), s.limiter.Middleware(route)).Get(pattern, h)
}

// post routes a mutating request: authentication, then per-caller limits,
// then idempotent replay.
func (s *Server) post(r chi.Router, pattern, route string, h callerHandler) {
	r.With(
		middleware.Observe(route, s.logger),
		s.auth.Middleware,
		s.limiter.Middleware(route),
	).Post(pattern, s.idempotent(h))
}

// callerHandler serves an authenticated request with its decoded body.
type callerHandler func(w http.ResponseWriter, r *http.Request, caller crypto.Address, body []byte)

func (s *Server) idempotent(h callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing caller", Code: "Unauthenticated"})
			return
		}
		body, err := readRequestBody(r)
		if err != nil {
			writeError(w, badRequest(err.Error()))
			return
		}
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if key == "" || s.idem == nil {
			h(w, r, caller, body)
			return
		}

		requestHash := hashRequest(r.Method, r.URL.Path, body)
		cached, err := s.idem.Lookup(r.Context(), caller.String(), key, requestHash)
		if err != nil {
			writeError(w, err)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}

		rec := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
		h(rec, r, caller, body)
		if rec.status < http.StatusInternalServerError {
			if err := s.idem.Save(r.Context(), caller.String(), key, requestHash, rec.status, rec.body.Bytes()); err != nil {
				s.logger.Error("idempotency save failed", slog.String("account", caller.String()), slog.Any("error", err))
			}
		}
		rec.flush(w)
	}
}

type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header         { return b.header }
func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }
func (b *bufferedResponse) WriteHeader(status int)      { b.status = status }

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for k, values := range b.header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

func readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func decodeBody(body []byte, dst interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON payload: %v", err))
	}
	return nil
}
