package escrowd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"nhooyr.io/websocket"

	"juryledger/core"
	"juryledger/core/types"
	"juryledger/crypto"
	"juryledger/gateway/middleware"
	"juryledger/native/bank"
	"juryledger/storage"
)

const testSecret = "escrowd-test-secret"

type testEnv struct {
	t         *testing.T
	srv       *Server
	http      *httptest.Server
	node      *core.Node
	vault     *bank.Vault
	archive   *Archive
	now       atomic.Int64
	admin     crypto.Address
	provider  crypto.Address
	requester crypto.Address
	jurors    []crypto.Address
}

func testAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, crypto.AddressLength))
	return addr
}

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	archive, err := NewArchive(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })
	return archive
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		t:         t,
		vault:     bank.NewVault(),
		admin:     testAddress(0xAA),
		provider:  testAddress(0x01),
		requester: testAddress(0x02),
		jurors:    []crypto.Address{testAddress(0x0A), testAddress(0x0B)},
	}
	env.now.Store(1_700_000_000)
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		Admin:      env.admin,
		Transferer: env.vault,
		Logger:     quiet,
	})
	require.NoError(t, err)
	node.SetNowFunc(func() int64 { return env.now.Load() })
	env.node = node

	env.archive = newTestArchive(t)
	node.Events().AddSink(env.archive)

	idem, err := OpenIdempotencyStore(":memory:", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	srv, err := NewServer(Options{
		Node:          node,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret, Issuer: "escrowd", Audience: "escrowd"}, quiet),
		Idempotency:   idem,
		Archive:       env.archive,
		Logger:        quiet,
	})
	require.NoError(t, err)
	env.srv = srv
	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) token(caller crypto.Address) string {
	e.t.Helper()
	token, err := middleware.IssueToken(testSecret, "escrowd", "escrowd", caller, time.Hour, time.Now())
	require.NoError(e.t, err)
	return token
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
	raw    []byte
}

func (e *testEnv) do(method, path string, caller *crypto.Address, body string, headers map[string]string) response {
	e.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(*caller))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	out := response{status: resp.StatusCode, header: resp.Header, raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (e *testEnv) post(path string, caller crypto.Address, body string) response {
	e.t.Helper()
	return e.do(http.MethodPost, path, &caller, body, nil)
}

func (e *testEnv) get(path string) response {
	e.t.Helper()
	return e.do(http.MethodGet, path, nil, "", nil)
}

func (e *testEnv) registerParties() {
	e.t.Helper()
	require.Equal(e.t, http.StatusCreated, e.post("/v1/accounts/register", e.provider, `{"role":"provider"}`).status)
	require.Equal(e.t, http.StatusCreated, e.post("/v1/accounts/register", e.requester, `{"role":"requester"}`).status)
	for _, juror := range e.jurors {
		require.Equal(e.t, http.StatusCreated, e.post("/v1/accounts/register", juror, `{"role":"juror"}`).status)
	}
}

func (e *testEnv) acceptedOffer(price string) string {
	e.t.Helper()
	created := e.post("/v1/offers", e.provider, fmt.Sprintf(`{"descriptionRef":"ipfs://brief","price":%q,"deliveryTimeoutSeconds":3600}`, price))
	require.Equal(e.t, http.StatusCreated, created.status, string(created.raw))
	id := fmt.Sprintf("%.0f", created.body["id"].(float64))
	accepted := e.post("/v1/offers/"+id+"/accept", e.requester, fmt.Sprintf(`{"paidAmount":%q}`, price))
	require.Equal(e.t, http.StatusOK, accepted.status, string(accepted.raw))
	require.Equal(e.t, "Accepted", accepted.body["status"])
	return id
}

func errorCode(r response) string {
	code, _ := r.body["code"].(string)
	return code
}

func TestOfferLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()

	account := env.get("/v1/accounts/" + env.provider.String())
	require.Equal(t, http.StatusOK, account.status)
	require.Equal(t, "provider", account.body["role"])

	id := env.acceptedOffer("1000")
	require.Equal(t, "1", id)

	proof := env.post("/v1/offers/1/proof", env.provider, `{"proofRef":"ipfs://proof","comment":"done"}`)
	require.Equal(t, http.StatusOK, proof.status)
	require.Equal(t, "ipfs://proof", proof.body["proofRef"])

	confirmed := env.post("/v1/offers/1/confirm", env.requester, "")
	require.Equal(t, http.StatusOK, confirmed.status, string(confirmed.raw))
	require.Equal(t, "Completed", confirmed.body["status"])

	balance := env.get("/v1/accounts/" + env.provider.String() + "/balance")
	require.Equal(t, "980", balance.body["amount"])
	require.Equal(t, "20", env.get("/v1/ledger/fees").body["amount"])

	withdrawn := env.post("/v1/ledger/withdraw", env.provider, "")
	require.Equal(t, http.StatusOK, withdrawn.status, string(withdrawn.raw))
	require.Equal(t, "980", withdrawn.body["amount"])
	require.Zero(t, env.vault.PaidTo(env.provider).Cmp(big.NewInt(980)))

	again := env.post("/v1/ledger/withdraw", env.provider, "")
	require.Equal(t, http.StatusConflict, again.status)
	require.Equal(t, "NothingToWithdraw", errorCode(again))

	fees := env.post("/v1/ledger/fees/withdraw", env.admin, "")
	require.Equal(t, http.StatusOK, fees.status)
	require.Equal(t, "20", fees.body["amount"])

	audit := env.get("/v1/ledger/audit")
	require.Equal(t, true, audit.body["balanced"])
	require.Equal(t, "1000", audit.body["deposited"])

	offers := env.get("/v1/accounts/" + env.requester.String() + "/offers")
	require.Len(t, offers.body["offers"], 1)
}

func TestDisputeResolvedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()
	env.acceptedOffer("1000")

	early := env.post("/v1/offers/1/dispute", env.requester, "")
	require.Equal(t, http.StatusConflict, early.status)
	require.Equal(t, "TooEarly", errorCode(early))

	env.now.Add(3601)
	disputed := env.post("/v1/offers/1/dispute", env.requester, "")
	require.Equal(t, http.StatusOK, disputed.status, string(disputed.raw))
	require.Equal(t, "Disputed", disputed.body["status"])

	vote := fmt.Sprintf(`{"votedFor":%q}`, env.requester.String())
	for i, juror := range env.jurors {
		res := env.post("/v1/offers/1/vote", juror, vote)
		require.Equal(t, http.StatusOK, res.status, string(res.raw))
		require.Equal(t, i == len(env.jurors)-1, res.body["resolved"])
	}

	details := env.get("/v1/offers/1/dispute")
	require.Equal(t, http.StatusOK, details.status)
	require.Equal(t, true, details.body["resolved"])
	require.Equal(t, env.requester.String(), details.body["winner"])

	late := env.post("/v1/offers/1/vote", env.jurors[0], vote)
	require.Equal(t, http.StatusConflict, late.status)
	require.Equal(t, "AlreadyResolved", errorCode(late))
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()

	unauthenticated := env.do(http.MethodPost, "/v1/offers", nil, `{}`, nil)
	require.Equal(t, http.StatusUnauthorized, unauthenticated.status)
	require.Equal(t, "Unauthenticated", errorCode(unauthenticated))

	wrongRole := env.post("/v1/offers", env.requester, `{"descriptionRef":"x","price":"10","deliveryTimeoutSeconds":60}`)
	require.Equal(t, http.StatusForbidden, wrongRole.status)
	require.Equal(t, "Unauthorized", errorCode(wrongRole))

	missing := env.get("/v1/offers/99")
	require.Equal(t, http.StatusNotFound, missing.status)
	require.Equal(t, "OfferNotFound", errorCode(missing))

	badID := env.get("/v1/offers/abc")
	require.Equal(t, http.StatusBadRequest, badID.status)
	require.Equal(t, "InvalidRequest", errorCode(badID))

	unknownField := env.post("/v1/offers", env.provider, `{"price":"10","bogus":true}`)
	require.Equal(t, http.StatusBadRequest, unknownField.status)
	require.Equal(t, "InvalidRequest", errorCode(unknownField))

	badRole := env.post("/v1/accounts/register", testAddress(0x33), `{"role":"admin"}`)
	require.Equal(t, http.StatusBadRequest, badRole.status)
	require.Equal(t, "InvalidRole", errorCode(badRole))

	created := env.post("/v1/offers", env.provider, `{"descriptionRef":"x","price":"10","deliveryTimeoutSeconds":60}`)
	require.Equal(t, http.StatusCreated, created.status)

	underpaid := env.post("/v1/offers/1/accept", env.requester, `{"paidAmount":"9"}`)
	require.Equal(t, http.StatusBadRequest, underpaid.status)
	require.Equal(t, "IncorrectPayment", errorCode(underpaid))

	require.Equal(t, http.StatusOK, env.post("/v1/offers/1/accept", env.requester, `{"paidAmount":"10"}`).status)
	noProof := env.post("/v1/offers/1/confirm", env.requester, "")
	require.Equal(t, http.StatusConflict, noProof.status)
	require.Equal(t, "NoProofSubmitted", errorCode(noProof))
}

func TestFailedPayoutReturnsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()
	env.acceptedOffer("500")
	require.Equal(t, http.StatusOK, env.post("/v1/offers/1/proof", env.provider, `{"proofRef":"ipfs://proof"}`).status)
	require.Equal(t, http.StatusOK, env.post("/v1/offers/1/confirm", env.requester, "").status)

	env.vault.Fail(env.provider, fmt.Errorf("bank offline"))
	failed := env.post("/v1/ledger/withdraw", env.provider, "")
	require.Equal(t, http.StatusBadGateway, failed.status)
	require.Equal(t, "TransferFailed", errorCode(failed))
	require.Equal(t, "490", env.get("/v1/accounts/"+env.provider.String()+"/balance").body["amount"])

	env.vault.Recover(env.provider)
	require.Equal(t, http.StatusOK, env.post("/v1/ledger/withdraw", env.provider, "").status)
	require.Zero(t, env.vault.PaidTo(env.provider).Cmp(big.NewInt(490)))
}

func TestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()

	body := `{"descriptionRef":"ipfs://brief","price":"100","deliveryTimeoutSeconds":60}`
	headers := map[string]string{headerIdempotencyKey: "create-1"}
	first := env.do(http.MethodPost, "/v1/offers", &env.provider, body, headers)
	require.Equal(t, http.StatusCreated, first.status)
	require.Empty(t, first.header.Get("Idempotent-Replay"))

	second := env.do(http.MethodPost, "/v1/offers", &env.provider, body, headers)
	require.Equal(t, http.StatusCreated, second.status)
	require.Equal(t, "true", second.header.Get("Idempotent-Replay"))
	require.JSONEq(t, string(first.raw), string(second.raw))

	count, err := env.node.OfferCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	mismatch := env.do(http.MethodPost, "/v1/offers", &env.provider, `{"descriptionRef":"other","price":"100","deliveryTimeoutSeconds":60}`, headers)
	require.Equal(t, http.StatusConflict, mismatch.status)
	require.Equal(t, "IdempotencyMismatch", errorCode(mismatch))

	// Keys are scoped per caller.
	other := env.do(http.MethodPost, "/v1/offers", &env.requester, body, headers)
	require.Equal(t, http.StatusForbidden, other.status)
}

func TestPauseOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()

	denied := env.post("/v1/admin/pause/offers", env.provider, "")
	require.Equal(t, http.StatusForbidden, denied.status)

	unknown := env.post("/v1/admin/pause/bogus", env.admin, "")
	require.Equal(t, http.StatusBadRequest, unknown.status)
	require.Equal(t, "UnknownModule", errorCode(unknown))

	require.Equal(t, http.StatusOK, env.post("/v1/admin/pause/offers", env.admin, "").status)
	require.Equal(t, []interface{}{"offers"}, env.get("/v1/admin/paused").body["paused"])

	paused := env.post("/v1/offers", env.provider, `{"descriptionRef":"x","price":"10","deliveryTimeoutSeconds":60}`)
	require.Equal(t, http.StatusConflict, paused.status)
	require.Equal(t, "ModulePaused", errorCode(paused))

	require.Equal(t, http.StatusOK, env.post("/v1/admin/resume/offers", env.admin, "").status)
	require.Equal(t, http.StatusCreated, env.post("/v1/offers", env.provider, `{"descriptionRef":"x","price":"10","deliveryTimeoutSeconds":60}`).status)
}

func TestEventsArchivedAndVerified(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()
	env.acceptedOffer("1000")

	listed := env.get("/v1/events?offer=1")
	require.Equal(t, http.StatusOK, listed.status)
	events := listed.body["events"].([]interface{})
	require.NotEmpty(t, events)
	kinds := make([]string, 0, len(events))
	for _, raw := range events {
		evt := raw.(map[string]interface{})
		require.Equal(t, float64(1), evt["offerId"])
		kinds = append(kinds, evt["type"].(string))
	}
	require.Contains(t, kinds, "offer.created")
	require.Contains(t, kinds, "offer.accepted")

	limited := env.get("/v1/events?limit=1")
	require.Len(t, limited.body["events"], 1)

	verified := env.get("/v1/events/verify")
	require.Equal(t, http.StatusOK, verified.status)
	require.Equal(t, true, verified.body["verified"])
	seq, head := env.archive.Head()
	require.Equal(t, float64(seq), verified.body["checked"])
	require.Equal(t, head, verified.body["head"])

	require.Equal(t, http.StatusBadRequest, env.get("/v1/events?after=x").status)
}

func TestArchiveDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()
	env.acceptedOffer("1000")

	checked, err := env.archive.VerifyChain(context.Background())
	require.NoError(t, err)
	require.Greater(t, checked, uint64(3))

	require.NoError(t, env.archive.db.Model(&ArchivedEvent{}).
		Where("sequence = ?", 2).
		Update("attributes", `{"address":"forged"}`).Error)

	checked, err = env.archive.VerifyChain(context.Background())
	require.ErrorIs(t, err, ErrChainBroken)
	require.Equal(t, uint64(1), checked)

	res := env.get("/v1/events/verify")
	require.Equal(t, http.StatusConflict, res.status)
	require.Equal(t, false, res.body["verified"])
}

func TestArchiveReloadsHead(t *testing.T) {
	dsn := "file:archive_reload?mode=memory&cache=shared"
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	first, err := NewArchive(db, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	evt, err := first.Append(context.Background(), &types.Event{Type: "offer.created", Attributes: map[string]string{"id": "7"}})
	require.NoError(t, err)
	require.Equal(t, uint64(7), evt.OfferID)

	reopened, err := NewArchive(db, quiet)
	require.NoError(t, err)
	seq, head := reopened.Head()
	require.Equal(t, uint64(1), seq)
	require.Equal(t, evt.Digest, head)

	second, err := reopened.Append(context.Background(), &types.Event{Type: "offer.cancelled", Attributes: map[string]string{"id": "7"}})
	require.NoError(t, err)
	require.Equal(t, evt.Digest, second.PrevDigest)
	checked, err := reopened.VerifyChain(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), checked)
}

func TestEventStreamFiltersByOffer(t *testing.T) {
	env := newTestEnv(t)
	env.registerParties()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/v1/events/stream?offer=2"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env.acceptedOffer("100")
	env.acceptedOffer("200")

	var got []streamEvent
	for len(got) < 2 {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt streamEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		got = append(got, evt)
	}
	require.Equal(t, "offer.created", got[0].Type)
	require.Equal(t, uint64(2), got[0].OfferID)
	require.Equal(t, "200", got[0].Attributes["price"])
	require.Equal(t, "offer.accepted", got[1].Type)
	require.Equal(t, uint64(2), got[1].OfferID)
}
