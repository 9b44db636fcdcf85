package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"juryledger/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	handler := limiter.Middleware("offers")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	handler := limiter.Middleware("offers")(okHandler())

	for i, fill := range []byte{0x01, 0x02} {
		var addr crypto.Address
		addr[0] = fill
		req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
		req = req.WithContext(WithCaller(req.Context(), addr))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("caller %d: expected success, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, nil)
	handler := limiter.Middleware("offers")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d throttled with limiter disabled", i)
		}
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a")
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("b")
	if _, ok := limiter.visitors["a"]; ok {
		t.Fatalf("idle client not evicted")
	}
}

func TestClientIDPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientID(req); got != "203.0.113.7" {
		t.Fatalf("unexpected client id %q", got)
	}
}
