package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"juryledger/crypto"
)

func TestAuthenticatorAcceptsIssuedToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var subject crypto.Address
	subject[19] = 0x42

	token, err := IssueToken("secret", "escrowd", "escrowd", subject, time.Hour, now)
	require.NoError(t, err)

	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "escrowd", Audience: "escrowd"}, nil)
	auth.now = func() time.Time { return now.Add(time.Minute) }

	var seen crypto.Address
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, subject, seen)
}

func TestAuthenticatorRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var subject crypto.Address
	subject[0] = 0x01
	good, err := IssueToken("secret", "escrowd", "", subject, time.Hour, now)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "escrowd", "", subject, time.Hour, now)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken("secret", "someone", "", subject, time.Hour, now)
	require.NoError(t, err)

	auth := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "escrowd"}, nil)
	auth.now = func() time.Time { return now }

	_, err = auth.Authenticate("Bearer " + good)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"scheme":       "Basic " + good,
		"wrong key":    "Bearer " + wrongKey,
		"wrong issuer": "Bearer " + wrongIssuer,
	} {
		_, err := auth.Authenticate(header)
		require.Error(t, err, name)
	}

	auth.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = auth.Authenticate("Bearer " + good)
	require.Error(t, err, "expired")
}
