package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"juryledger/crypto"
)

// PayoutRequest is the body posted to the payout service.
type PayoutRequest struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// HTTPTransferer delegates transfers to an external payout service. Any
// non-2xx response or transport error counts as a failed transfer.
type HTTPTransferer struct {
	endpoint string
	token    string
	client   *http.Client
	newID    func() string
}

// NewHTTPTransferer builds a transferer posting to endpoint. A zero timeout
// defaults to ten seconds.
func NewHTTPTransferer(endpoint, token string, timeout time.Duration) (*HTTPTransferer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("bank: payout endpoint required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransferer{
		endpoint: endpoint,
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: timeout},
		newID:    uuid.NewString,
	}, nil
}

// SetHTTPClient overrides the client, e.g. with an instrumented transport.
func (h *HTTPTransferer) SetHTTPClient(client *http.Client) {
	if client != nil {
		h.client = client
	}
}

// Transfer implements Transferer.
func (h *HTTPTransferer) Transfer(ctx context.Context, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: invalid transfer amount")
	}
	id := h.newID()
	body, err := json.Marshal(PayoutRequest{ID: id, To: to.String(), Amount: amount.String()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("bank: payout request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bank: payout rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
