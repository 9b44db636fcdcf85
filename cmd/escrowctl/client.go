package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// apiError is a non-2xx response from escrowd.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("escrowd returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type client struct {
	endpoint       string
	token          string
	idempotencyKey string
	http           *http.Client
}

func newClient(opts globalOptions) *client {
	return &client{
		endpoint:       strings.TrimRight(opts.endpoint, "/"),
		token:          strings.TrimSpace(opts.token),
		idempotencyKey: strings.TrimSpace(opts.idempotencyKey),
		http:           &http.Client{Timeout: opts.timeout},
	}
}

func (c *client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if c.token == "" {
		return nil, errors.New("a bearer token is required; pass --token or set " + tokenEnv)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Authorization", "Bearer "+c.token)
		key := c.idempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var decoded struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Error
		}
		return nil, apiErr
	}
	return json.RawMessage(data), nil
}

// render writes a JSON document in the requested output format.
func render(w io.Writer, format string, raw json.RawMessage) error {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return renderValue(w, format, value)
}

func renderValue(w io.Writer, format string, value interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
}
