package escrowd

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different
// request.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

// StoredResponse is a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore caches responses of mutating requests per caller and
// Idempotency-Key so retried requests are not executed twice.
type IdempotencyStore struct {
	db    *sql.DB
	ttl   time.Duration
	nowFn func() time.Time
}

// OpenIdempotencyStore opens (or creates) the sqlite database at path. Use
// ":memory:" for an ephemeral store.
func OpenIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	store := &IdempotencyStore{db: db, ttl: ttl, nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *IdempotencyStore) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS idempotency_keys (
            caller TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at INTEGER NOT NULL,
            PRIMARY KEY(caller, idempotency_key)
        );`
	_, err := s.db.Exec(schema)
	return err
}

func (s *IdempotencyStore) Close() error {
	return s.db.Close()
}

// Lookup returns the cached response for (caller, key), nil when none is
// cached, or ErrIdempotencyMismatch when the key was used for another request.
func (s *IdempotencyStore) Lookup(ctx context.Context, caller, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE caller = ? AND idempotency_key = ? AND created_at > ?`
	cutoff := s.nowFn().Add(-s.ttl).Unix()
	row := s.db.QueryRowContext(ctx, query, caller, key, cutoff)
	var (
		status     int
		body       []byte
		storedHash string
	)
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// Save caches a response.
func (s *IdempotencyStore) Save(ctx context.Context, caller, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(caller, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, caller, key, requestHash, status, body, s.nowFn().Unix())
	return err
}

// Prune deletes expired entries and returns how many were removed.
func (s *IdempotencyStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at <= ?`, s.nowFn().Add(-s.ttl).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func hashRequest(method, path string, body []byte) string {
	sum := blake3.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return hex.EncodeToString(sum[:])
}
