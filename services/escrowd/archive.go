package escrowd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"juryledger/config"
	"juryledger/core/events"
	"juryledger/core/types"
)

// ErrChainBroken is returned by VerifyChain when a stored digest does not match
// the recomputed one.
var ErrChainBroken = errors.New("archive: hash chain broken")

// ArchivedEvent is one committed ledger event. Digest chains every row to its
// predecessor: Digest = blake3(PrevDigest || canonical(event)).
type ArchivedEvent struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type       string `gorm:"size:64;index"`
	OfferID    uint64 `gorm:"index"`
	Attributes string `gorm:"type:text"`
	PrevDigest string `gorm:"size:64"`
	Digest     string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table name across drivers.
func (ArchivedEvent) TableName() string { return "archived_events" }

// Event returns the wire form of the archived row.
func (a ArchivedEvent) Event() (*types.Event, error) {
	attrs := make(map[string]string)
	if a.Attributes != "" {
		if err := json.Unmarshal([]byte(a.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return &types.Event{Type: a.Type, Attributes: attrs}, nil
}

// EventFilter narrows archive listings.
type EventFilter struct {
	OfferID uint64
	After   uint64
	Limit   int
}

// Archive persists every committed event. It is attached to the node's
// broadcaster as a synchronous sink so rows land in commit order.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	seq  uint64
	head [32]byte
}

// OpenArchive connects to the configured archive database and migrates it.
func OpenArchive(cfg config.Archive, log *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.ArchiveSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case config.ArchivePostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("archive: unknown driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return NewArchive(db, log)
}

// NewArchive wraps an open gorm handle.
func NewArchive(db *gorm.DB, log *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("archive: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&ArchivedEvent{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	a := &Archive{db: db, logger: log.With(slog.String("component", "archive")), nowFn: time.Now}
	var last ArchivedEvent
	err := db.Order("sequence desc").Limit(1).Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("archive: load head: %w", err)
	default:
		head, err := decodeDigest(last.Digest)
		if err != nil {
			return nil, err
		}
		a.seq = last.Sequence
		a.head = head
	}
	return a, nil
}

// Emit implements events.Emitter.
func (a *Archive) Emit(evt events.Event) {
	payload := events.Unwrap(evt)
	if payload == nil {
		return
	}
	if _, err := a.Append(context.Background(), payload); err != nil {
		a.logger.Error("archive append failed", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Append stores evt as the next row of the chain.
func (a *Archive) Append(ctx context.Context, evt *types.Event) (*ArchivedEvent, error) {
	canonical, err := canonicalEvent(evt)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	digest := chainDigest(a.head, canonical)
	row := &ArchivedEvent{
		Sequence:   a.seq + 1,
		Type:       evt.Type,
		OfferID:    offerIDOf(evt),
		Attributes: string(mustAttributes(evt)),
		PrevDigest: hex.EncodeToString(a.head[:]),
		Digest:     hex.EncodeToString(digest[:]),
		CreatedAt:  a.nowFn().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("archive: insert: %w", err)
	}
	a.seq = row.Sequence
	a.head = digest
	return row, nil
}

// List returns archived events matching filter in sequence order.
func (a *Archive) List(ctx context.Context, filter EventFilter) ([]ArchivedEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Model(&ArchivedEvent{}).Where("sequence > ?", filter.After)
	if filter.OfferID != 0 {
		query = query.Where("offer_id = ?", filter.OfferID)
	}
	var rows []ArchivedEvent
	if err := query.Order("sequence asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Head returns the latest sequence and digest.
func (a *Archive) Head() (uint64, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq, hex.EncodeToString(a.head[:])
}

// VerifyChain recomputes every digest in order and returns the number of rows
// checked.
func (a *Archive) VerifyChain(ctx context.Context) (uint64, error) {
	var (
		prev    [32]byte
		checked uint64
		rows    []ArchivedEvent
	)
	err := a.db.WithContext(ctx).FindInBatches(&rows, 500, func(tx *gorm.DB, _ int) error {
		for _, row := range rows {
			if row.Sequence != checked+1 {
				return fmt.Errorf("%w: gap before sequence %d", ErrChainBroken, row.Sequence)
			}
			if row.PrevDigest != hex.EncodeToString(prev[:]) {
				return fmt.Errorf("%w: sequence %d does not link to its predecessor", ErrChainBroken, row.Sequence)
			}
			evt, err := row.Event()
			if err != nil {
				return err
			}
			canonical, err := canonicalEvent(evt)
			if err != nil {
				return err
			}
			digest := chainDigest(prev, canonical)
			if row.Digest != hex.EncodeToString(digest[:]) {
				return fmt.Errorf("%w: digest mismatch at sequence %d", ErrChainBroken, row.Sequence)
			}
			prev = digest
			checked++
		}
		return nil
	}).Error
	return checked, err
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func canonicalEvent(evt *types.Event) ([]byte, error) {
	if evt == nil {
		return nil, errors.New("archive: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}{evt.Type, attrs})
}

func mustAttributes(evt *types.Event) []byte {
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _ := json.Marshal(attrs)
	return out
}

func chainDigest(prev [32]byte, canonical []byte) [32]byte {
	buf := make([]byte, 0, len(prev)+len(canonical))
	buf = append(buf, prev[:]...)
	buf = append(buf, canonical...)
	return blake3.Sum256(buf)
}

func decodeDigest(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != len(out) {
		return out, fmt.Errorf("archive: malformed digest %q", raw)
	}
	copy(out[:], decoded)
	return out, nil
}

func offerIDOf(evt *types.Event) uint64 {
	id, err := strconv.ParseUint(evt.Attr("id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
