// Package localstore is the on-device persistence used by the CLI: a cache of
// the last resolved entitlement, the local migration flag, and the invoice
// history created before the user had an account. It is never authoritative.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"invoicely/internal/types"
)

const dbFileName = "invoicely.db"

const schema = `
CREATE TABLE IF NOT EXISTS entitlement_snapshots (
	user_id    TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS migration_flags (
	user_id      TEXT PRIMARY KEY,
	completed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS local_invoices (
	id          TEXT PRIMARY KEY,
	number      TEXT NOT NULL DEFAULT '',
	customer    TEXT NOT NULL DEFAULT '',
	total_cents INTEGER NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_local_invoices_created_at ON local_invoices(created_at);
CREATE TABLE IF NOT EXISTS business_info (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	payload BLOB NOT NULL
);
`

// Store is the SQLite-backed local store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	encoder  *zstd.Encoder
	decoders sync.Pool

	mu     sync.Mutex
	closed bool
}

// Open creates (if needed) and opens the store under dataDir.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("dataDir is required")
	}
	dataDir = filepath.Clean(dataDir)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create local data dir: %w", err)
	}

	path := filepath.Join(dataDir, dbFileName)
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init local schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	s := &Store{
		db:      db,
		path:    path,
		logger:  logger,
		encoder: enc,
	}
	s.decoders.New = func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.encoder.Close()
	return s.db.Close()
}

func (s *Store) encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Store) decode(blob []byte, v any) error {
	d := s.decoders.Get().(*zstd.Decoder)
	defer s.decoders.Put(d)

	raw, err := d.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("zstd decompression failed: %w", err)
	}
	return json.Unmarshal(raw, v)
}

func storeError(op string, err error) error {
	return types.NewAppError(types.ErrCodeInternalLocalStore, "local store: "+op, err)
}

// LoadSnapshot returns the cached entitlement for userID. ok is false when
// nothing has been cached yet.
func (s *Store) LoadSnapshot(ctx context.Context, userID string) (*types.Entitlement, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM entitlement_snapshots WHERE user_id = ?`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("load snapshot", err)
	}

	var e types.Entitlement
	if err := s.decode(blob, &e); err != nil {
		// A corrupt snapshot is treated as absent; the next resolve rewrites it.
		s.logger.WarnContext(ctx, "discarding unreadable entitlement snapshot", "user_id", userID, "error", err)
		return nil, false, nil
	}
	return &e, true, nil
}

// SaveSnapshot overwrites the cached entitlement for e.UserID.
func (s *Store) SaveSnapshot(ctx context.Context, e *types.Entitlement) error {
	if e == nil || e.UserID == "" {
		return storeError("save snapshot", errors.New("entitlement with user id is required"))
	}
	blob, err := s.encode(e)
	if err != nil {
		return storeError("encode snapshot", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entitlement_snapshots (user_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		e.UserID, blob, time.Now().UTC().Unix())
	if err != nil {
		return storeError("save snapshot", err)
	}
	return nil
}

// MigrationCompleted reports the local mirror of the migration flag.
func (s *Store) MigrationCompleted(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM migration_flags WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, storeError("read migration flag", err)
	}
	return n > 0, nil
}

// MarkMigrationCompleted sets the local migration flag. There is no inverse.
func (s *Store) MarkMigrationCompleted(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO migration_flags (user_id, completed_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().UTC().Unix())
	if err != nil {
		return storeError("mark migration", err)
	}
	return nil
}

// AddInvoice records a pre-account invoice on the device.
func (s *Store) AddInvoice(ctx context.Context, inv types.LocalInvoice) error {
	if inv.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "invoice id is required", nil)
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_invoices (id, number, customer, total_cents, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.Customer, inv.TotalCents, inv.Currency, inv.CreatedAt.UTC().UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return types.NewAppError(types.ErrCodeConflictExists, "invoice already exists: "+inv.ID, err)
		}
		return storeError("add invoice", err)
	}
	return nil
}

// ListInvoices returns the pre-account history ordered by creation time.
func (s *Store) ListInvoices(ctx context.Context) ([]types.LocalInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, customer, total_cents, currency, created_at
		FROM local_invoices ORDER BY created_at, id`)
	if err != nil {
		return nil, storeError("list invoices", err)
	}
	defer rows.Close()

	var out []types.LocalInvoice
	for rows.Next() {
		var inv types.LocalInvoice
		var created int64
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Customer, &inv.TotalCents, &inv.Currency, &created); err != nil {
			return nil, storeError("scan invoice", err)
		}
		inv.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list invoices", err)
	}
	return out, nil
}

// SetBusinessInfo replaces the device's business profile.
func (s *Store) SetBusinessInfo(ctx context.Context, info types.BusinessInfo) error {
	blob, err := s.encode(info)
	if err != nil {
		return storeError("encode business info", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO business_info (id, payload) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		blob)
	if err != nil {
		return storeError("set business info", err)
	}
	return nil
}

// BusinessInfo returns the device's business profile, or nil if none was saved.
func (s *Store) BusinessInfo(ctx context.Context) (*types.BusinessInfo, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM business_info WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load business info", err)
	}
	var info types.BusinessInfo
	if err := s.decode(blob, &info); err != nil {
		return nil, storeError("decode business info", err)
	}
	return &info, nil
}
