// Package postgres provides a Postgres-backed record store that mirrors the
// in-memory semantics, snapshotting the versioned state as JSONB after each
// successful write.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"herbtrace/internal/infra/ledger/memory"
	"herbtrace/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.RecordStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/herbtrace?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const (
	bucketVersions  = "versions"
	bucketCommitSeq = "commit_seq"
)

// Store persists ledger state to Postgres while reusing the in-memory
// implementation for reads and conditional-write checks.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the state table exists, and hydrates the in-memory
// state from any existing snapshot.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case bucketVersions:
			if err := json.Unmarshal(payload, &snapshot.Versions); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode versions: %w", err)
			}
		case bucketCommitSeq:
			if err := json.Unmarshal(payload, &snapshot.CommitSeq); err != nil {
				return memory.Snapshot{}, fmt.Errorf("decode commit seq: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	buckets := map[string]any{
		bucketVersions:  snapshot.Versions,
		bucketCommitSeq: snapshot.CommitSeq,
	}
	for bucket, payload := range buckets {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2)
			ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Put writes through the in-memory store, then snapshots to Postgres.
func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	seq, err := s.Store.Put(ctx, key, value)
	if err != nil {
		return 0, err
	}
	if err := s.persist(ctx); err != nil {
		return 0, domain.StoreError{Op: "put", Err: err}
	}
	return seq, nil
}

// PutIf applies the conditional write in memory, then snapshots to Postgres.
func (s *Store) PutIf(ctx context.Context, key string, value []byte, expectedSeq uint64) (uint64, error) {
	seq, err := s.Store.PutIf(ctx, key, value, expectedSeq)
	if err != nil {
		return 0, err
	}
	if err := s.persist(ctx); err != nil {
		return 0, domain.StoreError{Op: "putIf", Err: err}
	}
	return seq, nil
}

// Delete writes a tombstone, then snapshots to Postgres.
func (s *Store) Delete(ctx context.Context, key string) (uint64, error) {
	seq, err := s.Store.Delete(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := s.persist(ctx); err != nil {
		return 0, domain.StoreError{Op: "delete", Err: err}
	}
	return seq, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
