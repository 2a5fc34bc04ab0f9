// Package sqlite provides an embedded, file-backed record store. It wraps
// the in-memory store and snapshots the full versioned state to a single
// SQLite table after every successful write, so history survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"herbtrace/internal/infra/ledger/memory"
	"herbtrace/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.RecordStore = (*Store)(nil)

const defaultPath = "herbtrace.db"

const (
	bucketVersions  = "versions"
	bucketCommitSeq = "commit_seq"
)

// Store persists the in-memory ledger state to SQLite as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the SQLite file and hydrates the in-memory
// state from the last snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		switch bucket {
		case bucketVersions:
			if err := json.Unmarshal(payload, &snapshot.Versions); err != nil {
				return fmt.Errorf("decode versions: %w", err)
			}
			found = true
		case bucketCommitSeq:
			if err := json.Unmarshal(payload, &snapshot.CommitSeq); err != nil {
				return fmt.Errorf("decode commit seq: %w", err)
			}
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
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

	versions, err := json.Marshal(snapshot.Versions)
	if err != nil {
		return fmt.Errorf("encode versions: %w", err)
	}
	seq, err := json.Marshal(snapshot.CommitSeq)
	if err != nil {
		return fmt.Errorf("encode commit seq: %w", err)
	}
	const upsert = `INSERT INTO state(bucket, payload) VALUES(?, ?)
		ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`
	if _, err := tx.ExecContext(ctx, upsert, bucketVersions, versions); err != nil {
		return fmt.Errorf("upsert versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, bucketCommitSeq, seq); err != nil {
		return fmt.Errorf("upsert commit seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Put writes through the in-memory store, then snapshots to disk.
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

// PutIf applies the conditional write in memory, then snapshots to disk.
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

// Delete writes a tombstone, then snapshots to disk.
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
