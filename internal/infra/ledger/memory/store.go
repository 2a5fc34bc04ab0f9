// Package memory provides the in-memory versioned record store. It is the
// system of record for tests and the transactional core the sql-backed
// drivers wrap and snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"herbtrace/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.RecordStore = (*Store)(nil)

// Store keeps every version of every key in memory. A single store-wide
// commit sequence orders all writes and backs conditional-write checks.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]domain.KeyVersion
	seq      uint64
	nowFn    func() time.Time
}

// NewStore constructs an empty in-memory record store.
func NewStore() *Store {
	return &Store{
		versions: make(map[string][]domain.KeyVersion),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock; test hook.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

func (s *Store) latestLocked(key string) (domain.KeyVersion, bool) {
	history := s.versions[key]
	if len(history) == 0 {
		return domain.KeyVersion{}, false
	}
	last := history[len(history)-1]
	if last.Deleted {
		return domain.KeyVersion{}, false
	}
	return last, true
}

func (s *Store) appendLocked(key string, value []byte, deleted bool) uint64 {
	s.seq++
	s.versions[key] = append(s.versions[key], domain.KeyVersion{
		Value:     append([]byte(nil), value...),
		CommitSeq: s.seq,
		Timestamp: s.nowFn(),
		Deleted:   deleted,
	})
	return s.seq
}

// Put writes a new version of key unconditionally.
func (s *Store) Put(_ context.Context, key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(key, value, false), nil
}

// PutIf writes a new version only when the key's live commit sequence equals
// expectedSeq (zero: key must be absent). Mismatches return ConflictError.
func (s *Store) PutIf(_ context.Context, key string, value []byte, expectedSeq uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actual uint64
	if last, ok := s.latestLocked(key); ok {
		actual = last.CommitSeq
	}
	if actual != expectedSeq {
		return 0, domain.ConflictError{Key: key, ExpectedSeq: expectedSeq, ActualSeq: actual}
	}
	return s.appendLocked(key, value, false), nil
}

// Get returns the latest live version of key.
func (s *Store) Get(_ context.Context, key string) (domain.VersionedValue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.latestLocked(key)
	if !ok {
		return domain.VersionedValue{}, false, nil
	}
	return domain.VersionedValue{
		Value:     append([]byte(nil), last.Value...),
		CommitSeq: last.CommitSeq,
	}, true, nil
}

// Delete writes a tombstone version. Retention is a store concern; the core
// never calls this for events.
func (s *Store) Delete(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.latestLocked(key); !ok {
		return 0, domain.NotFoundError{Kind: domain.RecordBatch, ID: key}
	}
	return s.appendLocked(key, nil, true), nil
}

// ScanRange yields live records with startKey <= key < endKey in key order.
// Empty bounds leave that side open, matching ledger range-scan semantics.
func (s *Store) ScanRange(_ context.Context, startKey, endKey string) (domain.Iterator[domain.KeyValue], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.versions))
	for key := range s.versions {
		if startKey != "" && key < startKey {
			continue
		}
		if endKey != "" && key >= endKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := make([]domain.KeyValue, 0, len(keys))
	for _, key := range keys {
		if last, ok := s.latestLocked(key); ok {
			items = append(items, domain.KeyValue{Key: key, Value: append([]byte(nil), last.Value...)})
		}
	}
	return domain.NewSliceIterator(items), nil
}

// QueryByPredicate yields live records whose documents satisfy the selector.
// Results are key-ordered for determinism.
func (s *Store) QueryByPredicate(ctx context.Context, selectorJSON []byte) (domain.Iterator[domain.KeyValue], error) {
	selector, err := domain.ParseSelector(selectorJSON)
	if err != nil {
		return nil, err
	}
	all, err := s.ScanRange(ctx, "", "")
	if err != nil {
		return nil, err
	}
	records, err := domain.Collect(all)
	if err != nil {
		return nil, err
	}
	matched := records[:0]
	for _, kv := range records {
		if selector.Matches(kv.Value) {
			matched = append(matched, kv)
		}
	}
	return domain.NewSliceIterator(matched), nil
}

// HistoryOf yields every version of key oldest-first, tombstones included.
func (s *Store) HistoryOf(_ context.Context, key string) (domain.Iterator[domain.KeyVersion], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key]
	items := make([]domain.KeyVersion, len(history))
	for i, v := range history {
		items[i] = domain.KeyVersion{
			Value:     append([]byte(nil), v.Value...),
			CommitSeq: v.CommitSeq,
			Timestamp: v.Timestamp,
			Deleted:   v.Deleted,
		}
	}
	return domain.NewSliceIterator(items), nil
}

// Snapshot is the serializable full state of the store, including version
// history. The sql-backed drivers persist and reload it.
type Snapshot struct {
	Versions  map[string][]domain.KeyVersion `json:"versions"`
	CommitSeq uint64                         `json:"commitSeq"`
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Versions: make(map[string][]domain.KeyVersion, len(s.versions)), CommitSeq: s.seq}
	for key, history := range s.versions {
		cp := make([]domain.KeyVersion, len(history))
		for i, v := range history {
			cp[i] = domain.KeyVersion{
				Value:     append([]byte(nil), v.Value...),
				CommitSeq: v.CommitSeq,
				Timestamp: v.Timestamp,
				Deleted:   v.Deleted,
			}
		}
		out.Versions[key] = cp
	}
	return out
}

// ImportState replaces the store state with the snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = make(map[string][]domain.KeyVersion, len(snapshot.Versions))
	for key, history := range snapshot.Versions {
		s.versions[key] = append([]domain.KeyVersion(nil), history...)
	}
	s.seq = snapshot.CommitSeq
}
