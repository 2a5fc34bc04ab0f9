package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// KeyValue is one key plus its current raw document.
type KeyValue struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// VersionedValue is a raw document together with the commit sequence that
// produced it. The sequence is strictly increasing across all writes to the
// store and serves as the token for conditional writes.
type VersionedValue struct {
	Value     []byte `json:"value"`
	CommitSeq uint64 `json:"commitSeq"`
}

// KeyVersion is one entry of a key's version history.
type KeyVersion struct {
	Value     []byte    `json:"value"`
	CommitSeq uint64    `json:"commitSeq"`
	Timestamp time.Time `json:"timestamp"`
	Deleted   bool      `json:"deleted"`
}

// Iterator lazily yields values from a scan, predicate query, or history
// replay. Next returns ok=false once exhausted; Close releases any driver
// resources and is safe to call more than once.
type Iterator[T any] interface {
	Next() (item T, ok bool, err error)
	Close() error
}

// RecordStore is the contract over the external ledger platform. Keys map to
// JSON documents; per-key version history is retained by the platform.
//
// Writes return the new commit sequence. PutIf is the conditional-write
// hook: expectedSeq must equal the sequence of the key's latest version, or
// zero when the key must not exist; a mismatch returns ConflictError.
type RecordStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	PutIf(ctx context.Context, key string, value []byte, expectedSeq uint64) (uint64, error)
	Get(ctx context.Context, key string) (VersionedValue, bool, error)
	// ScanRange yields live records with startKey <= key < endKey in key
	// order. Empty bounds are open on that side.
	ScanRange(ctx context.Context, startKey, endKey string) (Iterator[KeyValue], error)
	// QueryByPredicate yields live records matching a CouchDB-style
	// selector document: {"selector": {"field": "value", ...}}.
	QueryByPredicate(ctx context.Context, selectorJSON []byte) (Iterator[KeyValue], error)
	// HistoryOf yields the key's versions oldest-first, including
	// tombstones.
	HistoryOf(ctx context.Context, key string) (Iterator[KeyVersion], error)
}

// Selector is a parsed predicate: equality constraints on top-level fields
// of the stored JSON documents.
type Selector struct {
	fields map[string]any
}

// ParseSelector decodes a CouchDB-style selector document. Only top-level
// equality matching is supported.
func ParseSelector(selectorJSON []byte) (Selector, error) {
	var doc struct {
		Selector map[string]any `json:"selector"`
	}
	if err := json.Unmarshal(selectorJSON, &doc); err != nil {
		return Selector{}, MalformedError{Field: "selector", Reason: err.Error()}
	}
	if doc.Selector == nil {
		return Selector{}, MalformedError{Field: "selector", Reason: "missing selector object"}
	}
	return Selector{fields: doc.Selector}, nil
}

// MustSelector builds a selector from field constraints, panicking on
// marshal failure. Intended for literal selectors in calling code.
func MustSelector(fields map[string]any) []byte {
	raw, err := json.Marshal(map[string]any{"selector": fields})
	if err != nil {
		panic(fmt.Sprintf("encode selector: %v", err))
	}
	return raw
}

// Matches reports whether the raw JSON document satisfies every equality
// constraint of the selector. Non-JSON documents never match.
func (s Selector) Matches(raw []byte) bool {
	if len(s.fields) == 0 {
		return false
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for field, want := range s.fields {
		got, ok := doc[field]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// SliceIterator adapts an in-memory slice to the Iterator contract.
type SliceIterator[T any] struct {
	items []T
	pos   int
}

// NewSliceIterator wraps items in an Iterator.
func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

// Next yields the next item of the underlying slice.
func (it *SliceIterator[T]) Next() (T, bool, error) {
	var zero T
	if it.pos >= len(it.items) {
		return zero, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}

// Close is a no-op for slice-backed iterators.
func (it *SliceIterator[T]) Close() error { return nil }

// Collect drains an iterator into a slice, closing it afterwards.
func Collect[T any](it Iterator[T]) ([]T, error) {
	defer func() { _ = it.Close() }()
	var out []T
	for {
		item, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}
