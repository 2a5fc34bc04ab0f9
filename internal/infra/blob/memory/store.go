// Package memory provides the in-memory blob store used in tests.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"herbtrace/internal/blob/core"
)

var _ core.Store = (*Store)(nil)

type blob struct {
	info core.Info
	data []byte
}

// Store keeps blobs in a map guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]blob
	nowFn func() time.Time
}

// New constructs an empty in-memory blob store.
func New() *Store {
	return &Store{
		blobs: make(map[string]blob),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new blob; an existing key fails.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blobs[key]; exists {
		return core.Info{}, fmt.Errorf("blob %s already exists", key)
	}
	info := core.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: s.nowFn(),
		URL:          memURL(key),
	}
	s.blobs[key] = blob{info: info, data: append([]byte(nil), data...)}
	return info, nil
}

// Get returns the blob metadata and a reader over its payload.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return core.Info{}, nil, core.ErrNotFound
	}
	return b.info, io.NopCloser(bytes.NewReader(append([]byte(nil), b.data...))), nil
}

// Head returns the blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return core.Info{}, core.ErrNotFound
	}
	return b.info, nil
}

// Delete removes the blob; returns true when it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return false, nil
	}
	delete(s.blobs, key)
	return true, nil
}

// List returns blobs whose keys start with prefix, key-ordered.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []core.Info
	for key, b := range s.blobs {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, b.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns the stable local URL; only GET is supported.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && strings.ToUpper(opts.Method) != "GET" {
		return "", core.ErrUnsupported
	}
	return memURL(key), nil
}

func memURL(key string) string {
	return (&url.URL{Scheme: "mem", Host: "blob", Path: "/" + key}).String()
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
