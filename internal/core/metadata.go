package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	blobcore "herbtrace/internal/blob/core"
	"herbtrace/pkg/domain"
)

// ErrNoBlobStore is reported when a metadata operation runs on a service
// constructed without a blob store.
var ErrNoBlobStore = fmt.Errorf("no blob store configured")

// EnrichedEvent is an event joined with its off-ledger metadata document,
// when one is attached and retrievable.
type EnrichedEvent struct {
	Event
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UploadMetadata stores an auxiliary metadata document and returns the blob
// ref to record on an event.
func (s *Service) UploadMetadata(ctx context.Context, payload map[string]any) (string, error) {
	if s.blobs == nil {
		return "", ErrNoBlobStore
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", domain.MalformedError{Field: "metadata", Reason: err.Error()}
	}
	ref := fmt.Sprintf("meta/%s.json", uuid.NewString())
	if _, err := s.blobs.Put(ctx, ref, bytes.NewReader(raw), blobcore.PutOptions{ContentType: "application/json"}); err != nil {
		return "", domain.StoreError{Op: "blob put", Err: err}
	}
	return ref, nil
}

// FetchMetadata retrieves a metadata document by ref.
func (s *Service) FetchMetadata(ctx context.Context, ref string) (map[string]any, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	_, rc, err := s.blobs.Get(ctx, ref)
	if err == blobcore.ErrNotFound {
		return nil, domain.NotFoundError{Kind: domain.RecordBlob, ID: ref}
	}
	if err != nil {
		return nil, domain.StoreError{Op: "blob get", Err: err}
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.StoreError{Op: "blob read", Err: err}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.MalformedError{Field: "metadata", Reason: err.Error()}
	}
	return payload, nil
}

// MetadataURL produces a time-limited link to the metadata document, when
// the blob driver supports signing.
func (s *Service) MetadataURL(ctx context.Context, ref string) (string, error) {
	if s.blobs == nil {
		return "", ErrNoBlobStore
	}
	return s.blobs.PresignURL(ctx, ref, blobcore.SignedURLOptions{Method: "GET"})
}

// EnrichedBatchEvents returns the batch's events joined with their metadata
// documents. A missing or unreadable blob degrades to nil metadata; the read
// never fails because an attachment is gone.
func (s *Service) EnrichedBatchEvents(ctx context.Context, batchID string) ([]EnrichedEvent, error) {
	events, err := s.BatchEvents(ctx, batchID)
	if err != nil {
		return nil, err
	}
	enriched := make([]EnrichedEvent, 0, len(events))
	for _, ev := range events {
		item := EnrichedEvent{Event: ev}
		if ev.BlobRef != "" && s.blobs != nil {
			payload, err := s.FetchMetadata(ctx, ev.BlobRef)
			if err != nil {
				s.log.Warn("metadata fetch failed", "blobRef", ev.BlobRef, "error", err)
			} else {
				item.Metadata = payload
			}
		}
		enriched = append(enriched, item)
	}
	return enriched, nil
}
