package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"herbtrace/pkg/domain"
)

// batchSeed carries the creator/species used when a collection event has to
// create the batch implicitly.
type batchSeed struct {
	creator string
	species string
}

// loadOrInit fetches the batch rollup with its commit sequence, or returns a
// zero-value rollup (sequence 0) seeded from the collection input when
// creation is allowed. Later-stage events on a missing batch fail NotFound.
func (s *Service) loadOrInit(ctx context.Context, batchID string, seed batchSeed, createAllowed bool, now time.Time) (Batch, uint64, error) {
	vv, found, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, 0, domain.StoreError{Op: "get", Err: err}
	}
	if !found {
		if !createAllowed {
			return Batch{}, 0, domain.NotFoundError{Kind: domain.RecordBatch, ID: batchID}
		}
		return Batch{
			DocType:       domain.DocBatch,
			BatchID:       batchID,
			HerbSpecies:   seed.species,
			Creator:       seed.creator,
			CreationTime:  now,
			Events:        []string{},
			CurrentStatus: StatusCollected,
		}, 0, nil
	}
	if domain.DocTypeOf(vv.Value) != domain.DocBatch {
		return Batch{}, 0, domain.MalformedError{Field: "batchId", Reason: fmt.Sprintf("key %s names a non-batch record", batchID)}
	}
	var batch Batch
	if err := json.Unmarshal(vv.Value, &batch); err != nil {
		return Batch{}, 0, domain.MalformedError{Field: "batch", Reason: fmt.Sprintf("decode %s: %v", batchID, err)}
	}
	return batch, vv.CommitSeq, nil
}

// appendToBatch returns a copy of the rollup with the event id appended,
// the status advanced, and lastUpdated refreshed. Duplicate event ids are
// rejected to keep the rollup invariant intact.
//
// Collection events advance the status only when they created the batch;
// a partial harvest lot added after a quality test must not regress the
// batch to COLLECTED.
func appendToBatch(batch Batch, ev Event, now time.Time) (Batch, error) {
	if batch.HasEvent(ev.EventID) {
		return Batch{}, domain.AlreadyExistsError{Kind: domain.RecordEvent, ID: ev.EventID}
	}
	updated := batch.Clone()
	updated.Events = append(updated.Events, ev.EventID)
	updated.LastUpdated = now
	if ev.EventType != KindCollection || len(batch.Events) == 0 {
		updated.CurrentStatus = ev.EventType.Status()
	}
	return updated, nil
}
