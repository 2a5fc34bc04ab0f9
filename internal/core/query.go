package core

import (
	"context"
	"encoding/json"
	"time"

	"herbtrace/pkg/domain"
	"herbtrace/pkg/provenance"
)

// KeyedBatch pairs a ledger key with its decoded batch record, mirroring the
// {Key, Record} shape of the range and predicate query surfaces.
type KeyedBatch struct {
	Key    string `json:"key"`
	Record Batch  `json:"record"`
}

// BatchRevision is one entry of a batch's version history.
type BatchRevision struct {
	CommitSeq uint64    `json:"commitSeq"`
	Timestamp time.Time `json:"timestamp"`
	IsDelete  bool      `json:"isDelete"`
	Value     Batch     `json:"value"`
}

// Statistics summarizes one batch's event set.
type Statistics struct {
	BatchID      string                 `json:"batchId"`
	TotalEvents  int                    `json:"totalEvents"`
	EventTypes   map[string]int         `json:"eventTypes"`
	Participants int                    `json:"participants"`
	TimeSpan     provenance.Span        `json:"timeSpan"`
	Branches     provenance.BranchStats `json:"branches"`
}

// BatchSummary is a batch enriched with event statistics for listings.
type BatchSummary struct {
	Batch
	EventCount   int `json:"eventCount"`
	Participants int `json:"participants"`
}

// QueryBatch returns the batch rollup record.
func (s *Service) QueryBatch(ctx context.Context, batchID string) (b Batch, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "query_batch", start, err) }()

	vv, found, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, domain.StoreError{Op: "get", Err: err}
	}
	if !found {
		return Batch{}, domain.NotFoundError{Kind: domain.RecordBatch, ID: batchID}
	}
	// An event id is a valid store key too; only batch documents qualify.
	if domain.DocTypeOf(vv.Value) != domain.DocBatch {
		return Batch{}, domain.NotFoundError{Kind: domain.RecordBatch, ID: batchID}
	}
	var batch Batch
	if err := json.Unmarshal(vv.Value, &batch); err != nil {
		return Batch{}, domain.MalformedError{Field: "batch", Reason: err.Error()}
	}
	return batch, nil
}

// QueryEvent returns one event record.
func (s *Service) QueryEvent(ctx context.Context, eventID string) (ev Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "query_event", start, err) }()

	vv, found, err := s.store.Get(ctx, eventID)
	if err != nil {
		return Event{}, domain.StoreError{Op: "get", Err: err}
	}
	if !found {
		return Event{}, domain.NotFoundError{Kind: domain.RecordEvent, ID: eventID}
	}
	var event Event
	if err := json.Unmarshal(vv.Value, &event); err != nil {
		return Event{}, domain.MalformedError{Field: "event", Reason: err.Error()}
	}
	return event, nil
}

// BatchEvents resolves the batch's event ids in append order. Ids that no
// longer resolve are skipped rather than failing the read.
func (s *Service) BatchEvents(ctx context.Context, batchID string) (events []Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "batch_events", start, err) }()

	batch, err := s.QueryBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	events = make([]Event, 0, len(batch.Events))
	for _, eventID := range batch.Events {
		vv, found, err := s.store.Get(ctx, eventID)
		if err != nil {
			return nil, domain.StoreError{Op: "get", Err: err}
		}
		if !found {
			s.log.Warn("batch references missing event", "batchId", batchID, "eventId", eventID)
			continue
		}
		var ev Event
		if err := json.Unmarshal(vv.Value, &ev); err != nil {
			s.log.Warn("skipping undecodable event", "eventId", eventID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// AllBatches scans the full key range and returns batch-typed records.
func (s *Service) AllBatches(ctx context.Context) (batches []KeyedBatch, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "all_batches", start, err) }()

	it, err := s.store.ScanRange(ctx, "", "")
	if err != nil {
		return nil, domain.StoreError{Op: "scan", Err: err}
	}
	records, err := domain.Collect(it)
	if err != nil {
		return nil, domain.StoreError{Op: "scan", Err: err}
	}
	for _, kv := range records {
		if domain.DocTypeOf(kv.Value) != domain.DocBatch {
			continue
		}
		var batch Batch
		if err := json.Unmarshal(kv.Value, &batch); err != nil {
			continue
		}
		batches = append(batches, KeyedBatch{Key: kv.Key, Record: batch})
	}
	return batches, nil
}

// BatchHistory replays the batch key's version history oldest-first.
func (s *Service) BatchHistory(ctx context.Context, batchID string) (revisions []BatchRevision, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "batch_history", start, err) }()

	it, err := s.store.HistoryOf(ctx, batchID)
	if err != nil {
		return nil, domain.StoreError{Op: "history", Err: err}
	}
	versions, err := domain.Collect(it)
	if err != nil {
		return nil, domain.StoreError{Op: "history", Err: err}
	}
	if len(versions) == 0 {
		return nil, domain.NotFoundError{Kind: domain.RecordBatch, ID: batchID}
	}
	revisions = make([]BatchRevision, 0, len(versions))
	for _, v := range versions {
		rev := BatchRevision{CommitSeq: v.CommitSeq, Timestamp: v.Timestamp, IsDelete: v.Deleted}
		if !v.Deleted {
			if err := json.Unmarshal(v.Value, &rev.Value); err != nil {
				continue
			}
		}
		revisions = append(revisions, rev)
	}
	return revisions, nil
}

// BatchesBySpecies runs the predicate query for batch records of one herb
// species.
func (s *Service) BatchesBySpecies(ctx context.Context, species string) (batches []KeyedBatch, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "batches_by_species", start, err) }()

	selector := domain.MustSelector(map[string]any{
		"docType":     string(domain.DocBatch),
		"herbSpecies": species,
	})
	it, err := s.store.QueryByPredicate(ctx, selector)
	if err != nil {
		return nil, err
	}
	records, err := domain.Collect(it)
	if err != nil {
		return nil, domain.StoreError{Op: "query", Err: err}
	}
	for _, kv := range records {
		var batch Batch
		if err := json.Unmarshal(kv.Value, &batch); err != nil {
			continue
		}
		batches = append(batches, KeyedBatch{Key: kv.Key, Record: batch})
	}
	return batches, nil
}

// resolveBatch maps an event id to its owning batch. The id is tried as a
// batch key first; on a miss every batch's event list is scanned linearly.
// The scan is the accepted cost of not maintaining an event-to-batch index.
func (s *Service) resolveBatch(ctx context.Context, eventID string) (Batch, error) {
	batch, err := s.QueryBatch(ctx, eventID)
	if err == nil {
		return batch, nil
	}
	if !domain.IsNotFound(err) {
		return Batch{}, err
	}

	all, err := s.AllBatches(ctx)
	if err != nil {
		return Batch{}, err
	}
	for _, kb := range all {
		if kb.Record.HasEvent(eventID) {
			return kb.Record, nil
		}
	}
	return Batch{}, domain.NotFoundError{Kind: domain.RecordEvent, ID: eventID}
}

// ProvenanceTree reconstructs the provenance forest of the batch owning the
// given event (or batch) id.
func (s *Service) ProvenanceTree(ctx context.Context, eventID string) (b Batch, forest []*provenance.TreeNode, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "provenance_tree", start, err) }()

	batch, err := s.resolveBatch(ctx, eventID)
	if err != nil {
		return Batch{}, nil, err
	}
	events, err := s.BatchEvents(ctx, batch.BatchID)
	if err != nil {
		return Batch{}, nil, err
	}
	forest, err = provenance.BuildForest(events)
	if err != nil {
		return Batch{}, nil, err
	}
	return batch, forest, nil
}

// ProvenancePath extracts the root-to-event chain for the given event id.
func (s *Service) ProvenancePath(ctx context.Context, eventID string) (b Batch, path []Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "provenance_path", start, err) }()

	batch, err := s.resolveBatch(ctx, eventID)
	if err != nil {
		return Batch{}, nil, err
	}
	events, err := s.BatchEvents(ctx, batch.BatchID)
	if err != nil {
		return Batch{}, nil, err
	}
	path, err = provenance.FindPathToRoot(events, eventID)
	if err != nil {
		return Batch{}, nil, err
	}
	if len(path) == 0 {
		return Batch{}, nil, domain.NotFoundError{Kind: domain.RecordEvent, ID: eventID}
	}
	return batch, path, nil
}

// BatchStatistics aggregates the event-type histogram, participant count,
// time span, and branching statistics of one batch.
func (s *Service) BatchStatistics(ctx context.Context, batchID string) (st Statistics, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "batch_statistics", start, err) }()

	events, err := s.BatchEvents(ctx, batchID)
	if err != nil {
		return Statistics{}, err
	}
	if len(events) == 0 {
		return Statistics{}, domain.NotFoundError{Kind: domain.RecordBatch, ID: batchID}
	}
	span, err := provenance.TimeSpan(events)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		BatchID:      batchID,
		TotalEvents:  len(events),
		EventTypes:   provenance.EventTypeHistogram(events),
		Participants: provenance.Participants(events),
		TimeSpan:     span,
		Branches:     provenance.BranchStatistics(events),
	}, nil
}

// BatchSummaries lists every batch enriched with event and participant
// counts.
func (s *Service) BatchSummaries(ctx context.Context) (summaries []BatchSummary, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "batch_summaries", start, err) }()

	all, err := s.AllBatches(ctx)
	if err != nil {
		return nil, err
	}
	summaries = make([]BatchSummary, 0, len(all))
	for _, kb := range all {
		events, err := s.BatchEvents(ctx, kb.Record.BatchID)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		summaries = append(summaries, BatchSummary{
			Batch:        kb.Record,
			EventCount:   len(events),
			Participants: provenance.Participants(events),
		})
	}
	return summaries, nil
}
