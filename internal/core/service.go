// Package core implements the herbtrace service: event validation, batch
// rollup maintenance, and the query façade over a RecordStore.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	blobcore "herbtrace/internal/blob/core"
	"herbtrace/pkg/domain"
)

// Number of attempts for the conditional batch store-back and for event id
// regeneration before the write is surfaced as a conflict.
const maxWriteAttempts = 5

// Service exposes the write and query operations of the provenance ledger.
// All storage access goes through the injected RecordStore; the service owns
// no process-wide state.
type Service struct {
	store   RecordStore
	blobs   blobcore.Store
	log     Logger
	metrics MetricsRecorder
	nowFn   func() time.Time
	genID   IDGenerator
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger; default discards.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink; default discards.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBlobStore attaches an auxiliary metadata blob store; without one the
// metadata operations report the capability as unavailable.
func WithBlobStore(b blobcore.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// WithNowFunc overrides the clock; test hook.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithIDGenerator overrides event id generation; test hook.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.genID = gen
		}
	}
}

// NewService constructs a service backed by the supplied record store.
func NewService(store RecordStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		log:     noopLogger{},
		metrics: noopMetrics{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		genID:   DefaultIDGenerator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying record store.
func (s *Service) Store() RecordStore { return s.store }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// CollectionInput carries the createCollectionEvent arguments. LocationJSON
// is the raw location document and must parse, else the write fails as
// malformed.
type CollectionInput struct {
	BatchID       string
	HerbSpecies   string
	CollectorName string
	Weight        float64
	HarvestDate   string
	LocationJSON  string
	QualityGrade  string
	Notes         string
	BlobRef       string
	IntegrityTag  string
}

// QualityTestInput carries the createQualityTestEvent arguments.
type QualityTestInput struct {
	BatchID         string
	ParentEventID   string
	TesterName      string
	MoistureContent float64
	Purity          float64
	PesticideLevel  float64
	TestMethod      string
	Notes           string
	BlobRef         string
	IntegrityTag    string
}

// ProcessingInput carries the createProcessingEvent arguments. Temperature
// is optional.
type ProcessingInput struct {
	BatchID       string
	ParentEventID string
	ProcessorName string
	Method        string
	Temperature   *float64
	Duration      string
	Yield         float64
	Notes         string
	BlobRef       string
	IntegrityTag  string
}

// ManufacturingInput carries the createManufacturingEvent arguments.
type ManufacturingInput struct {
	BatchID          string
	ParentEventID    string
	ManufacturerName string
	ProductName      string
	ProductType      string
	Quantity         float64
	Unit             string
	ExpiryDate       string
	Notes            string
	BlobRef          string
	IntegrityTag     string
}

// RecordCollection appends a collection event. The batch is created when
// absent and extended otherwise; creating over an existing batch is not an
// error, since partial harvest lots add collection events repeatedly.
func (s *Service) RecordCollection(ctx context.Context, in CollectionInput) (ev Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "record_collection", start, err) }()

	if err := requireFields(map[string]string{
		"batchId":       in.BatchID,
		"collectorName": in.CollectorName,
		"herbSpecies":   in.HerbSpecies,
	}); err != nil {
		return Event{}, err
	}
	var loc Location
	if strings.TrimSpace(in.LocationJSON) != "" {
		if err := json.Unmarshal([]byte(in.LocationJSON), &loc); err != nil {
			return Event{}, domain.MalformedError{Field: "location", Reason: err.Error()}
		}
	}

	ev = Event{
		EventType:       KindCollection,
		DocType:         KindCollection.DocType(),
		BatchID:         in.BatchID,
		ParticipantName: in.CollectorName,
		Collection: &domain.CollectionDetails{
			HerbSpecies:  in.HerbSpecies,
			Weight:       in.Weight,
			HarvestDate:  in.HarvestDate,
			Location:     loc,
			QualityGrade: in.QualityGrade,
		},
		Notes:        in.Notes,
		BlobRef:      in.BlobRef,
		IntegrityTag: in.IntegrityTag,
	}
	return s.appendEvent(ctx, ev, batchSeed{creator: in.CollectorName, species: in.HerbSpecies})
}

// RecordQualityTest appends a quality test event to an existing batch.
func (s *Service) RecordQualityTest(ctx context.Context, in QualityTestInput) (ev Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "record_quality_test", start, err) }()

	if err := requireFields(map[string]string{
		"batchId":       in.BatchID,
		"parentEventId": in.ParentEventID,
		"testerName":    in.TesterName,
	}); err != nil {
		return Event{}, err
	}
	ev = Event{
		EventType:       KindQualityTest,
		DocType:         KindQualityTest.DocType(),
		BatchID:         in.BatchID,
		ParentEventID:   in.ParentEventID,
		ParticipantName: in.TesterName,
		Test: &domain.TestResults{
			MoistureContent: in.MoistureContent,
			Purity:          in.Purity,
			PesticideLevel:  in.PesticideLevel,
			TestMethod:      in.TestMethod,
		},
		Notes:        in.Notes,
		BlobRef:      in.BlobRef,
		IntegrityTag: in.IntegrityTag,
	}
	return s.appendEvent(ctx, ev, batchSeed{})
}

// RecordProcessing appends a processing event to an existing batch.
func (s *Service) RecordProcessing(ctx context.Context, in ProcessingInput) (ev Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "record_processing", start, err) }()

	if err := requireFields(map[string]string{
		"batchId":       in.BatchID,
		"parentEventId": in.ParentEventID,
		"processorName": in.ProcessorName,
	}); err != nil {
		return Event{}, err
	}
	ev = Event{
		EventType:       KindProcessing,
		DocType:         KindProcessing.DocType(),
		BatchID:         in.BatchID,
		ParentEventID:   in.ParentEventID,
		ParticipantName: in.ProcessorName,
		Processing: &domain.ProcessingDetails{
			Method:      in.Method,
			Temperature: in.Temperature,
			Duration:    in.Duration,
			Yield:       in.Yield,
		},
		Notes:        in.Notes,
		BlobRef:      in.BlobRef,
		IntegrityTag: in.IntegrityTag,
	}
	return s.appendEvent(ctx, ev, batchSeed{})
}

// RecordManufacturing appends a manufacturing event to an existing batch.
func (s *Service) RecordManufacturing(ctx context.Context, in ManufacturingInput) (ev Event, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "record_manufacturing", start, err) }()

	if err := requireFields(map[string]string{
		"batchId":          in.BatchID,
		"parentEventId":    in.ParentEventID,
		"manufacturerName": in.ManufacturerName,
	}); err != nil {
		return Event{}, err
	}
	ev = Event{
		EventType:       KindManufacturing,
		DocType:         KindManufacturing.DocType(),
		BatchID:         in.BatchID,
		ParentEventID:   in.ParentEventID,
		ParticipantName: in.ManufacturerName,
		Product: &domain.ProductDetails{
			ProductName: in.ProductName,
			ProductType: in.ProductType,
			Quantity:    in.Quantity,
			Unit:        in.Unit,
			ExpiryDate:  in.ExpiryDate,
		},
		Notes:        in.Notes,
		BlobRef:      in.BlobRef,
		IntegrityTag: in.IntegrityTag,
	}
	return s.appendEvent(ctx, ev, batchSeed{})
}

// InitLedger seeds the demo batch BATCH0 when absent. Idempotent.
func (s *Service) InitLedger(ctx context.Context) error {
	const seedBatchID = "BATCH0"
	if _, found, err := s.store.Get(ctx, seedBatchID); err != nil {
		return domain.StoreError{Op: "get", Err: err}
	} else if found {
		return nil
	}
	now := s.nowFn()
	batch := Batch{
		DocType:       domain.DocBatch,
		BatchID:       seedBatchID,
		HerbSpecies:   "Tulsi",
		Creator:       "System",
		CreationTime:  now,
		LastUpdated:   now,
		Events:        []string{},
		CurrentStatus: StatusInitialized,
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if _, err := s.store.PutIf(ctx, seedBatchID, raw, 0); err != nil {
		if domain.IsConflict(err) {
			// Another bootstrap won the race; the seed exists.
			return nil
		}
		return err
	}
	s.log.Info("ledger seeded", "batchId", seedBatchID)
	return nil
}

// appendEvent runs the shared write path: validate the parent reference,
// persist the event under a fresh id, and store the updated batch rollup
// back conditionally. The event insert and the rollup update each retry a
// bounded number of times on conflicts, which closes the lost-append race
// between concurrent writers.
func (s *Service) appendEvent(ctx context.Context, ev Event, seed batchSeed) (Event, error) {
	now := s.nowFn()
	ev.Timestamp = now
	createAllowed := ev.EventType == KindCollection

	batch, batchSeq, err := s.loadOrInit(ctx, ev.BatchID, seed, createAllowed, now)
	if err != nil {
		return Event{}, err
	}
	if ev.ParentEventID != "" {
		if err := s.validateParent(ctx, ev); err != nil {
			return Event{}, err
		}
	}

	// Persist the event first, regenerating the id on a collision.
	var persisted bool
	for attempt := 0; attempt < maxWriteAttempts && !persisted; attempt++ {
		ev.EventID = s.genID(ev.EventType, now)
		raw, err := json.Marshal(ev)
		if err != nil {
			return Event{}, fmt.Errorf("encode event: %w", err)
		}
		switch _, err := s.store.PutIf(ctx, ev.EventID, raw, 0); {
		case err == nil:
			persisted = true
		case domain.IsConflict(err):
			s.log.Warn("event id collision, regenerating", "eventId", ev.EventID)
		default:
			return Event{}, err
		}
	}
	if !persisted {
		return Event{}, domain.AlreadyExistsError{Kind: domain.RecordEvent, ID: ev.EventID}
	}

	// Conditional store-back of the rollup; on conflict re-read and retry
	// with the freshly observed sequence so no concurrent append is lost.
	for attempt := 0; ; attempt++ {
		updated, err := appendToBatch(batch, ev, now)
		if err != nil {
			return Event{}, err
		}
		raw, err := json.Marshal(updated)
		if err != nil {
			return Event{}, fmt.Errorf("encode batch: %w", err)
		}
		_, err = s.store.PutIf(ctx, ev.BatchID, raw, batchSeq)
		if err == nil {
			s.log.Debug("event appended",
				"eventId", ev.EventID, "batchId", ev.BatchID, "kind", ev.EventType)
			return ev, nil
		}
		if !domain.IsConflict(err) || attempt+1 >= maxWriteAttempts {
			return Event{}, err
		}
		batch, batchSeq, err = s.loadOrInit(ctx, ev.BatchID, seed, createAllowed, now)
		if err != nil {
			return Event{}, err
		}
	}
}

// validateParent enforces referential integrity at write time: the parent
// must resolve to a persisted event of the same batch.
func (s *Service) validateParent(ctx context.Context, ev Event) error {
	vv, found, err := s.store.Get(ctx, ev.ParentEventID)
	if err != nil {
		return domain.StoreError{Op: "get", Err: err}
	}
	if !found {
		return domain.NotFoundError{Kind: domain.RecordEvent, ID: ev.ParentEventID}
	}
	var parent Event
	if err := json.Unmarshal(vv.Value, &parent); err != nil {
		return domain.MalformedError{Field: "parentEventId", Reason: fmt.Sprintf("decode parent: %v", err)}
	}
	if !parent.EventType.Valid() {
		return domain.MalformedError{Field: "parentEventId", Reason: "referenced record is not an event"}
	}
	if parent.BatchID != ev.BatchID {
		return domain.MalformedError{
			Field:  "parentEventId",
			Reason: fmt.Sprintf("parent belongs to batch %s, not %s", parent.BatchID, ev.BatchID),
		}
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return domain.MalformedError{Field: name, Reason: "required"}
		}
	}
	return nil
}
