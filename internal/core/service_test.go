package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"herbtrace/internal/infra/ledger/memory"
	"herbtrace/pkg/domain"
)

// sequentialIDs yields deterministic event ids for tests.
func sequentialIDs() IDGenerator {
	var n uint64
	return func(kind domain.EventKind, _ time.Time) string {
		return fmt.Sprintf("%s-%d", kind, atomic.AddUint64(&n, 1))
	}
}

func testClock() func() time.Time {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var tick int64
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Minute)
	}
}

func newTestService(opts ...Option) *Service {
	defaults := []Option{
		WithNowFunc(testClock()),
		WithIDGenerator(sequentialIDs()),
	}
	return NewService(memory.NewStore(), append(defaults, opts...)...)
}

func TestLifecycleAdvancesBatchStatus(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID:       "BATCH-001",
		HerbSpecies:   "Ashwagandha",
		CollectorName: "Ravi",
		Weight:        12.5,
		HarvestDate:   "2024-03-01",
		LocationJSON:  `{"latitude":28.6,"longitude":77.2,"zone":"Zone 1"}`,
	})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if c1.EventID == "" || c1.ParentEventID != "" {
		t.Fatalf("collection event malformed: %+v", c1)
	}
	if c1.Collection == nil || c1.Collection.Location.Zone != "Zone 1" {
		t.Fatalf("location not parsed: %+v", c1.Collection)
	}

	batch, err := svc.QueryBatch(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if batch.CurrentStatus != StatusCollected {
		t.Fatalf("status after collection: %s", batch.CurrentStatus)
	}
	if batch.Creator != "Ravi" || batch.HerbSpecies != "Ashwagandha" {
		t.Fatalf("batch seeded wrong: %+v", batch)
	}

	q1, err := svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID:       "BATCH-001",
		ParentEventID: c1.EventID,
		TesterName:    "Meera",
		Purity:        99.1,
	})
	if err != nil {
		t.Fatalf("quality test: %v", err)
	}
	p1, err := svc.RecordProcessing(ctx, ProcessingInput{
		BatchID:       "BATCH-001",
		ParentEventID: q1.EventID,
		ProcessorName: "Unit 4",
		Method:        "drying",
		Yield:         10.2,
	})
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	m1, err := svc.RecordManufacturing(ctx, ManufacturingInput{
		BatchID:          "BATCH-001",
		ParentEventID:    p1.EventID,
		ManufacturerName: "HerbCo",
		ProductName:      "Capsules",
		Quantity:         500,
		Unit:             "bottles",
	})
	if err != nil {
		t.Fatalf("manufacturing: %v", err)
	}

	batch, err = svc.QueryBatch(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if batch.CurrentStatus != StatusManufactured {
		t.Fatalf("final status: %s", batch.CurrentStatus)
	}
	want := []string{c1.EventID, q1.EventID, p1.EventID, m1.EventID}
	if len(batch.Events) != len(want) {
		t.Fatalf("event count: got %d want %d", len(batch.Events), len(want))
	}
	for i, id := range want {
		if batch.Events[i] != id {
			t.Fatalf("append order broken at %d: got %s want %s", i, batch.Events[i], id)
		}
	}
	if !batch.LastUpdated.After(batch.CreationTime) {
		t.Fatalf("lastUpdated not refreshed")
	}
}

func TestCollectionOnExistingBatchDoesNotRegressStatus(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "BATCH-001", HerbSpecies: "Tulsi", CollectorName: "Ravi",
	})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if _, err := svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID: "BATCH-001", ParentEventID: c1.EventID, TesterName: "Meera",
	}); err != nil {
		t.Fatalf("quality test: %v", err)
	}

	// A second harvest lot lands on the tested batch.
	if _, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "BATCH-001", HerbSpecies: "Tulsi", CollectorName: "Sita",
	}); err != nil {
		t.Fatalf("second collection: %v", err)
	}

	batch, err := svc.QueryBatch(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if batch.CurrentStatus != StatusQualityTested {
		t.Fatalf("status regressed to %s", batch.CurrentStatus)
	}
	if len(batch.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(batch.Events))
	}
	// The original creator sticks.
	if batch.Creator != "Ravi" {
		t.Fatalf("creator overwritten: %s", batch.Creator)
	}
}

func TestLaterStageEventOnUnknownBatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, err := svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID: "NOPE", ParentEventID: "E1", TesterName: "Meera",
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequiredFieldValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"collection missing collector", func() error {
			_, err := svc.RecordCollection(ctx, CollectionInput{BatchID: "B", HerbSpecies: "Tulsi"})
			return err
		}},
		{"collection missing species", func() error {
			_, err := svc.RecordCollection(ctx, CollectionInput{BatchID: "B", CollectorName: "Ravi"})
			return err
		}},
		{"quality test missing parent", func() error {
			_, err := svc.RecordQualityTest(ctx, QualityTestInput{BatchID: "B", TesterName: "Meera"})
			return err
		}},
		{"processing missing processor", func() error {
			_, err := svc.RecordProcessing(ctx, ProcessingInput{BatchID: "B", ParentEventID: "E"})
			return err
		}},
		{"manufacturing blank batch", func() error {
			_, err := svc.RecordManufacturing(ctx, ManufacturingInput{BatchID: "  ", ParentEventID: "E", ManufacturerName: "M"})
			return err
		}},
	}
	for _, tc := range cases {
		err := tc.call()
		var malformed domain.MalformedError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected malformed error, got %v", tc.name, err)
		}
	}
}

func TestCollectionRejectsBadLocationJSON(t *testing.T) {
	svc := newTestService()
	_, err := svc.RecordCollection(context.Background(), CollectionInput{
		BatchID: "B", HerbSpecies: "Tulsi", CollectorName: "Ravi",
		LocationJSON: `{"latitude":`,
	})
	var malformed domain.MalformedError
	if !errors.As(err, &malformed) || malformed.Field != "location" {
		t.Fatalf("expected malformed location, got %v", err)
	}
}

func TestParentValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "BATCH-001", HerbSpecies: "Tulsi", CollectorName: "Ravi",
	})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if _, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "BATCH-002", HerbSpecies: "Neem", CollectorName: "Sita",
	}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	// Absent parent.
	_, err = svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID: "BATCH-001", ParentEventID: "MISSING", TesterName: "Meera",
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found for absent parent, got %v", err)
	}

	// Parent from a different batch.
	_, err = svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID: "BATCH-002", ParentEventID: c1.EventID, TesterName: "Meera",
	})
	var malformed domain.MalformedError
	if !errors.As(err, &malformed) || malformed.Field != "parentEventId" {
		t.Fatalf("expected malformed cross-batch parent, got %v", err)
	}

	// Parent id that names a batch record, not an event.
	_, err = svc.RecordQualityTest(ctx, QualityTestInput{
		BatchID: "BATCH-001", ParentEventID: "BATCH-001", TesterName: "Meera",
	})
	if !errors.As(err, &malformed) {
		t.Fatalf("expected malformed non-event parent, got %v", err)
	}
}

func TestInitLedgerIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if err := svc.InitLedger(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	batch, err := svc.QueryBatch(ctx, "BATCH0")
	if err != nil {
		t.Fatalf("query seed: %v", err)
	}
	if batch.HerbSpecies != "Tulsi" || batch.Creator != "System" || batch.CurrentStatus != StatusInitialized {
		t.Fatalf("seed batch: %+v", batch)
	}
	if len(batch.Events) != 0 {
		t.Fatalf("seed batch must start empty")
	}

	if err := svc.InitLedger(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	history, err := svc.BatchHistory(ctx, "BATCH0")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("second init rewrote the seed: %d revisions", len(history))
	}
}

func TestEventIDCollisionRegenerates(t *testing.T) {
	var calls int
	collider := func(kind domain.EventKind, _ time.Time) string {
		calls++
		if calls <= 2 {
			return string(kind) + "-SAME"
		}
		return fmt.Sprintf("%s-%d", kind, calls)
	}
	svc := newTestService(WithIDGenerator(collider))
	ctx := context.Background()

	first, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "B", HerbSpecies: "Tulsi", CollectorName: "Ravi",
	})
	if err != nil {
		t.Fatalf("first collection: %v", err)
	}
	second, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "B", HerbSpecies: "Tulsi", CollectorName: "Sita",
	})
	if err != nil {
		t.Fatalf("second collection: %v", err)
	}
	if first.EventID == second.EventID {
		t.Fatalf("colliding id was not regenerated")
	}
	batch, err := svc.QueryBatch(ctx, "B")
	if err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if len(batch.Events) != 2 {
		t.Fatalf("expected both events recorded, got %d", len(batch.Events))
	}
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	c1, err := svc.RecordCollection(ctx, CollectionInput{
		BatchID: "BATCH-001", HerbSpecies: "Tulsi", CollectorName: "Ravi",
	})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordQualityTest(ctx, QualityTestInput{
				BatchID:       "BATCH-001",
				ParentEventID: c1.EventID,
				TesterName:    fmt.Sprintf("tester-%d", i),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	batch, err := svc.QueryBatch(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if len(batch.Events) != 3 {
		t.Fatalf("lost append: batch lists %d events", len(batch.Events))
	}
	events, err := svc.BatchEvents(ctx, "BATCH-001")
	if err != nil {
		t.Fatalf("batch events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 resolvable events, got %d", len(events))
	}
}
