// Command ledger-check audits a herbtrace ledger for referential
// consistency: every event id in a batch rollup must resolve to a persisted
// event of that batch, rollups must be duplicate-free, and each batch's
// provenance graph must reconstruct without cycles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
	"herbtrace/pkg/provenance"
)

var exitFunc = os.Exit

func main() {
	verbose := flag.Bool("v", false, "print per-batch detail")
	seed := flag.Bool("seed", false, "seed the demo batch before checking")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := core.OpenRecordStore()
	if err != nil {
		logger.Error("open record store", "error", err)
		exitFunc(2)
		return
	}
	svc := core.NewService(store, core.WithLogger(core.SlogLogger{L: logger}))

	ctx := context.Background()
	if *seed {
		if err := svc.InitLedger(ctx); err != nil {
			logger.Error("seed ledger", "error", err)
			exitFunc(2)
			return
		}
	}

	violations, err := audit(ctx, svc, *verbose)
	if err != nil {
		logger.Error("audit failed", "error", err)
		exitFunc(2)
		return
	}
	if violations > 0 {
		fmt.Fprintf(os.Stderr, "ledger-check: %d violation(s) found\n", violations)
		exitFunc(1)
		return
	}
	fmt.Println("ledger-check: ok")
}

func audit(ctx context.Context, svc *core.Service, verbose bool) (int, error) {
	batches, err := svc.AllBatches(ctx)
	if err != nil {
		return 0, err
	}
	violations := 0
	report := func(format string, args ...any) {
		violations++
		fmt.Fprintf(os.Stderr, "ledger-check: "+format+"\n", args...)
	}

	for _, kb := range batches {
		batch := kb.Record
		seen := make(map[string]bool, len(batch.Events))
		for _, eventID := range batch.Events {
			if seen[eventID] {
				report("batch %s lists event %s twice", batch.BatchID, eventID)
				continue
			}
			seen[eventID] = true

			ev, err := svc.QueryEvent(ctx, eventID)
			if domain.IsNotFound(err) {
				report("batch %s references missing event %s", batch.BatchID, eventID)
				continue
			}
			if err != nil {
				return violations, err
			}
			if ev.BatchID != batch.BatchID {
				report("event %s belongs to batch %s but is listed by %s", eventID, ev.BatchID, batch.BatchID)
			}
		}

		events, err := svc.BatchEvents(ctx, batch.BatchID)
		if err != nil {
			return violations, err
		}
		forest, err := provenance.BuildForest(events)
		if err != nil {
			report("batch %s: %v", batch.BatchID, err)
			continue
		}
		if verbose {
			fmt.Printf("batch %s: %d event(s), %d root(s), status %s\n",
				batch.BatchID, len(events), len(forest), batch.CurrentStatus)
		}
	}
	if verbose {
		fmt.Printf("checked %d batch(es)\n", len(batches))
	}
	return violations, nil
}
