package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gift-floors/models"
	"gift-floors/scraper"
	"gift-floors/utils"
)

// Mode selects how a collection's floors are discovered.
type Mode string

const (
	// ModeScan walks the collection feed in price order.
	ModeScan Mode = "scan"
	// ModeVerify issues one filtered query per model.
	ModeVerify Mode = "verify"
)

// Checkpointer receives the full, sorted result set at every checkpoint.
type Checkpointer interface {
	Write(rows []models.Row) error
}

// Options are the orchestrator's tunables. Zero values fall back to defaults.
type Options struct {
	// RunID labels the run; a random uuid is used when empty.
	RunID                    string
	SourceName               string
	Mode                     Mode
	MaxCollections           int
	MaxRequestsPerCollection int
	RateLimitMs              int
	PageLimit                int
	MaxPages                 int
	CheckpointRows           int
	CheckpointInterval       time.Duration
	// Collections, when non-empty, restricts the run to these titles.
	Collections []string
}

func (o *Options) withDefaults() {
	if o.Mode == "" {
		o.Mode = ModeScan
	}
	if o.MaxCollections < 1 {
		o.MaxCollections = 3
	}
	if o.MaxRequestsPerCollection < 1 {
		o.MaxRequestsPerCollection = 5
	}
	if o.CheckpointRows < 1 {
		o.CheckpointRows = 50
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 30 * time.Second
	}
}

// Orchestrator runs the floor discovery over the whole catalog.
type Orchestrator struct {
	source   scraper.Source
	resolver *Resolver
	registry *RegistryBuilder
	scanner  *Scanner
	verifier *Verifier
	sink     Checkpointer
	retry    *utils.RetryConfig
	logger   *utils.Logger
	opts     Options
}

// NewOrchestrator wires the registry, scanner and verifier over one source.
// sink may be nil.
func NewOrchestrator(source scraper.Source, sink Checkpointer, retry *utils.RetryConfig, logger *utils.Logger, opts Options) *Orchestrator {
	opts.withDefaults()
	resolver := NewResolver()
	scanner := NewScanner(source, resolver, retry, logger, opts.PageLimit, opts.MaxPages)
	return &Orchestrator{
		source:   source,
		resolver: resolver,
		registry: NewRegistryBuilder(source, resolver, retry, logger),
		scanner:  scanner,
		verifier: NewVerifier(source, resolver, scanner, retry, logger, opts.MaxRequestsPerCollection, opts.RateLimitMs),
		sink:     sink,
		retry:    retry,
		logger:   logger,
		opts:     opts,
	}
}

type collectionResult struct {
	collection models.Collection
	table      *models.FloorTable
	err        error
}

// Run scans every active collection and checkpoints the merged rows to the
// sink. Only a catalog failure aborts the run; per-collection failures are
// recorded in the report. On cancellation the rows gathered so far are
// flushed before Run returns the context error.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunReport, error) {
	runID := o.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &models.RunReport{
		RunID:     runID,
		Source:    o.opts.SourceName,
		StartedAt: time.Now(),
	}
	o.logger.Info("[orchestrator] Run %s starting — mode: %s | collections: %d | requests/collection: %d",
		report.RunID, o.opts.Mode, o.opts.MaxCollections, o.opts.MaxRequestsPerCollection)

	var raw []scraper.RawCollection
	err := o.retry.Do(ctx, "catalog", func(ctx context.Context) error {
		var err error
		raw, err = o.source.ListCollections(ctx)
		return err
	})
	if err != nil {
		report.Duration = time.Since(report.StartedAt)
		return report, fmt.Errorf("catalog: %w: %w", ErrSourceUnavailable, err)
	}

	cols := o.selectCollections(raw, report)

	results := make(chan collectionResult)
	aggDone := make(chan struct{})
	var flushErr error
	go func() {
		defer close(aggDone)
		flushErr = o.aggregate(results, report)
	}()

	pool := utils.NewWorkerPool(o.opts.MaxCollections, 0)
	o.logger.Info("[orchestrator] %d collections to scan (%d skipped), %d at a time",
		len(cols), report.CollectionsSkipped, pool.Size())
	for _, col := range cols {
		col := col
		if err := pool.SubmitContext(ctx, func() {
			results <- o.scanCollection(ctx, col)
		}); err != nil {
			break
		}
	}
	pool.Wait()
	close(results)
	<-aggDone

	report.Duration = time.Since(report.StartedAt)
	if ctx.Err() != nil {
		report.Interrupted = true
		o.logger.Warn("[orchestrator] Run %s interrupted — last checkpoint holds %d rows",
			report.RunID, report.RowsPriced+report.RowsUnpriced)
		if flushErr != nil {
			return report, fmt.Errorf("final checkpoint: %w", errors.Join(ctx.Err(), flushErr))
		}
		return report, ctx.Err()
	}
	if flushErr != nil {
		return report, fmt.Errorf("final checkpoint: %w", flushErr)
	}
	o.logger.Info("[orchestrator] Run %s done in %v — %d scanned, %d failed, %d rows",
		report.RunID, report.Duration.Round(time.Millisecond), report.CollectionsScanned,
		report.CollectionsFailed, report.RowsPriced+report.RowsUnpriced)
	return report, nil
}

// selectCollections normalises the catalog and drops unusable, duplicate,
// filtered and inactive entries.
func (o *Orchestrator) selectCollections(raw []scraper.RawCollection, report *models.RunReport) []models.Collection {
	allowed := make(map[string]struct{}, len(o.opts.Collections))
	for _, t := range o.opts.Collections {
		allowed[t] = struct{}{}
	}

	seen := utils.NewStringSet()
	cols := make([]models.Collection, 0, len(raw))
	for _, r := range raw {
		report.CollectionsTotal++
		c, ok := o.resolver.ResolveCollection(r)
		switch {
		case !ok:
			o.logger.Warn("[orchestrator] Catalog entry without gift id skipped")
		case !seen.Add(c.ID):
			o.logger.Debug("[orchestrator] Duplicate catalog entry %s skipped", c.Title)
		case len(allowed) > 0 && !contains(allowed, c.Title):
			o.logger.Debug("[orchestrator] %s not in collection list", c.Title)
		case !c.HasResaleActivity():
			o.logger.Debug("[orchestrator] %s has no resale listings", c.Title)
		default:
			cols = append(cols, c)
			continue
		}
		report.CollectionsSkipped++
	}
	return cols
}

func contains(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

// scanCollection builds the registry and scans one collection. A model
// discovery failure (ErrSourceUnavailable from the registry) is isolated to
// this collection; only the catalog query aborts the whole run.
func (o *Orchestrator) scanCollection(ctx context.Context, col models.Collection) collectionResult {
	targets, err := o.registry.Build(ctx, col)
	if err != nil {
		return collectionResult{collection: col, err: err}
	}

	var table *models.FloorTable
	if o.opts.Mode == ModeVerify {
		table, err = o.verifier.Verify(ctx, col, targets)
	} else {
		table, err = o.scanner.Scan(ctx, col, targets)
	}
	return collectionResult{collection: col, table: table, err: err}
}

// aggregate is the only goroutine that touches the merged rows. It owns the
// checkpoint schedule and performs the final flush once results is closed.
// Intermediate checkpoint failures are logged; the final flush error is returned.
func (o *Orchestrator) aggregate(results <-chan collectionResult, report *models.RunReport) error {
	var rows []models.Row
	pending := 0

	ticker := time.NewTicker(o.opts.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return o.checkpoint(rows, report, "final")
			}
			rows, pending = o.merge(rows, pending, res, report)
			if pending >= o.opts.CheckpointRows {
				_ = o.checkpoint(rows, report, "rows")
				pending = 0
			}
		case <-ticker.C:
			if pending > 0 {
				_ = o.checkpoint(rows, report, "interval")
				pending = 0
			}
		}
	}
}

func (o *Orchestrator) merge(rows []models.Row, pending int, res collectionResult, report *models.RunReport) ([]models.Row, int) {
	title := res.collection.Title

	if res.table != nil {
		t := res.table
		report.PagesFetched += t.Pages
		report.Duplicates += t.Duplicates
		report.OutOfOrder += t.OutOfOrder
		if t.Incomplete {
			report.CollectionsIncomplete++
		}
		for _, r := range t.Rows() {
			if r.Price != nil {
				report.RowsPriced++
			} else {
				report.RowsUnpriced++
			}
			rows = append(rows, r)
			pending++
		}
	}

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			o.logger.Warn("[orchestrator] %s interrupted: %v", title, res.err)
		} else {
			o.logger.Error("[orchestrator] %s failed: %v", title, res.err)
		}
		report.CollectionsFailed++
		report.FailedCollections = append(report.FailedCollections, title)
		return rows, pending
	}
	report.CollectionsScanned++
	return rows, pending
}

// checkpoint writes a sorted copy so the sink never sees a torn result set.
func (o *Orchestrator) checkpoint(rows []models.Row, report *models.RunReport, why string) error {
	if o.sink == nil {
		return nil
	}
	snapshot := make([]models.Row, len(rows))
	copy(snapshot, rows)
	models.SortRows(snapshot)

	if err := o.sink.Write(snapshot); err != nil {
		o.logger.Error("[orchestrator] Checkpoint (%s) failed: %v", why, err)
		return err
	}
	report.Checkpoints++
	o.logger.Info("[orchestrator] Checkpoint (%s): %d rows saved", why, len(snapshot))
	return nil
}
