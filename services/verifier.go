package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gift-floors/models"
	"gift-floors/scraper"
	"gift-floors/utils"
)

// Verifier prices each model with its own filtered, price-ordered query of
// one listing. Requests for one collection run concurrently up to
// maxRequests. Models without a strong id cannot be filtered and are priced
// by a regular feed scan instead.
type Verifier struct {
	source      scraper.Source
	resolver    *Resolver
	scanner     *Scanner
	retry       *utils.RetryConfig
	logger      *utils.Logger
	maxRequests int
	rateLimitMs int
}

// NewVerifier creates a Verifier.
func NewVerifier(source scraper.Source, resolver *Resolver, scanner *Scanner, retry *utils.RetryConfig, logger *utils.Logger, maxRequests, rateLimitMs int) *Verifier {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &Verifier{
		source:      source,
		resolver:    resolver,
		scanner:     scanner,
		retry:       retry,
		logger:      logger,
		maxRequests: maxRequests,
		rateLimitMs: rateLimitMs,
	}
}

// Verify returns one FloorRecord per target, in target order. Failed models
// keep an absent price and mark the table Incomplete.
func (v *Verifier) Verify(ctx context.Context, col models.Collection, targets []models.ModelDescriptor) (*models.FloorTable, error) {
	table := &models.FloorTable{
		Collection: col,
		Records:    make([]models.FloorRecord, len(targets)),
		Stop:       models.StopAllClosed,
	}
	for i, t := range targets {
		table.Records[i].Model = t
	}
	if len(targets) == 0 {
		table.Stop = models.StopNoTargets
		return table, nil
	}

	var fallback []int
	pool := utils.NewWorkerPool(v.maxRequests, v.rateLimitMs)
	var mu sync.Mutex
	var errs []error

	fail := func(name string, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("model %q: %w", name, err))
		mu.Unlock()
	}

	for i, t := range targets {
		if t.StrongID == "" {
			fallback = append(fallback, i)
			continue
		}
		i, t := i, t
		err := pool.SubmitContext(ctx, func() {
			floor, err := v.floorOf(ctx, col, t)
			mu.Lock()
			table.Pages++
			mu.Unlock()
			if err != nil {
				fail(t.Name, err)
				return
			}
			if floor != nil {
				// each job owns exactly one record
				table.Records[i].Observe(*floor.Price)
			}
		})
		if err != nil {
			fail(t.Name, err)
		}
	}
	pool.Wait()

	if len(fallback) > 0 {
		sub := make([]models.ModelDescriptor, len(fallback))
		for j, i := range fallback {
			sub[j] = targets[i]
		}
		v.logger.Debug("[verifier] %s: %d models without sticker id, scanning feed", col.Title, len(sub))
		st, err := v.scanner.scan(ctx, col, sub, len(targets) == 1)
		for j, i := range fallback {
			table.Records[i].Price = st.Records[j].Price
		}
		table.Pages += st.Pages
		table.Duplicates += st.Duplicates
		table.OutOfOrder += st.OutOfOrder
		table.FirstOutOfOrder = st.FirstOutOfOrder
		if err != nil {
			errs = append(errs, err)
		}
	}

	v.logger.Info("[verifier] %s: %d/%d models priced with %d requests",
		col.Title, table.Priced(), len(targets), table.Pages)

	if len(errs) > 0 {
		table.Incomplete = true
		table.Stop = models.StopFailed
		return table, fmt.Errorf("verify %q: %w: %d of %d models failed: %w",
			col.Title, ErrCollectionScanFailed, len(errs), len(targets), errors.Join(errs...))
	}
	return table, nil
}

// floorOf returns the cheapest priced listing for one model, or nil if none is listed.
func (v *Verifier) floorOf(ctx context.Context, col models.Collection, m models.ModelDescriptor) (*models.Listing, error) {
	var page *scraper.Page
	err := v.retry.Do(ctx, fmt.Sprintf("%s/%s floor", col.Title, m.Name), func(ctx context.Context) error {
		p, err := v.source.ListPage(ctx, scraper.PageRequest{
			CollectionID: col.ID,
			Order:        scraper.ByPrice,
			Limit:        1,
			ModelFilter:  string(m.StrongID),
		})
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	for _, raw := range page.Items {
		l := v.resolver.Resolve(raw)
		if l.Priced() {
			return &l, nil
		}
	}
	return nil, nil
}
