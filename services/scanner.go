package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"gift-floors/models"
	"gift-floors/scraper"
	"gift-floors/utils"
)

const (
	DefaultPageLimit = 200
	DefaultMaxPages  = 200
)

// Scanner walks a collection's price-ascending listing feed and records the
// floor price of every target model, stopping as soon as all are priced.
type Scanner struct {
	source    scraper.Source
	resolver  *Resolver
	retry     *utils.RetryConfig
	logger    *utils.Logger
	pageLimit int
	maxPages  int
}

// NewScanner creates a Scanner. Non-positive limits fall back to the defaults.
func NewScanner(source scraper.Source, resolver *Resolver, retry *utils.RetryConfig, logger *utils.Logger, pageLimit, maxPages int) *Scanner {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Scanner{
		source:    source,
		resolver:  resolver,
		retry:     retry,
		logger:    logger,
		pageLimit: pageLimit,
		maxPages:  maxPages,
	}
}

// Scan returns one FloorRecord per target, in target order. Targets never
// matched keep an absent price. If a page cannot be fetched after retries the
// partial table is returned, marked Incomplete, together with
// ErrCollectionScanFailed.
func (s *Scanner) Scan(ctx context.Context, col models.Collection, targets []models.ModelDescriptor) (*models.FloorTable, error) {
	return s.scan(ctx, col, targets, len(targets) == 1)
}

// targetIndex maps listing identity onto target positions.
type targetIndex struct {
	single bool
	byID   map[models.StrongID]int
	byName map[string]int
}

func newTargetIndex(targets []models.ModelDescriptor, single bool) *targetIndex {
	idx := &targetIndex{
		single: single,
		byID:   make(map[models.StrongID]int, len(targets)),
		byName: make(map[string]int, len(targets)),
	}
	for i, t := range targets {
		if t.StrongID != "" {
			if _, dup := idx.byID[t.StrongID]; !dup {
				idx.byID[t.StrongID] = i
			}
		}
		if t.Name != "" {
			if _, dup := idx.byName[t.Name]; !dup {
				idx.byName[t.Name] = i
			}
		}
	}
	return idx
}

// match returns the target a listing belongs to, or -1. A strong id match
// wins over a name match that points at a different model.
func (idx *targetIndex) match(l models.Listing) int {
	if idx.single {
		return 0
	}
	if l.StrongID != "" {
		if i, ok := idx.byID[l.StrongID]; ok {
			return i
		}
	}
	if l.ModelName != "" {
		if i, ok := idx.byName[l.ModelName]; ok {
			return i
		}
	}
	return -1
}

// scan is Scan with the single-model decision made by the caller, so a
// partial target list can still be scanned as part of a larger registry.
func (s *Scanner) scan(ctx context.Context, col models.Collection, targets []models.ModelDescriptor, single bool) (*models.FloorTable, error) {
	table := &models.FloorTable{
		Collection: col,
		Records:    make([]models.FloorRecord, len(targets)),
	}
	for i, t := range targets {
		table.Records[i].Model = t
	}
	if len(targets) == 0 {
		table.Stop = models.StopNoTargets
		return table, nil
	}

	idx := newTargetIndex(targets, single)
	open := len(targets)
	seen := make(map[string]struct{})
	var last *decimal.Decimal
	position := 0
	cursor := ""

	for {
		if table.Pages >= s.maxPages {
			table.Stop = models.StopPageCeiling
			s.logger.Warn("[scanner] %s: page ceiling %d reached with %d/%d models unpriced",
				col.Title, s.maxPages, open, len(targets))
			break
		}

		page, err := s.fetch(ctx, col, cursor, table.Pages+1)
		if err != nil {
			table.Stop = models.StopFailed
			table.Incomplete = true
			return table, fmt.Errorf("scan %q page %d: %w: %w", col.Title, table.Pages+1, ErrCollectionScanFailed, err)
		}
		table.Pages++

		for _, raw := range page.Items {
			l := s.resolver.Resolve(raw)
			l.Position = position
			position++

			if l.ID != "" {
				if _, dup := seen[l.ID]; dup {
					table.Duplicates++
					continue
				}
				seen[l.ID] = struct{}{}
			}
			if !l.Priced() {
				continue
			}
			if last != nil && l.Price.LessThan(*last) {
				table.OutOfOrder++
				if table.FirstOutOfOrder == 0 {
					table.FirstOutOfOrder = l.Position + 1
				}
			}
			last = l.Price

			i := idx.match(l)
			if i < 0 {
				continue
			}
			rec := &table.Records[i]
			wasOpen := rec.Price == nil
			if rec.Observe(*l.Price) && wasOpen {
				open--
			}
		}

		s.logger.Debug("[scanner] %s: page %d — %d items, %d/%d models open",
			col.Title, table.Pages, len(page.Items), open, len(targets))

		if open == 0 {
			table.Stop = models.StopAllClosed
			break
		}
		if page.NextCursor == "" {
			table.Stop = models.StopExhausted
			break
		}
		cursor = page.NextCursor
	}

	if table.OutOfOrder > 0 {
		s.logger.Warn("[scanner] %s: feed delivered %d listings out of price order (first at position %d)",
			col.Title, table.OutOfOrder, table.FirstOutOfOrder)
	}
	s.logger.Info("[scanner] %s: %d/%d models priced in %d pages (%s)",
		col.Title, table.Priced(), len(targets), table.Pages, table.Stop)
	return table, nil
}

func (s *Scanner) fetch(ctx context.Context, col models.Collection, cursor string, n int) (*scraper.Page, error) {
	var page *scraper.Page
	err := s.retry.Do(ctx, fmt.Sprintf("%s page %d", col.Title, n), func(ctx context.Context) error {
		p, err := s.source.ListPage(ctx, scraper.PageRequest{
			CollectionID: col.ID,
			Order:        scraper.ByPrice,
			Cursor:       cursor,
			Limit:        s.pageLimit,
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
		page = &scraper.Page{}
	}
	return page, nil
}
