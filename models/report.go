package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunReport summarises one orchestrator run.
type RunReport struct {
	RunID     string
	Source    string
	StartedAt time.Time
	Duration  time.Duration

	CollectionsTotal      int
	CollectionsScanned    int
	CollectionsSkipped    int
	CollectionsFailed     int
	CollectionsIncomplete int

	RowsPriced   int
	RowsUnpriced int
	PagesFetched int
	Duplicates   int
	OutOfOrder   int
	Checkpoints  int

	FailedCollections []string
	Interrupted       bool
}

// ComparisonRow is one (gift, model) present in both sources.
type ComparisonRow struct {
	Gift   string           `json:"gift"`
	Model  string           `json:"model"`
	PriceA *decimal.Decimal `json:"price_a"`
	PriceB *decimal.Decimal `json:"price_b"`
	// Diff is PriceB - PriceA, nil unless both prices are present.
	Diff *decimal.Decimal `json:"diff"`
	// DiffPct is Diff relative to PriceA in percent, nil when PriceA is absent or zero.
	DiffPct *decimal.Decimal `json:"diff_pct"`
}

// InsightReport is a summary of one row set, printed after a run.
type InsightReport struct {
	TotalRows    int
	PricedRows   int
	UnpricedRows int

	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	AveragePrice *decimal.Decimal

	MostExpensive *Row
	Cheapest      []Row
	RowsByGift    map[string]int
}
