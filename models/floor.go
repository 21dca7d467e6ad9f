package models

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// StopReason records why a collection scan stopped fetching pages.
type StopReason string

const (
	StopAllClosed   StopReason = "all_closed"
	StopExhausted   StopReason = "exhausted"
	StopPageCeiling StopReason = "page_ceiling"
	StopFailed      StopReason = "failed"
	StopNoTargets   StopReason = "no_targets"
)

// FloorRecord is the minimum observed price for one model of a collection.
// A nil Price means no listing matched the model.
type FloorRecord struct {
	Model ModelDescriptor
	Price *decimal.Decimal
}

// Observe records price if it is lower than the current floor.
// It returns true when the record changed.
func (r *FloorRecord) Observe(price decimal.Decimal) bool {
	if r.Price != nil && !price.LessThan(*r.Price) {
		return false
	}
	p := price
	r.Price = &p
	return true
}

// FloorTable is the result of scanning one collection. Records hold one
// entry per target model in registry order.
type FloorTable struct {
	Collection Collection
	Records    []FloorRecord
	Pages      int
	Stop       StopReason
	Incomplete bool
	Duplicates int
	OutOfOrder int
	// FirstOutOfOrder is the one-based feed position of the first listing
	// cheaper than its predecessor; zero while the feed stayed ordered.
	FirstOutOfOrder int
}

// Priced returns how many records carry a price.
func (t *FloorTable) Priced() int {
	n := 0
	for _, r := range t.Records {
		if r.Price != nil {
			n++
		}
	}
	return n
}

// Rows flattens the table into output rows, skipping nameless models.
func (t *FloorTable) Rows() []Row {
	rows := make([]Row, 0, len(t.Records))
	for _, r := range t.Records {
		if strings.TrimSpace(r.Model.Name) == "" {
			continue
		}
		rows = append(rows, Row{
			Gift:           t.Collection.Title,
			GiftID:         t.Collection.ID,
			Model:          r.Model.Name,
			RarityPerMille: FormatRarity(r.Model.RarityPerMille),
			Price:          r.Price,
			StickerID:      string(r.Model.StrongID),
		})
	}
	return rows
}

// Row is one line of the output artifact.
type Row struct {
	Gift           string           `json:"gift"`
	GiftID         string           `json:"gift_id,omitempty"`
	Model          string           `json:"model"`
	RarityPerMille string           `json:"rarity_per_mille"`
	Price          *decimal.Decimal `json:"price"`
	StickerID      string           `json:"sticker_id,omitempty"`
}

// MarshalJSON writes the price as a bare JSON number, or null when absent.
func (r Row) MarshalJSON() ([]byte, error) {
	type plain Row
	price := json.RawMessage("null")
	if r.Price != nil {
		price = json.RawMessage(r.Price.String())
	}
	return json.Marshal(struct {
		plain
		Price json.RawMessage `json:"price"`
	}{plain(r), price})
}

// Key is the cross-source join key.
func (r Row) Key() RowKey {
	return RowKey{Gift: r.Gift, Model: r.Model}
}

// RowKey identifies a (gift, model) pair. Matching is exact and case-sensitive.
type RowKey struct {
	Gift  string
	Model string
}

// FormatRarity renders parts-per-mille as a one-decimal percentage with a
// comma separator: 23 becomes "2,3". Absent rarity renders as "".
func FormatRarity(perMille *int64) string {
	if perMille == nil {
		return ""
	}
	s := decimal.NewFromInt(*perMille).Shift(-1).StringFixed(1)
	return strings.Replace(s, ".", ",", 1)
}

// ComparePrices orders absent prices after every present one.
func ComparePrices(a, b *decimal.Decimal) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Cmp(*b)
	}
}

// SortRows orders rows by gift, then price ascending with absent last, then model.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Gift != rows[j].Gift {
			return rows[i].Gift < rows[j].Gift
		}
		if c := ComparePrices(rows[i].Price, rows[j].Price); c != 0 {
			return c < 0
		}
		return rows[i].Model < rows[j].Model
	})
}
