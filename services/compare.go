package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"gift-floors/models"
)

var hundred = decimal.NewFromInt(100)

// Compare joins two row sets on (gift, model). Only keys present in both
// sets are returned; names must match exactly. When a set repeats a key, the
// lowest price is used.
func Compare(a, b []models.Row) []models.ComparisonRow {
	left := floorsByKey(a)
	right := floorsByKey(b)

	out := make([]models.ComparisonRow, 0, len(left))
	for key, pa := range left {
		pb, ok := right[key]
		if !ok {
			continue
		}
		row := models.ComparisonRow{Gift: key.Gift, Model: key.Model, PriceA: pa, PriceB: pb}
		if pa != nil && pb != nil {
			diff := pb.Sub(*pa)
			row.Diff = &diff
			if !pa.IsZero() {
				pct := diff.Div(*pa).Mul(hundred).Round(2)
				row.DiffPct = &pct
			}
		}
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Gift != out[j].Gift {
			return out[i].Gift < out[j].Gift
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func floorsByKey(rows []models.Row) map[models.RowKey]*decimal.Decimal {
	m := make(map[models.RowKey]*decimal.Decimal, len(rows))
	for _, r := range rows {
		key := r.Key()
		cur, seen := m[key]
		if !seen || models.ComparePrices(r.Price, cur) < 0 {
			m[key] = r.Price
		}
	}
	return m
}
