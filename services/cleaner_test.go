package services

import (
	"testing"

	"github.com/shopspring/decimal"

	"gift-floors/scraper"
	"gift-floors/utils"
)

func newTestLogger() *utils.Logger { return utils.Discard() }

func TestCleanerParseFloor(t *testing.T) {
	c := NewCleaner(newTestLogger())

	tests := []struct {
		raw  string
		want string
	}{
		{`{"stats":{"floor":10500000000}}`, "10.5"},
		{`{"stats":{"floor":"2345678901"}}`, "2.35"},
		{`{"stats":{"floor":1}}`, ""},
		{`{"stats":{"floor":0}}`, ""},
		{`{"stats":{"floor":null}}`, ""},
		{`{"stats":{}}`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		got := c.parseFloor(rec(t, tt.raw))
		s := ""
		if got != nil && !got.IsZero() {
			s = got.String()
		}
		if s != tt.want {
			t.Errorf("parseFloor(%s) = %q; want %q", tt.raw, s, tt.want)
		}
	}
}

func TestCleanerGroupsDuplicateModels(t *testing.T) {
	c := NewCleaner(newTestLogger())
	sections := map[string][]scraper.RawModel{
		"Kissed Frog": {
			rec(t, `{"name":"Pepe","rarity_per_mille":15,"stats":{"floor":12000000000}}`),
			rec(t, `{"name":"Pepe","rarity_per_mille":99,"stats":{"floor":10000000000}}`),
			rec(t, `{"name":"Pepe","stats":{"floor":null}}`),
			rec(t, `{"name":"Rare","rarity_per_mile":3,"stats":{}}`),
			rec(t, `{"stats":{"floor":1000000000}}`),
		},
		"Desk Calendar": {
			rec(t, `{"name":"  Gold  Leaf ","rarity_per_mille":20,"stats":{"floor":5000000000}}`),
		},
	}

	rows := c.Clean(sections)
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}

	if rows[0].Gift != "Desk Calendar" || rows[0].Model != "Gold Leaf" {
		t.Errorf("first row = %+v", rows[0])
	}
	pepe := rows[1]
	if pepe.Model != "Pepe" || !pepe.Price.Equal(decimal.NewFromInt(10)) || pepe.RarityPerMille != "1,5" {
		t.Errorf("pepe = %+v; want min price 10 and first rarity", pepe)
	}
	rare := rows[2]
	if rare.Model != "Rare" || rare.Price != nil || rare.RarityPerMille != "0,3" {
		t.Errorf("rare = %+v; want absent price sorted last", rare)
	}
}
