package services

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"gift-floors/models"
	"gift-floors/scraper"
	"gift-floors/utils"
)

// floorPath locates the nano-TON floor in a thermos model record.
const floorPath fieldPath = "stats.floor"

var nanoPerTON = decimal.New(1, 9)

// Cleaner turns raw thermos attribute sections into output rows.
type Cleaner struct {
	logger   *utils.Logger
	resolver *Resolver
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger, resolver: NewResolver()}
}

type groupedModel struct {
	name   string
	rarity *int64
	price  *decimal.Decimal
}

// Clean groups models per gift. Repeated model names keep the lowest floor
// and the first rarity seen; nameless models are dropped. Floors are
// converted from nano-TON to TON and rounded to two decimals.
func (c *Cleaner) Clean(sections map[string][]scraper.RawModel) []models.Row {
	gifts := make([]string, 0, len(sections))
	for g := range sections {
		gifts = append(gifts, g)
	}
	sort.Strings(gifts)

	var rows []models.Row
	dropped := 0
	total := 0

	for _, gift := range gifts {
		title := normaliseText(gift)
		order := []string{}
		byName := make(map[string]*groupedModel)

		for _, raw := range sections[gift] {
			total++
			m, ok := c.resolver.ResolveModel(raw)
			if !ok {
				dropped++
				c.logger.Debug("[cleaner] %s: dropping nameless model", title)
				continue
			}
			name := normaliseText(m.Name)
			price := c.parseFloor(raw)

			g, seen := byName[name]
			if !seen {
				byName[name] = &groupedModel{name: name, rarity: m.RarityPerMille, price: price}
				order = append(order, name)
				continue
			}
			c.logger.Debug("[cleaner] %s: duplicate model %q merged", title, name)
			if price != nil && (g.price == nil || price.LessThan(*g.price)) {
				g.price = price
			}
		}

		for _, name := range order {
			g := byName[name]
			rows = append(rows, models.Row{
				Gift:           title,
				Model:          g.name,
				RarityPerMille: models.FormatRarity(g.rarity),
				Price:          g.price,
			})
		}
	}

	models.SortRows(rows)
	c.logger.Info("[cleaner] Grouped %d model records → %d rows (dropped %d)", total, len(rows), dropped)
	return rows
}

// parseFloor returns the floor in TON, or nil when missing or not positive.
func (c *Cleaner) parseFloor(raw scraper.RawModel) *decimal.Decimal {
	v, ok := floorPath.get(raw)
	if !ok {
		return nil
	}
	nano, ok := asDecimal(v)
	if !ok || !nano.IsPositive() {
		return nil
	}
	ton := nano.Div(nanoPerTON).Round(2)
	return &ton
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
