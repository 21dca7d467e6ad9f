package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"gift-floors/models"
)

// fieldPath is a dotted path into a decoded JSON object, e.g. "gift.model.name".
// Each extraction table below is an ordered list of paths; the first path
// that yields a value of the expected type wins.
type fieldPath string

// Listing strategies.
var (
	listingPricePaths = []fieldPath{
		"gift.resale_star_count",
		"resale_star_count",
		"price",
		"amount",
		"stars",
		"gift.price",
		"unique.resale_star_count",
		"star_gift.resale_star_count",
	}
	listingStrongIDPaths = []fieldPath{
		"gift.model.sticker.id",
		"gift.sticker.id",
		"model.sticker.id",
		"sticker.id",
	}
	listingModelNamePaths = []fieldPath{
		"gift.model.name",
		"model.name",
	}
	listingIDPaths = []fieldPath{
		"gift.id",
		"id",
		"gift.name",
	}
)

// Model registry strategies.
var (
	modelStrongIDPaths = []fieldPath{
		"model.sticker.id",
		"sticker.id",
		"model.upgraded_sticker.id",
		"gift.sticker.id",
		"sticker_id",
	}
	modelNamePaths = []fieldPath{
		"model.name",
		"name",
	}
	modelRarityPaths = []fieldPath{
		"model.rarity_per_mille",
		"rarity_per_mille",
		"rarityPermille",
		"rarity_per_mile",
	}
)

// Catalog strategies.
var (
	collectionIDPaths = []fieldPath{
		"gift.id",
		"id",
		"gift_id",
	}
	collectionTitlePaths = []fieldPath{
		"title",
		"gift.title",
		"name",
	}
	collectionResaleCountPaths = []fieldPath{
		"resale_count",
		"gift.resale_count",
	}
)

// Resolver extracts typed values from structurally varying feed records.
// It never fails: anything it cannot find is reported as absent.
type Resolver struct{}

// NewResolver returns a Resolver using the fixed precedence tables.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve extracts price, strong id, model name and listing id from a raw listing.
// A missing or non-positive price leaves Price nil.
func (r *Resolver) Resolve(raw map[string]any) models.Listing {
	var l models.Listing
	if p, ok := firstPositiveDecimal(raw, listingPricePaths); ok {
		l.Price = &p
	}
	l.StrongID = firstID(raw, listingStrongIDPaths)
	l.ModelName = firstString(raw, listingModelNamePaths)
	if id := firstID(raw, listingIDPaths[:2]); id != "" {
		l.ID = string(id)
	} else {
		l.ID = firstString(raw, listingIDPaths[2:])
	}
	return l
}

// ResolveModel extracts a model descriptor. ok is false for nameless records.
func (r *Resolver) ResolveModel(raw map[string]any) (models.ModelDescriptor, bool) {
	m := models.ModelDescriptor{
		Name:     firstString(raw, modelNamePaths),
		StrongID: firstID(raw, modelStrongIDPaths),
	}
	if rpm, ok := firstInt(raw, modelRarityPaths); ok {
		m.RarityPerMille = &rpm
	}
	return m, m.Name != ""
}

// ResolveCollection extracts a catalog entry. ok is false when no id is present.
func (r *Resolver) ResolveCollection(raw map[string]any) (models.Collection, bool) {
	c := models.Collection{
		ID:    string(firstID(raw, collectionIDPaths)),
		Title: firstString(raw, collectionTitlePaths),
	}
	if n, ok := firstInt(raw, collectionResaleCountPaths); ok {
		c.ResaleCount = &n
	}
	if c.Title == "" {
		c.Title = c.ID
	}
	return c, c.ID != ""
}

func (p fieldPath) get(rec map[string]any) (any, bool) {
	var cur any = rec
	for _, key := range strings.Split(string(p), ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstPositiveDecimal(rec map[string]any, paths []fieldPath) (decimal.Decimal, bool) {
	for _, p := range paths {
		v, ok := p.get(rec)
		if !ok {
			continue
		}
		if d, ok := asDecimal(v); ok && d.IsPositive() {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func firstInt(rec map[string]any, paths []fieldPath) (int64, bool) {
	for _, p := range paths {
		v, ok := p.get(rec)
		if !ok {
			continue
		}
		d, ok := asDecimal(v)
		if ok && d.IsInteger() {
			return d.IntPart(), true
		}
	}
	return 0, false
}

func firstID(rec map[string]any, paths []fieldPath) models.StrongID {
	for _, p := range paths {
		v, ok := p.get(rec)
		if !ok {
			continue
		}
		if id := asID(v); id != "" {
			return id
		}
	}
	return ""
}

func firstString(rec map[string]any, paths []fieldPath) string {
	for _, p := range paths {
		v, ok := p.get(rec)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// asDecimal accepts JSON numbers, Go numbers and numeric strings.
func asDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(string(n))
		return d, err == nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// asID accepts non-negative integers in any numeric or string form.
func asID(v any) models.StrongID {
	switch n := v.(type) {
	case json.Number:
		return models.NormaliseStrongID(string(n))
	case string:
		return models.NormaliseStrongID(n)
	case int64:
		if n >= 0 {
			return models.StrongID(strconv.FormatInt(n, 10))
		}
	case int:
		if n >= 0 {
			return models.StrongID(strconv.Itoa(n))
		}
	case float64:
		if n >= 0 && n == math.Trunc(n) && n < 1<<53 {
			return models.StrongID(strconv.FormatInt(int64(n), 10))
		}
	}
	return ""
}
