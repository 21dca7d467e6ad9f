package models

import (
	"strings"
)

// StrongID is a content-addressed model identifier (the sticker document id)
// shared between a model and every listing of that model. It is kept as a
// decimal string so 64-bit ids survive JSON round trips.
type StrongID string

// NormaliseStrongID trims s and returns it only if it is a non-empty run of digits.
func NormaliseStrongID(s string) StrongID {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return StrongID(s)
}

// Collection is one gift type on the resale market. Immutable after the catalog query.
type Collection struct {
	ID    string
	Title string
	// ResaleCount is nil when the catalog did not report a count.
	ResaleCount *int64
}

// HasResaleActivity reports whether the collection is worth scanning.
// An unknown count is treated as active.
func (c Collection) HasResaleActivity() bool {
	return c.ResaleCount == nil || *c.ResaleCount > 0
}

// ModelDescriptor is one visual variant of a collection.
type ModelDescriptor struct {
	Name string
	// RarityPerMille is nil when the registry did not report a rarity.
	RarityPerMille *int64
	StrongID       StrongID
}
