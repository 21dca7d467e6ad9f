package models

import "github.com/shopspring/decimal"

// Listing is one resale offer resolved from a feed page. It only lives for
// the duration of a scan pass.
type Listing struct {
	ID        string
	Price     *decimal.Decimal
	StrongID  StrongID
	ModelName string
	// Position is the zero-based index of the listing in the feed.
	Position int
}

// Priced reports whether a usable price was found on the listing.
func (l Listing) Priced() bool {
	return l.Price != nil && l.Price.IsPositive()
}
