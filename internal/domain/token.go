package domain

// Category partitions tokens by lifecycle stage.
// A token id belongs to exactly one category for its lifetime.
type Category string

// Token categories.
const (
	CategoryNewPairs     Category = "new-pairs"
	CategoryFinalStretch Category = "final-stretch"
	CategoryMigrated     Category = "migrated"
)

// Categories returns all categories in fixed display order.
func Categories() []Category {
	return []Category{CategoryNewPairs, CategoryFinalStretch, CategoryMigrated}
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryNewPairs, CategoryFinalStretch, CategoryMigrated:
		return true
	}
	return false
}

// Token represents a tradeable token tracked by the dashboard core.
type Token struct {
	ID            string   `json:"id"`            // unique, server-assigned (base58) or placeholder (uuid)
	Category      Category `json:"category"`      // immutable after creation
	Symbol        string   `json:"symbol"`        // ticker symbol
	Name          string   `json:"name"`          // display name
	Price         float64  `json:"price"`         // last known price
	PriceChange1m float64  `json:"priceChange1m"` // percent change, 1 minute window
	PriceChange5m float64  `json:"priceChange5m"` // percent change, 5 minute window
	PriceChange1h float64  `json:"priceChange1h"` // percent change, 1 hour window
	MarketCap     float64  `json:"marketCap"`
	Liquidity     float64  `json:"liquidity"`
	Volume24h     float64  `json:"volume24h"`
	CreatedAt     int64    `json:"createdAt"` // Unix timestamp in milliseconds
	Holders       int64    `json:"holders"`
}

// PriceUpdate is a price delta for an existing token.
// It is never a creation: applying it to an unknown id is a no-op.
type PriceUpdate struct {
	TokenID       string  `json:"tokenId"`
	Price         float64 `json:"price"`
	PriceChange1m float64 `json:"priceChange1m"`
	PriceChange5m float64 `json:"priceChange5m"`
	Timestamp     int64   `json:"timestamp"` // Unix timestamp in milliseconds
}

// AppliedUpdate is a PriceUpdate that was resolved to a category and applied
// to both stores. It is the unit archived to the price history sink.
type AppliedUpdate struct {
	TokenID       string
	Category      Category
	Price         float64
	PriceChange1m float64
	PriceChange5m float64
	Timestamp     int64
}
