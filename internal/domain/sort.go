package domain

// SortKey names a sortable Token field.
type SortKey string

// Sortable token fields.
const (
	SortByPrice         SortKey = "price"
	SortByPriceChange1m SortKey = "priceChange1m"
	SortByPriceChange5m SortKey = "priceChange5m"
	SortByPriceChange1h SortKey = "priceChange1h"
	SortByMarketCap     SortKey = "marketCap"
	SortByLiquidity     SortKey = "liquidity"
	SortByVolume24h     SortKey = "volume24h"
	SortByCreatedAt     SortKey = "createdAt"
	SortByHolders       SortKey = "holders"
)

// SortKeys returns all sortable fields.
func SortKeys() []SortKey {
	return []SortKey{
		SortByPrice,
		SortByPriceChange1m,
		SortByPriceChange5m,
		SortByPriceChange1h,
		SortByMarketCap,
		SortByLiquidity,
		SortByVolume24h,
		SortByCreatedAt,
		SortByHolders,
	}
}

// ValidSortKey reports whether k is a known sort key.
func ValidSortKey(k SortKey) bool {
	for _, key := range SortKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// SortOrder is the sort direction.
type SortOrder string

// Sort directions.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortConfig is the per-category sort configuration.
type SortConfig struct {
	SortBy    SortKey   `json:"sortBy"`
	SortOrder SortOrder `json:"sortOrder"`
}

// DefaultSortConfig is the initial sort for every category: newest first.
func DefaultSortConfig() SortConfig {
	return SortConfig{SortBy: SortByCreatedAt, SortOrder: SortDesc}
}
