package idgen

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"pulseboard/internal/domain"
)

// TokenID computes a deterministic server-assigned token id.
// Formula: base58(SHA256(category|seq|created_at)), truncated to 32 bytes of
// digest before encoding so ids render mint-address style.
func TokenID(category domain.Category, seq uint64, createdAt int64) string {
	data := fmt.Sprintf("%s|%d|%d", string(category), seq, createdAt)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
