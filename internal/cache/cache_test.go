package cache

import (
	"testing"

	"pulseboard/internal/domain"
)

func testToken(id string, category domain.Category, price float64) *domain.Token {
	return &domain.Token{
		ID:        id,
		Category:  category,
		Symbol:    "TST",
		Price:     price,
		CreatedAt: 1704067200000,
	}
}

func TestCache_ReplaceCategoryClearsStaleness(t *testing.T) {
	c := New()

	if !c.IsStale(domain.CategoryNewPairs) {
		t.Fatal("fresh cache must start stale")
	}

	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
	})

	if c.IsStale(domain.CategoryNewPairs) {
		t.Error("category should not be stale after replace")
	}
	if c.IsStale(domain.CategoryMigrated) == false {
		t.Error("other categories must keep independent staleness")
	}

	tokens := c.Tokens(domain.CategoryNewPairs)
	if len(tokens) != 1 || tokens[0].ID != "a" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestCache_TokensReturnsCopies(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
	})

	got := c.Tokens(domain.CategoryNewPairs)
	got[0].Price = 999

	again := c.Tokens(domain.CategoryNewPairs)
	if again[0].Price != 1 {
		t.Error("external mutation leaked into cache")
	}
}

func TestCache_FindTokenScansCategories(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryMigrated, []*domain.Token{
		testToken("m1", domain.CategoryMigrated, 5),
	})

	tok, category, ok := c.FindToken("m1")
	if !ok {
		t.Fatal("expected to find token")
	}
	if category != domain.CategoryMigrated {
		t.Errorf("category mismatch: got %s", category)
	}
	if tok.Price != 5 {
		t.Errorf("price mismatch: got %f", tok.Price)
	}

	if _, _, ok := c.FindToken("missing"); ok {
		t.Error("found a token that does not exist")
	}
}

func TestCache_SnapshotRestoreExactValue(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
		testToken("b", domain.CategoryNewPairs, 2),
	})

	snap, ok := c.Snapshot(domain.CategoryNewPairs, "b")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Index != 1 || snap.Token.Price != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// Optimistic overwrite, then rollback.
	c.UpdatePrice(domain.CategoryNewPairs, "b", 99)
	c.Restore(domain.CategoryNewPairs, snap)

	tokens := c.Tokens(domain.CategoryNewPairs)
	if tokens[1].Price != 2 {
		t.Errorf("restore did not recover snapshot value: got %f", tokens[1].Price)
	}
}

func TestCache_RestoreReinsertsRemovedToken(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
		testToken("b", domain.CategoryNewPairs, 2),
		testToken("c", domain.CategoryNewPairs, 3),
	})

	removed, idx, ok := c.RemoveToken(domain.CategoryNewPairs, "b")
	if !ok || idx != 1 {
		t.Fatalf("remove failed: ok=%v idx=%d", ok, idx)
	}

	c.Restore(domain.CategoryNewPairs, &Snapshot{Token: *removed, Index: idx})

	tokens := c.Tokens(domain.CategoryNewPairs)
	if len(tokens) != 3 || tokens[1].ID != "b" {
		t.Fatalf("token not reinserted at original position: %+v", tokens)
	}
}

func TestCache_ReplaceIDPreservesPosition(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
		testToken("pending-123", domain.CategoryNewPairs, 2),
		testToken("c", domain.CategoryNewPairs, 3),
	})

	server := testToken("SrvId999", domain.CategoryNewPairs, 2)
	if !c.ReplaceID(domain.CategoryNewPairs, "pending-123", server) {
		t.Fatal("ReplaceID failed")
	}

	tokens := c.Tokens(domain.CategoryNewPairs)
	if tokens[1].ID != "SrvId999" {
		t.Errorf("expected server id at position 1, got %s", tokens[1].ID)
	}
}

func TestCache_ApplyPriceUpdateUnknownIDNoop(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
	})

	applied := c.ApplyPriceUpdate(domain.CategoryNewPairs, domain.PriceUpdate{
		TokenID: "ghost", Price: 42,
	})
	if applied {
		t.Error("update for unknown id must not apply")
	}

	tokens := c.Tokens(domain.CategoryNewPairs)
	if tokens[0].Price != 1 {
		t.Error("existing token mutated by unknown-id update")
	}
}

func TestCache_ApplyPriceUpdateTouchesOnlyPriceFields(t *testing.T) {
	c := New()
	tok := testToken("a", domain.CategoryNewPairs, 1)
	tok.MarketCap = 1000
	tok.Holders = 50
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{tok})

	c.ApplyPriceUpdate(domain.CategoryNewPairs, domain.PriceUpdate{
		TokenID:       "a",
		Price:         2,
		PriceChange1m: 1.5,
		PriceChange5m: -2.5,
	})

	got := c.Tokens(domain.CategoryNewPairs)[0]
	if got.Price != 2 || got.PriceChange1m != 1.5 || got.PriceChange5m != -2.5 {
		t.Errorf("price fields not applied: %+v", got)
	}
	if got.MarketCap != 1000 || got.Holders != 50 {
		t.Errorf("non-price fields mutated: %+v", got)
	}
}

func TestCache_ClearDiscardsAndMarksStale(t *testing.T) {
	c := New()
	c.ReplaceCategory(domain.CategoryNewPairs, []*domain.Token{
		testToken("a", domain.CategoryNewPairs, 1),
	})

	c.Clear(domain.CategoryNewPairs)

	if got := c.Tokens(domain.CategoryNewPairs); len(got) != 0 {
		t.Errorf("expected empty collection, got %d tokens", len(got))
	}
	if !c.IsStale(domain.CategoryNewPairs) {
		t.Error("cleared category must be stale")
	}
}
