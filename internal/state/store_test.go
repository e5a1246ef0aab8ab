package state

import (
	"testing"

	"pulseboard/internal/domain"
)

func testToken(id string, price float64) *domain.Token {
	return &domain.Token{ID: id, Category: domain.CategoryNewPairs, Price: price, CreatedAt: 1704067200000}
}

func TestStore_VersionBumpsOnEveryWrite(t *testing.T) {
	s := New()
	cat := domain.CategoryNewPairs

	if s.Version(cat) != 0 {
		t.Fatal("fresh store must start at version 0")
	}

	s.ReplaceCategory(cat, []*domain.Token{testToken("a", 1)})
	if s.Version(cat) != 1 {
		t.Errorf("version after replace: got %d, want 1", s.Version(cat))
	}

	s.ApplyPriceUpdate(cat, domain.PriceUpdate{TokenID: "a", Price: 2})
	if s.Version(cat) != 2 {
		t.Errorf("version after update: got %d, want 2", s.Version(cat))
	}

	// Unknown id is a no-op and must not bump the version.
	s.ApplyPriceUpdate(cat, domain.PriceUpdate{TokenID: "ghost", Price: 3})
	if s.Version(cat) != 2 {
		t.Errorf("version bumped by no-op update: got %d", s.Version(cat))
	}

	// Other categories keep independent versions.
	if s.Version(domain.CategoryMigrated) != 0 {
		t.Error("unrelated category version changed")
	}
}

func TestStore_StatusTransitions(t *testing.T) {
	s := New()

	if s.Status() != domain.StatusDisconnected {
		t.Fatalf("initial status: got %s", s.Status())
	}

	s.SetStatus(domain.StatusConnecting)
	s.SetStatus(domain.StatusConnected)

	if s.Status() != domain.StatusConnected {
		t.Errorf("status: got %s, want connected", s.Status())
	}
}

func TestStore_SortConfigValidation(t *testing.T) {
	s := New()
	cat := domain.CategoryNewPairs

	def := s.SortConfig(cat)
	if def.SortBy != domain.SortByCreatedAt || def.SortOrder != domain.SortDesc {
		t.Fatalf("unexpected default sort config: %+v", def)
	}

	s.SetSortConfig(cat, domain.SortConfig{SortBy: "bogus", SortOrder: domain.SortAsc})
	if s.SortConfig(cat) != def {
		t.Error("invalid sort key accepted")
	}

	want := domain.SortConfig{SortBy: domain.SortByMarketCap, SortOrder: domain.SortAsc}
	s.SetSortConfig(cat, want)
	if s.SortConfig(cat) != want {
		t.Errorf("sort config not applied: got %+v", s.SortConfig(cat))
	}
}

func TestStore_RemoveAndReinsertRestoresOrder(t *testing.T) {
	s := New()
	cat := domain.CategoryNewPairs
	s.ReplaceCategory(cat, []*domain.Token{testToken("a", 1), testToken("b", 2), testToken("c", 3)})

	removed, idx, ok := s.RemoveToken(cat, "b")
	if !ok || idx != 1 {
		t.Fatalf("remove failed: ok=%v idx=%d", ok, idx)
	}

	s.InsertTokenAt(cat, removed, idx)

	tokens := s.Tokens(cat)
	if len(tokens) != 3 || tokens[1].ID != "b" {
		t.Fatalf("reinsert did not restore order: %+v", tokens)
	}
}

func TestStore_ReplaceIDFollowsSelection(t *testing.T) {
	s := New()
	cat := domain.CategoryNewPairs
	s.ReplaceCategory(cat, []*domain.Token{testToken("pending-1", 1)})
	s.Select("pending-1")

	s.ReplaceID(cat, "pending-1", testToken("SrvId", 1))

	if s.SelectedID() != "SrvId" {
		t.Errorf("selection did not follow id swap: got %s", s.SelectedID())
	}
}

func TestStore_SetTokenRestoresValue(t *testing.T) {
	s := New()
	cat := domain.CategoryNewPairs
	orig := testToken("a", 1)
	orig.MarketCap = 500
	s.ReplaceCategory(cat, []*domain.Token{orig})

	s.UpdatePrice(cat, "a", 99)
	if !s.SetToken(cat, *orig) {
		t.Fatal("SetToken failed")
	}

	got := s.Tokens(cat)[0]
	if got.Price != 1 || got.MarketCap != 500 {
		t.Errorf("token not restored: %+v", got)
	}
}
